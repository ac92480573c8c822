package notification

import (
	"fmt"
	"strconv"
)

const (
	cdnBaseURL         = "https://cdn.discordapp.com"
	defaultAvatarCount = 5
)

// MemberJoined is the notification handed over when a member joins the target guild.
type MemberJoined struct {
	GuildID       string
	UserID        string
	Username      string
	Discriminator string
	AvatarHash    string // Empty when the user has no custom avatar.
	JoinedAt      string
}

// AvatarURL returns the member's avatar, falling back to one of the default avatars.
func (m MemberJoined) AvatarURL() string {
	if m.AvatarHash != "" {
		return fmt.Sprintf("%s/avatars/%s/%s.png?size=128", cdnBaseURL, m.UserID, m.AvatarHash)
	}
	return fmt.Sprintf("%s/embed/avatars/%d.png", cdnBaseURL, DefaultAvatarIndex(m.UserID, m.Discriminator))
}

// DefaultAvatarIndex picks a default avatar variant. Users migrated to unique
// usernames have discriminator "0" and are keyed by their user id instead.
// Unparseable values select variant 0.
func DefaultAvatarIndex(userID, discriminator string) int {
	key := discriminator
	if key == "" || key == "0" {
		key = userID
	}
	n, err := strconv.ParseUint(key, 10, 64)
	if err != nil {
		return 0
	}
	return int(n % defaultAvatarCount)
}
