package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAPIBaseURL   = "https://discord.com/api/v10"
	usernamePlaceholder = "{{USERNAME}}"

	welcomeTitle  = "Welcome to the Server!"
	welcomeColor  = 0x3498db
	welcomeFooter = "Powered by Mayu"
)

// Embed is a Discord rich message object.
type Embed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Timestamp   string         `json:"timestamp"`
	Footer      EmbedFooter    `json:"footer"`
	Thumbnail   EmbedThumbnail `json:"thumbnail"`
}

// EmbedFooter is the footer block of an Embed.
type EmbedFooter struct {
	Text string `json:"text"`
}

// EmbedThumbnail is the thumbnail block of an Embed.
type EmbedThumbnail struct {
	URL string `json:"url"`
}

type createMessageRequest struct {
	Embeds []Embed `json:"embeds"`
}

// DiscordOption configures a DiscordSender.
type DiscordOption func(*DiscordSender)

// WithAPIBaseURL overrides the REST API base URL (used in tests).
func WithAPIBaseURL(u string) DiscordOption {
	return func(s *DiscordSender) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) DiscordOption {
	return func(s *DiscordSender) { s.httpClient = c }
}

// WithClock overrides the embed timestamp source.
func WithClock(now func() time.Time) DiscordOption {
	return func(s *DiscordSender) { s.now = now }
}

// DiscordSender posts the welcome embed into a channel through the REST API.
// Uses the same bot token as the gateway session.
type DiscordSender struct {
	botToken   string
	channelID  string
	template   string
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
	logger     *slog.Logger
}

// NewDiscordSender creates a Discord channel message sender.
func NewDiscordSender(botToken, channelID, template string, logger *slog.Logger, opts ...DiscordOption) *DiscordSender {
	s := &DiscordSender{
		botToken:  botToken,
		channelID: channelID,
		template:  template,
		baseURL:   defaultAPIBaseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *DiscordSender) Type() string { return "discord" }

// WelcomeEmbed renders the welcome embed for a member.
func (s *DiscordSender) WelcomeEmbed(m MemberJoined) Embed {
	return Embed{
		Title:       welcomeTitle,
		Description: strings.Replace(s.template, usernamePlaceholder, m.Username, 1),
		Color:       welcomeColor,
		Timestamp:   s.now().UTC().Format(time.RFC3339Nano),
		Footer:      EmbedFooter{Text: welcomeFooter},
		Thumbnail:   EmbedThumbnail{URL: m.AvatarURL()},
	}
}

func (s *DiscordSender) Send(ctx context.Context, m MemberJoined) error {
	body, err := json.Marshal(createMessageRequest{Embeds: []Embed{s.WelcomeEmbed(m)}})
	if err != nil {
		return fmt.Errorf("encoding embed: %w", err)
	}

	endpoint := fmt.Sprintf("%s/channels/%s/messages", s.baseURL, s.channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+s.botToken)
	req.Header.Set("User-Agent", "DiscordBot (https://github.com/jkaninda/mayu, 1.0)")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord API returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
