package protocol

import (
	"fmt"
	"strconv"
)

// Gateway intents requested on Identify.
const (
	IntentGuilds       = 1 << 0
	IntentGuildMembers = 1 << 1
)

// --- Gateway → Client payloads ---

// Hello carries the heartbeat cadence. Sent once per connection, before Identify.
type Hello struct {
	HeartbeatInterval int `json:"heartbeat_interval"` // Milliseconds.
}

// Ready is the READY dispatch sent after a successful Identify.
type Ready struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url,omitempty"`
	User             User   `json:"user"`
}

// User is the subset of a Discord user object the bot reads.
type User struct {
	ID            string  `json:"id"`
	Username      string  `json:"username"`
	Discriminator string  `json:"discriminator"`
	Avatar        *string `json:"avatar"`
	Bot           bool    `json:"bot,omitempty"`
}

// GuildMemberAdd is the GUILD_MEMBER_ADD dispatch payload.
type GuildMemberAdd struct {
	GuildID  string `json:"guild_id"`
	User     User   `json:"user"`
	JoinedAt string `json:"joined_at,omitempty"`
}

// DecodeHello extracts and validates Hello parameters.
func DecodeHello(env *Envelope) (*Hello, error) {
	var h Hello
	if err := env.DecodeData(&h); err != nil {
		return nil, fmt.Errorf("%w: hello: %v", ErrMalformedEnvelope, err)
	}
	if h.HeartbeatInterval <= 0 {
		return nil, fmt.Errorf("%w: hello heartbeat_interval %d", ErrMalformedEnvelope, h.HeartbeatInterval)
	}
	return &h, nil
}

// DecodeReady extracts the READY dispatch payload.
func DecodeReady(env *Envelope) (*Ready, error) {
	var r Ready
	if err := env.DecodeData(&r); err != nil {
		return nil, fmt.Errorf("ready: %w", err)
	}
	return &r, nil
}

// DecodeMemberAdd extracts the GUILD_MEMBER_ADD dispatch payload.
func DecodeMemberAdd(env *Envelope) (*GuildMemberAdd, error) {
	var m GuildMemberAdd
	if err := env.DecodeData(&m); err != nil {
		return nil, fmt.Errorf("guild member add: %w", err)
	}
	return &m, nil
}

// --- Client → Gateway payloads ---

// IdentifyProperties is the fixed connection properties block.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// Identify authenticates the connection and declares intents.
type Identify struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties IdentifyProperties `json:"properties"`
}

// NewIdentify builds an Identify envelope.
func NewIdentify(id Identify) (*Envelope, error) {
	return newEnvelope(OpIdentify, id)
}

// NewHeartbeat builds a Heartbeat envelope. A nil sequence encodes as "d": null.
func NewHeartbeat(sequence *int64) *Envelope {
	env := &Envelope{Op: OpHeartbeat}
	if sequence != nil {
		env.Data = []byte(strconv.FormatInt(*sequence, 10))
	}
	return env
}
