package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/jkaninda/mayu/internal/notification"
	"github.com/jkaninda/mayu/internal/protocol"
)

// Phase is the lifecycle state of a gateway session.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseAwaitingHello
	PhaseIdentifying
	PhaseActive
	PhaseClosing
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseAwaitingHello:
		return "awaiting_hello"
	case PhaseIdentifying:
		return "identifying"
	case PhaseActive:
		return "active"
	case PhaseClosing:
		return "closing"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ErrInvalidTransition is returned when a transition is requested from the wrong phase.
var ErrInvalidTransition = errors.New("invalid session transition")

// Close reasons reported in CloseTransport effects and metrics.
const (
	ReasonTransportError   = "transport_error"
	ReasonMalformedFrame   = "malformed_frame"
	ReasonReconnect        = "reconnect_requested"
	ReasonInvalidSession   = "invalid_session"
	ReasonUnexpectedHello  = "unexpected_hello"
	ReasonProtocolViolated = "protocol_violation"
	ReasonShutdown         = "shutdown"
)

// Session is the state owned by the Machine.
type Session struct {
	Phase             Phase  `json:"phase"`
	LastSequence      *int64 `json:"last_sequence"`
	SessionID         string `json:"session_id,omitempty"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
}

// Effect is an action the Machine asks its runtime to perform.
type Effect interface {
	effect()
}

// Send writes an envelope to the transport.
type Send struct {
	Envelope *protocol.Envelope
}

// StartHeartbeat arms the heartbeat timer at Interval.
type StartHeartbeat struct {
	Interval time.Duration
}

// StopHeartbeat cancels the heartbeat timer.
type StopHeartbeat struct{}

// Notify hands a member join to the notifier.
type Notify struct {
	Member notification.MemberJoined
}

// CloseTransport tears the current connection down.
type CloseTransport struct {
	Reason string
	Err    error
}

func (Send) effect()           {}
func (StartHeartbeat) effect() {}
func (StopHeartbeat) effect()  {}
func (Notify) effect()         {}
func (CloseTransport) effect() {}

// MachineConfig identifies the bot and selects which joins are announced.
type MachineConfig struct {
	Token   string
	Intents int
	GuildID string
	// OS overrides the identify properties os field; runtime.GOOS when empty.
	OS string
}

// Machine is the gateway session state machine. It performs no I/O: every
// transition returns the effects for the caller to apply. Not safe for
// concurrent use; the Client drives it from a single goroutine.
type Machine struct {
	cfg      MachineConfig
	session  Session
	filtered uint64
	logger   *slog.Logger
}

// NewMachine creates a Machine in the Disconnected phase.
func NewMachine(cfg MachineConfig, logger *slog.Logger) *Machine {
	if cfg.OS == "" {
		cfg.OS = runtime.GOOS
	}
	return &Machine{cfg: cfg, logger: logger}
}

// Session returns a copy of the current session state.
func (m *Machine) Session() Session {
	s := m.session
	if s.LastSequence != nil {
		seq := *s.LastSequence
		s.LastSequence = &seq
	}
	return s
}

// FilteredJoins counts member joins ignored because they belong to another guild.
func (m *Machine) FilteredJoins() uint64 { return m.filtered }

// Phase returns the current phase.
func (m *Machine) Phase() Phase { return m.session.Phase }

// Connect begins a connection attempt.
func (m *Machine) Connect() error {
	if m.session.Phase != PhaseDisconnected {
		return fmt.Errorf("%w: connect from %s", ErrInvalidTransition, m.session.Phase)
	}
	m.session.Phase = PhaseConnecting
	m.session.LastSequence = nil
	return nil
}

// Opened records that the transport is open. Nothing is sent until Hello.
func (m *Machine) Opened() error {
	if m.session.Phase != PhaseConnecting {
		return fmt.Errorf("%w: opened from %s", ErrInvalidTransition, m.session.Phase)
	}
	m.session.Phase = PhaseAwaitingHello
	return nil
}

// Handle applies one inbound envelope.
func (m *Machine) Handle(env *protocol.Envelope) []Effect {
	switch m.session.Phase {
	case PhaseAwaitingHello, PhaseIdentifying, PhaseActive:
	default:
		m.logger.Debug("envelope ignored outside a live connection",
			slog.String("op", env.Op.String()),
			slog.String("phase", m.session.Phase.String()),
		)
		return nil
	}

	switch env.Op {
	case protocol.OpHello:
		return m.handleHello(env)
	case protocol.OpDispatch:
		return m.handleDispatch(env)
	case protocol.OpHeartbeat:
		if m.session.Phase == PhaseAwaitingHello {
			return nil
		}
		return []Effect{Send{Envelope: protocol.NewHeartbeat(m.session.LastSequence)}}
	case protocol.OpHeartbeatAck:
		return nil
	case protocol.OpReconnect:
		return m.Close(ReasonReconnect, nil)
	case protocol.OpInvalidSession:
		return m.Close(ReasonInvalidSession, nil)
	default:
		m.logger.Debug("unknown opcode ignored", slog.Int("op", int(env.Op)))
		return nil
	}
}

// Beat produces the periodic heartbeat. Outside Identifying and Active nothing is sent.
func (m *Machine) Beat() []Effect {
	switch m.session.Phase {
	case PhaseIdentifying, PhaseActive:
		return []Effect{Send{Envelope: protocol.NewHeartbeat(m.session.LastSequence)}}
	default:
		return nil
	}
}

// Close tears the session down and counts one failed connection.
// The session passes through Closing and ends in Disconnected.
func (m *Machine) Close(reason string, err error) []Effect {
	if m.session.Phase == PhaseDisconnected {
		return nil
	}
	m.session.Phase = PhaseClosing
	m.session.SessionID = ""
	m.session.ReconnectAttempts++
	effects := []Effect{StopHeartbeat{}, CloseTransport{Reason: reason, Err: err}}
	m.session.Phase = PhaseDisconnected
	return effects
}

func (m *Machine) handleHello(env *protocol.Envelope) []Effect {
	if m.session.Phase != PhaseAwaitingHello {
		return m.Close(ReasonUnexpectedHello, fmt.Errorf("hello received in %s", m.session.Phase))
	}
	hello, err := protocol.DecodeHello(env)
	if err != nil {
		return m.Close(ReasonMalformedFrame, err)
	}
	identify, err := protocol.NewIdentify(protocol.Identify{
		Token:   m.cfg.Token,
		Intents: m.cfg.Intents,
		Properties: protocol.IdentifyProperties{
			OS:      m.cfg.OS,
			Browser: "mayu",
			Device:  "mayu",
		},
	})
	if err != nil {
		return m.Close(ReasonProtocolViolated, err)
	}
	m.session.Phase = PhaseIdentifying
	return []Effect{
		StartHeartbeat{Interval: time.Duration(hello.HeartbeatInterval) * time.Millisecond},
		Send{Envelope: identify},
	}
}

func (m *Machine) handleDispatch(env *protocol.Envelope) []Effect {
	if m.session.Phase == PhaseAwaitingHello {
		return m.Close(ReasonProtocolViolated, fmt.Errorf("dispatch %q before hello", env.Event))
	}
	if m.session.Phase == PhaseIdentifying {
		m.session.Phase = PhaseActive
		m.session.ReconnectAttempts = 0
	}
	if env.Sequence != nil {
		seq := *env.Sequence
		m.session.LastSequence = &seq
	}

	switch env.Event {
	case protocol.EventReady:
		ready, err := protocol.DecodeReady(env)
		if err != nil {
			m.logger.Warn("ignoring undecodable READY", slog.String("error", err.Error()))
			return nil
		}
		m.session.SessionID = ready.SessionID
		m.logger.Info("gateway session ready",
			slog.String("user", ready.User.Username),
			slog.String("session_id", ready.SessionID),
		)
	case protocol.EventGuildMemberAdd:
		add, err := protocol.DecodeMemberAdd(env)
		if err != nil {
			m.logger.Warn("ignoring undecodable GUILD_MEMBER_ADD", slog.String("error", err.Error()))
			return nil
		}
		if add.GuildID != m.cfg.GuildID {
			m.filtered++
			m.logger.Debug("member joined another guild", slog.String("guild_id", add.GuildID))
			return nil
		}
		return []Effect{Notify{Member: memberJoined(add)}}
	}
	return nil
}

func memberJoined(add *protocol.GuildMemberAdd) notification.MemberJoined {
	m := notification.MemberJoined{
		GuildID:       add.GuildID,
		UserID:        add.User.ID,
		Username:      add.User.Username,
		Discriminator: add.User.Discriminator,
		JoinedAt:      add.JoinedAt,
	}
	if add.User.Avatar != nil {
		m.AvatarHash = *add.User.Avatar
	}
	return m
}
