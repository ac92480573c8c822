// Package protocol defines the Discord gateway wire types.
// Every frame exchanged with the gateway is a JSON-encoded Envelope.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Opcode identifies the kind of envelope on the gateway connection.
type Opcode int

const (
	// Gateway → Client
	OpDispatch       Opcode = 0
	OpReconnect      Opcode = 7
	OpInvalidSession Opcode = 9
	OpHello          Opcode = 10
	OpHeartbeatAck   Opcode = 11

	// Bidirectional
	OpHeartbeat Opcode = 1

	// Client → Gateway
	OpIdentify Opcode = 2
)

func (o Opcode) String() string {
	switch o {
	case OpDispatch:
		return "dispatch"
	case OpHeartbeat:
		return "heartbeat"
	case OpIdentify:
		return "identify"
	case OpReconnect:
		return "reconnect"
	case OpInvalidSession:
		return "invalid_session"
	case OpHello:
		return "hello"
	case OpHeartbeatAck:
		return "heartbeat_ack"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Dispatch event names handled by the client.
const (
	EventReady          = "READY"
	EventGuildMemberAdd = "GUILD_MEMBER_ADD"
)

// ErrMalformedEnvelope is returned by Decode when a frame is not a valid envelope.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is one gateway message. Sequence and Event are only set on dispatches.
type Envelope struct {
	Op       Opcode          `json:"op"`
	Data     json.RawMessage `json:"d"`
	Sequence *int64          `json:"s,omitempty"`
	Event    string          `json:"t,omitempty"`
}

// wireEnvelope distinguishes a missing op from op 0 (dispatch).
type wireEnvelope struct {
	Op       *Opcode         `json:"op"`
	Data     json.RawMessage `json:"d"`
	Sequence *int64          `json:"s"`
	Event    *string         `json:"t"`
}

// Decode parses a text frame into an Envelope.
// Unknown opcodes decode successfully; only invalid JSON or a missing op fail.
func Decode(frame []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(frame, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if w.Op == nil {
		return nil, fmt.Errorf("%w: missing op", ErrMalformedEnvelope)
	}
	env := &Envelope{
		Op:       *w.Op,
		Data:     w.Data,
		Sequence: w.Sequence,
	}
	if w.Event != nil {
		env.Event = *w.Event
	}
	return env, nil
}

// Encode serializes an Envelope to its wire text form.
func Encode(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", env.Op, err)
	}
	return data, nil
}

// DecodeData unmarshals the envelope's d field into target.
func (e *Envelope) DecodeData(target any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s envelope has no data", e.Op)
	}
	return json.Unmarshal(e.Data, target)
}

func newEnvelope(op Opcode, payload any) (*Envelope, error) {
	env := &Envelope{Op: op}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	return env, nil
}
