package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jkaninda/mayu/internal/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMachine() *Machine {
	return NewMachine(MachineConfig{
		Token:   "tok",
		Intents: protocol.IntentGuildMembers,
		GuildID: "42",
		OS:      "linux",
	}, discardLogger())
}

func frame(t *testing.T, raw string) *protocol.Envelope {
	t.Helper()
	env, err := protocol.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode(%s): %v", raw, err)
	}
	return env
}

// activate drives m from Disconnected to Active.
func activate(t *testing.T, m *Machine) {
	t.Helper()
	if err := m.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.Opened(); err != nil {
		t.Fatalf("Opened: %v", err)
	}
	m.Handle(frame(t, `{"op":10,"d":{"heartbeat_interval":41250}}`))
	m.Handle(frame(t, `{"op":0,"s":1,"t":"READY","d":{"session_id":"sess-1","user":{"id":"1","username":"mayu"}}}`))
	if m.Phase() != PhaseActive {
		t.Fatalf("phase = %s, want active", m.Phase())
	}
}

func heartbeatData(t *testing.T, effects []Effect) string {
	t.Helper()
	if len(effects) != 1 {
		t.Fatalf("effects = %d, want 1", len(effects))
	}
	send, ok := effects[0].(Send)
	if !ok {
		t.Fatalf("effect = %T, want Send", effects[0])
	}
	if send.Envelope.Op != protocol.OpHeartbeat {
		t.Fatalf("op = %s, want heartbeat", send.Envelope.Op)
	}
	data, err := protocol.Encode(send.Envelope)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var wire struct {
		D json.RawMessage `json:"d"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatal(err)
	}
	return string(wire.D)
}

func TestMachine_HelloStartsHeartbeatBeforeIdentify(t *testing.T) {
	m := newTestMachine()
	_ = m.Connect()
	_ = m.Opened()

	if got := m.Beat(); got != nil {
		t.Fatalf("Beat before Hello = %v, want nothing", got)
	}

	effects := m.Handle(frame(t, `{"op":10,"d":{"heartbeat_interval":41250}}`))
	if len(effects) != 2 {
		t.Fatalf("effects = %d, want 2", len(effects))
	}
	hb, ok := effects[0].(StartHeartbeat)
	if !ok {
		t.Fatalf("first effect = %T, want StartHeartbeat", effects[0])
	}
	if hb.Interval != 41250*time.Millisecond {
		t.Errorf("interval = %v", hb.Interval)
	}
	send, ok := effects[1].(Send)
	if !ok || send.Envelope.Op != protocol.OpIdentify {
		t.Fatalf("second effect = %#v, want Send(identify)", effects[1])
	}
	var id protocol.Identify
	if err := send.Envelope.DecodeData(&id); err != nil {
		t.Fatal(err)
	}
	if id.Token != "tok" || id.Intents != 2 || id.Properties.OS != "linux" || id.Properties.Browser != "mayu" {
		t.Errorf("identify = %+v", id)
	}
	if m.Phase() != PhaseIdentifying {
		t.Errorf("phase = %s, want identifying", m.Phase())
	}
}

func TestMachine_HeartbeatEchoesLastSequence(t *testing.T) {
	m := newTestMachine()
	_ = m.Connect()
	_ = m.Opened()
	m.Handle(frame(t, `{"op":10,"d":{"heartbeat_interval":1000}}`))

	if got := heartbeatData(t, m.Beat()); got != "null" {
		t.Errorf("first heartbeat d = %s, want null", got)
	}

	m.Handle(frame(t, `{"op":0,"s":5,"t":"READY","d":{"session_id":"x"}}`))
	m.Handle(frame(t, `{"op":0,"s":9,"t":"TYPING_START","d":{}}`))
	m.Handle(frame(t, `{"op":0,"t":"NO_SEQ","d":{}}`))

	if got := heartbeatData(t, m.Beat()); got != "9" {
		t.Errorf("heartbeat d = %s, want 9", got)
	}
}

func TestMachine_FirstDispatchActivatesAndResetsAttempts(t *testing.T) {
	m := newTestMachine()
	_ = m.Connect()
	m.Close(ReasonTransportError, errors.New("dial failed"))
	_ = m.Connect()
	m.Close(ReasonTransportError, errors.New("dial failed"))
	if got := m.Session().ReconnectAttempts; got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}

	activate(t, m)
	s := m.Session()
	if s.ReconnectAttempts != 0 {
		t.Errorf("attempts after active = %d, want 0", s.ReconnectAttempts)
	}
	if s.SessionID != "sess-1" {
		t.Errorf("session id = %q, want sess-1", s.SessionID)
	}
}

func TestMachine_NotifiesOnlyForTargetGuild(t *testing.T) {
	m := newTestMachine()
	activate(t, m)

	effects := m.Handle(frame(t, `{"op":0,"s":2,"t":"GUILD_MEMBER_ADD","d":{"guild_id":"99","user":{"id":"7","username":"ana"}}}`))
	if len(effects) != 0 {
		t.Errorf("other guild effects = %v, want none", effects)
	}
	if m.FilteredJoins() != 1 {
		t.Errorf("filtered = %d, want 1", m.FilteredJoins())
	}

	effects = m.Handle(frame(t, `{"op":0,"s":3,"t":"GUILD_MEMBER_ADD","d":{"guild_id":"42","joined_at":"2025-01-01T00:00:00Z","user":{"id":"7","username":"ana","discriminator":"0","avatar":"abc"}}}`))
	if len(effects) != 1 {
		t.Fatalf("effects = %d, want 1", len(effects))
	}
	n, ok := effects[0].(Notify)
	if !ok {
		t.Fatalf("effect = %T, want Notify", effects[0])
	}
	if n.Member.UserID != "7" || n.Member.Username != "ana" || n.Member.AvatarHash != "abc" || n.Member.GuildID != "42" {
		t.Errorf("member = %+v", n.Member)
	}
}

func TestMachine_CloseClearsSessionAndStopsHeartbeat(t *testing.T) {
	m := newTestMachine()
	activate(t, m)

	effects := m.Close(ReasonMalformedFrame, protocol.ErrMalformedEnvelope)
	if len(effects) != 2 {
		t.Fatalf("effects = %d, want 2", len(effects))
	}
	if _, ok := effects[0].(StopHeartbeat); !ok {
		t.Errorf("first effect = %T, want StopHeartbeat", effects[0])
	}
	ct, ok := effects[1].(CloseTransport)
	if !ok || ct.Reason != ReasonMalformedFrame {
		t.Errorf("second effect = %#v", effects[1])
	}

	s := m.Session()
	if s.Phase != PhaseDisconnected || s.SessionID != "" || s.ReconnectAttempts != 1 {
		t.Errorf("session after close = %+v", s)
	}
	if m.Beat() != nil {
		t.Error("Beat after close should send nothing")
	}
	if m.Close(ReasonTransportError, nil) != nil {
		t.Error("second Close should be a no-op")
	}
}

func TestMachine_ServerOpcodesForceClose(t *testing.T) {
	for _, raw := range []string{`{"op":7,"d":null}`, `{"op":9,"d":false}`} {
		m := newTestMachine()
		activate(t, m)
		effects := m.Handle(frame(t, raw))
		if len(effects) != 2 || m.Phase() != PhaseDisconnected {
			t.Errorf("%s: effects = %v, phase = %s", raw, effects, m.Phase())
		}
	}
}

func TestMachine_IgnoresAckAndUnknownOpcodes(t *testing.T) {
	m := newTestMachine()
	activate(t, m)
	for _, raw := range []string{`{"op":11}`, `{"op":42,"d":{}}`} {
		if effects := m.Handle(frame(t, raw)); len(effects) != 0 {
			t.Errorf("%s: effects = %v, want none", raw, effects)
		}
	}
	if m.Phase() != PhaseActive {
		t.Errorf("phase = %s, want active", m.Phase())
	}
}

func TestMachine_PeerHeartbeatRequest(t *testing.T) {
	m := newTestMachine()
	activate(t, m)
	if got := heartbeatData(t, m.Handle(frame(t, `{"op":1,"d":null}`))); got != "1" {
		t.Errorf("heartbeat d = %s, want 1", got)
	}
}

func TestMachine_RejectsOutOfOrderHandshake(t *testing.T) {
	m := newTestMachine()
	if err := m.Opened(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Opened from disconnected = %v", err)
	}
	_ = m.Connect()
	if err := m.Connect(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second Connect = %v", err)
	}
	_ = m.Opened()

	if effects := m.Handle(frame(t, `{"op":0,"s":1,"t":"READY","d":{}}`)); len(effects) != 2 {
		t.Errorf("dispatch before hello effects = %v, want close", effects)
	}
	if m.Phase() != PhaseDisconnected {
		t.Errorf("phase = %s, want disconnected", m.Phase())
	}
}

func TestMachine_InvalidHelloCloses(t *testing.T) {
	m := newTestMachine()
	_ = m.Connect()
	_ = m.Opened()
	effects := m.Handle(frame(t, `{"op":10,"d":{"heartbeat_interval":0}}`))
	if len(effects) != 2 {
		t.Fatalf("effects = %v, want close", effects)
	}
	if ct := effects[1].(CloseTransport); !errors.Is(ct.Err, protocol.ErrMalformedEnvelope) {
		t.Errorf("close err = %v", ct.Err)
	}
}

func TestMachine_CeilingCountsConsecutiveFailures(t *testing.T) {
	policy := ReconnectPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	m := newTestMachine()

	fail := func() error {
		_ = m.Connect()
		m.Close(ReasonTransportError, errors.New("boom"))
		_, err := policy.Next(m.Session().ReconnectAttempts)
		return err
	}

	// fail, fail, succeed, fail, fail, fail
	for i := 0; i < 2; i++ {
		if err := fail(); err != nil {
			t.Fatalf("failure %d: %v", i+1, err)
		}
	}
	activate(t, m)
	m.Close(ReasonTransportError, errors.New("dropped"))
	if _, err := policy.Next(m.Session().ReconnectAttempts); err != nil {
		t.Fatalf("after active: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := fail(); err != nil {
			t.Fatalf("post-reset failure %d: %v", i+2, err)
		}
	}
	// A fourth consecutive failure crosses the ceiling.
	if err := fail(); !errors.Is(err, ErrReconnectCeiling) {
		t.Errorf("fourth consecutive failure = %v, want ErrReconnectCeiling", err)
	}
}
