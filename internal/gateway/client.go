// Package gateway maintains the Discord gateway session: the websocket
// transport, the session state machine, heartbeats and reconnect backoff.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jkaninda/mayu/internal/notification"
	"github.com/jkaninda/mayu/internal/observability"
	"github.com/jkaninda/mayu/internal/protocol"
)

const defaultSendQueue = 16

// Notifier receives member joins for the target guild. Enqueue must not block.
type Notifier interface {
	Enqueue(m notification.MemberJoined) bool
}

// ClientConfig configures the gateway client.
type ClientConfig struct {
	URL       string
	Machine   MachineConfig
	Policy    ReconnectPolicy
	SendQueue int
}

// Status is a point-in-time view of the session for status endpoints.
type Status struct {
	Session
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	LastHeartbeatAck  time.Time     `json:"last_heartbeat_ack,omitzero"`
	ConnectedAt       time.Time     `json:"connected_at,omitzero"`
}

type eventKind int

const (
	eventOpened eventKind = iota
	eventFrame
	eventTransportError
	eventReconnect
)

// event is one input for the client loop, tagged with the connection or
// reconnect generation it belongs to.
type event struct {
	kind      eventKind
	gen       uint64
	transport Transport
	frame     []byte
	err       error
}

type connection struct {
	ctx       context.Context
	cancel    context.CancelFunc
	transport Transport
	sendq     chan []byte
}

// Client runs one gateway session and reconnects it until the backoff ceiling.
type Client struct {
	cfg      ClientConfig
	dialer   Dialer
	notifier Notifier
	metrics  *observability.MetricsCollector
	logger   *slog.Logger

	machine *Machine
	hb      *heartbeater
	events  chan event
	ticks   chan uint64

	// Loop-owned state.
	conn           *connection
	connGen        uint64
	reconnectGen   uint64
	reconnectTimer *time.Timer
	lastPhase      Phase
	lastFiltered   uint64
	lastAck        time.Time
	connectedAt    time.Time

	status atomic.Pointer[Status]
}

// NewClient creates a gateway client. metrics may be nil.
func NewClient(cfg ClientConfig, dialer Dialer, notifier Notifier, metrics *observability.MetricsCollector, logger *slog.Logger) *Client {
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = defaultSendQueue
	}
	ticks := make(chan uint64, 1)
	c := &Client{
		cfg:      cfg,
		dialer:   dialer,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		machine:  NewMachine(cfg.Machine, logger),
		hb:       newHeartbeater(ticks),
		events:   make(chan event, 16),
		ticks:    ticks,
	}
	c.publish()
	return c
}

// Status returns the latest session snapshot. Safe for concurrent use.
func (c *Client) Status() Status {
	if s := c.status.Load(); s != nil {
		return *s
	}
	return Status{}
}

// CheckActive reports an error unless the session is Active.
func (c *Client) CheckActive(_ context.Context) error {
	if phase := c.Status().Phase; phase != PhaseActive {
		return fmt.Errorf("gateway session %s", phase)
	}
	return nil
}

// Run connects and serves the session until ctx is cancelled or the reconnect
// ceiling is exceeded, in which case the error wraps ErrReconnectCeiling.
// All state machine transitions happen on the calling goroutine.
func (c *Client) Run(ctx context.Context) error {
	defer c.shutdown()

	c.connect(ctx)
	c.publish()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case gen := <-c.ticks:
			if !c.hb.Current(gen) {
				continue
			}
			if err := c.apply(ctx, c.machine.Beat()); err != nil {
				return err
			}
		case ev := <-c.events:
			if err := c.handle(ctx, ev); err != nil {
				return err
			}
		}
		c.publish()
	}
}

func (c *Client) connect(ctx context.Context) {
	if err := c.machine.Connect(); err != nil {
		c.logger.Error("cannot start connection", slog.String("error", err.Error()))
		return
	}
	c.connGen++
	gen := c.connGen
	c.logger.Info("connecting to gateway", slog.String("url", c.cfg.URL))

	go func() {
		t, err := c.dialer.Dial(ctx, c.cfg.URL)
		if err != nil {
			c.post(ctx, event{kind: eventTransportError, gen: gen, err: err})
			return
		}
		if !c.post(ctx, event{kind: eventOpened, gen: gen, transport: t}) {
			_ = t.Close("shutting down")
		}
	}()
}

func (c *Client) handle(ctx context.Context, ev event) error {
	switch ev.kind {
	case eventOpened:
		if ev.gen != c.connGen {
			go func() { _ = ev.transport.Close("superseded") }()
			return nil
		}
		if err := c.machine.Opened(); err != nil {
			c.logger.Warn("unexpected transport open", slog.String("error", err.Error()))
			go func() { _ = ev.transport.Close("unexpected open") }()
			return nil
		}
		c.open(ctx, ev.gen, ev.transport)
		return nil

	case eventFrame:
		if ev.gen != c.connGen || c.conn == nil {
			return nil
		}
		env, err := protocol.Decode(ev.frame)
		if err != nil {
			c.logger.Warn("malformed gateway frame", slog.String("error", err.Error()))
			return c.apply(ctx, c.machine.Close(ReasonMalformedFrame, err))
		}
		c.observe(env)
		return c.apply(ctx, c.machine.Handle(env))

	case eventTransportError:
		if ev.gen != c.connGen {
			return nil
		}
		return c.apply(ctx, c.machine.Close(ReasonTransportError, ev.err))

	case eventReconnect:
		if ev.gen != c.reconnectGen {
			return nil
		}
		c.reconnectTimer = nil
		c.connect(ctx)
		return nil
	}
	return nil
}

func (c *Client) open(ctx context.Context, gen uint64, t Transport) {
	connCtx, cancel := context.WithCancel(ctx)
	conn := &connection{
		ctx:       connCtx,
		cancel:    cancel,
		transport: t,
		sendq:     make(chan []byte, c.cfg.SendQueue),
	}
	c.conn = conn

	go c.readLoop(conn, gen)
	go c.writeLoop(conn, gen)
}

func (c *Client) readLoop(conn *connection, gen uint64) {
	for {
		data, err := conn.transport.Read(conn.ctx)
		if err != nil {
			if conn.ctx.Err() == nil {
				c.post(conn.ctx, event{kind: eventTransportError, gen: gen, err: err})
			}
			return
		}
		if !c.post(conn.ctx, event{kind: eventFrame, gen: gen, frame: data}) {
			return
		}
	}
}

func (c *Client) writeLoop(conn *connection, gen uint64) {
	for {
		select {
		case <-conn.ctx.Done():
			return
		case data := <-conn.sendq:
			if err := conn.transport.Write(conn.ctx, data); err != nil {
				if conn.ctx.Err() == nil {
					c.post(conn.ctx, event{kind: eventTransportError, gen: gen, err: fmt.Errorf("write: %w", err)})
				}
				return
			}
		}
	}
}

// post delivers ev to the loop unless ctx ends first.
func (c *Client) post(ctx context.Context, ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// apply performs effects in order. It returns an error only when the
// reconnect ceiling is exceeded.
func (c *Client) apply(ctx context.Context, effects []Effect) error {
	for _, e := range effects {
		switch e := e.(type) {
		case Send:
			c.send(e.Envelope)
		case StartHeartbeat:
			if c.conn != nil {
				c.hb.Start(c.conn.ctx, e.Interval)
				c.logger.Debug("heartbeat started", slog.Duration("interval", e.Interval))
			}
		case StopHeartbeat:
			c.hb.Stop()
		case Notify:
			c.notifier.Enqueue(e.Member)
		case CloseTransport:
			c.teardown(e.Reason, e.Err)
			if err := c.scheduleReconnect(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Client) send(env *protocol.Envelope) {
	if c.conn == nil {
		return
	}
	data, err := protocol.Encode(env)
	if err != nil {
		c.logger.Error("encoding envelope", slog.String("error", err.Error()))
		return
	}
	select {
	case c.conn.sendq <- data:
	default:
		c.logger.Warn("send queue full, dropping envelope", slog.String("op", env.Op.String()))
		return
	}

	switch env.Op {
	case protocol.OpIdentify:
		c.logger.Info("sent identify")
	case protocol.OpHeartbeat:
		if c.metrics != nil {
			c.metrics.HeartbeatsSentTotal.Inc()
		}
	}
}

func (c *Client) teardown(reason string, cause error) {
	attrs := []any{slog.String("reason", reason)}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	c.logger.Warn("gateway session closed", attrs...)

	if c.metrics != nil {
		c.metrics.GatewayReconnectsTotal.WithLabelValues(reason).Inc()
	}

	// Events still in flight from this connection become stale.
	c.connGen++
	c.connectedAt = time.Time{}
	if c.conn == nil {
		return
	}
	conn := c.conn
	c.conn = nil
	go func() {
		_ = conn.transport.Close(reason)
		conn.cancel()
	}()
}

func (c *Client) scheduleReconnect(ctx context.Context) error {
	attempts := c.machine.Session().ReconnectAttempts
	delay, err := c.cfg.Policy.Next(attempts)
	if err != nil {
		c.logger.Error("giving up on gateway", slog.String("error", err.Error()))
		return err
	}

	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectGen++
	gen := c.reconnectGen
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.post(ctx, event{kind: eventReconnect, gen: gen})
	})

	c.logger.Warn("disconnected from gateway, reconnecting",
		slog.Duration("backoff", delay),
		slog.Int("attempt", attempts),
		slog.Int("max_attempts", c.cfg.Policy.MaxAttempts),
	)
	return nil
}

// observe records per-opcode logs and metrics before the machine sees env.
func (c *Client) observe(env *protocol.Envelope) {
	switch env.Op {
	case protocol.OpHeartbeatAck:
		c.lastAck = time.Now()
		c.logger.Debug("heartbeat acknowledged")
		if c.metrics != nil {
			c.metrics.HeartbeatAcksTotal.Inc()
		}
	case protocol.OpDispatch:
		if c.metrics != nil {
			c.metrics.DispatchesTotal.WithLabelValues(env.Event).Inc()
		}
	case protocol.OpReconnect, protocol.OpInvalidSession:
		c.logger.Info("gateway requested a new session", slog.String("op", env.Op.String()))
	}
}

func (c *Client) shutdown() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.hb.Stop()
	c.reconnectGen++
	c.connGen++
	if c.conn != nil {
		_ = c.conn.transport.Close(ReasonShutdown)
		c.conn.cancel()
		c.conn = nil
	}
}

// publish refreshes the status snapshot and phase-derived metrics.
func (c *Client) publish() {
	s := c.machine.Session()
	phase := s.Phase

	if phase == PhaseActive && c.lastPhase != PhaseActive {
		c.connectedAt = time.Now()
		c.logger.Info("connected to gateway", slog.Bool("ready", s.SessionID != ""))
		if c.metrics != nil {
			c.metrics.GatewayConnectsTotal.Inc()
		}
	}
	c.lastPhase = phase

	if filtered := c.machine.FilteredJoins(); filtered != c.lastFiltered {
		if c.metrics != nil {
			c.metrics.NotificationsFilteredTotal.Add(float64(filtered - c.lastFiltered))
		}
		c.lastFiltered = filtered
	}

	if c.metrics != nil {
		c.metrics.GatewayPhase.Set(float64(phase))
		if s.LastSequence != nil {
			c.metrics.LastSequence.Set(float64(*s.LastSequence))
		}
	}

	c.status.Store(&Status{
		Session:           s,
		HeartbeatInterval: c.hb.Interval(),
		LastHeartbeatAck:  c.lastAck,
		ConnectedAt:       c.connectedAt,
	})
}
