// Package notification delivers welcome notifications for members joining the
// configured guild. The Dispatcher queues member joins and fans them out to the
// registered senders (the Discord channel sender, optionally a webhook mirror)
// on worker goroutines, recording every attempt in the welcome history.
package notification

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Delivery statuses recorded in the welcome history.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

const (
	defaultQueueSize = 64
	defaultWorkers   = 2
	defaultTimeout   = 15 * time.Second
)

// Sender is the interface for a single welcome delivery backend.
type Sender interface {
	// Type returns the sender identifier ("discord", "webhook").
	Type() string
	// Send delivers the welcome for a member.
	Send(ctx context.Context, m MemberJoined) error
}

// Delivery is one recorded delivery attempt.
type Delivery struct {
	ID        uuid.UUID `json:"id"`
	GuildID   string    `json:"guild_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatar_url"`
	Sender    string    `json:"sender"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DeliveryStore persists the welcome history.
type DeliveryStore interface {
	RecordDelivery(ctx context.Context, d *Delivery) error
	ListDeliveries(ctx context.Context, limit int) ([]Delivery, error)
}

// DispatcherConfig tunes the dispatcher queue.
type DispatcherConfig struct {
	QueueSize int
	Workers   int
	Timeout   time.Duration
	// OnDropped is called when a member join is discarded because the queue is full or closed.
	OnDropped func(MemberJoined)
}

// Dispatcher hands member joins to senders without blocking the caller.
// Delivery errors are logged and recorded, never returned to the producer.
type Dispatcher struct {
	cfg     DispatcherConfig
	store   DeliveryStore
	logger  *slog.Logger
	senders []Sender
	queue   chan MemberJoined
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	now     func() time.Time
}

// NewDispatcher creates a dispatcher. store may be nil to disable history.
func NewDispatcher(cfg DispatcherConfig, store DeliveryStore, logger *slog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Dispatcher{
		cfg:    cfg,
		store:  store,
		logger: logger,
		queue:  make(chan MemberJoined, cfg.QueueSize),
		now:    time.Now,
	}
}

// RegisterSender adds a delivery backend. Call before Start.
func (d *Dispatcher) RegisterSender(s Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders = append(d.senders, s)
}

// Start launches the worker goroutines. Workers exit once Close drains the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for m := range d.queue {
				d.deliver(ctx, m)
			}
		}()
	}
}

// Enqueue schedules a welcome for delivery. Never blocks; returns false when
// the member join was dropped.
func (d *Dispatcher) Enqueue(m MemberJoined) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(m, "dispatcher closed")
		return false
	}
	select {
	case d.queue <- m:
		return true
	default:
		d.drop(m, "queue full")
		return false
	}
}

// Close stops accepting work and waits for queued deliveries to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

// History returns the most recent deliveries, newest first.
func (d *Dispatcher) History(ctx context.Context, limit int) ([]Delivery, error) {
	if d.store == nil {
		return nil, nil
	}
	return d.store.ListDeliveries(ctx, limit)
}

func (d *Dispatcher) drop(m MemberJoined, reason string) {
	d.logger.Warn("welcome notification dropped",
		slog.String("reason", reason),
		slog.String("user_id", m.UserID),
		slog.String("username", m.Username),
	)
	if d.cfg.OnDropped != nil {
		d.cfg.OnDropped(m)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, m MemberJoined) {
	d.mu.RLock()
	senders := make([]Sender, len(d.senders))
	copy(senders, d.senders)
	d.mu.RUnlock()

	// Deliveries already dequeued complete even while shutting down.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.Timeout)
	defer cancel()

	for _, s := range senders {
		rec := &Delivery{
			ID:        uuid.New(),
			GuildID:   m.GuildID,
			UserID:    m.UserID,
			Username:  m.Username,
			AvatarURL: m.AvatarURL(),
			Sender:    s.Type(),
			Status:    StatusSuccess,
			CreatedAt: d.now().UTC(),
		}
		if err := s.Send(sendCtx, m); err != nil {
			rec.Status = StatusFailed
			rec.Error = err.Error()
			d.logger.Warn("welcome delivery failed",
				slog.String("sender", s.Type()),
				slog.String("user_id", m.UserID),
				slog.String("error", err.Error()),
			)
		} else {
			d.logger.Info("welcome sent",
				slog.String("sender", s.Type()),
				slog.String("username", m.Username),
			)
		}
		d.record(sendCtx, rec)
	}
}

func (d *Dispatcher) record(ctx context.Context, rec *Delivery) {
	if d.store == nil {
		return
	}
	if err := d.store.RecordDelivery(ctx, rec); err != nil {
		d.logger.Warn("recording welcome delivery",
			slog.String("sender", rec.Sender),
			slog.String("error", err.Error()),
		)
	}
}
