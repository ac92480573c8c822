package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSender struct {
	name  string
	err   error
	block chan struct{}

	mu   sync.Mutex
	sent []MemberJoined
}

func (f *fakeSender) Type() string { return f.name }

func (f *fakeSender) Send(ctx context.Context, m MemberJoined) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return f.err
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type memoryStore struct {
	mu   sync.Mutex
	rows []Delivery
}

func (s *memoryStore) RecordDelivery(ctx context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, *d)
	return nil
}

func (s *memoryStore) ListDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Delivery, 0, len(s.rows))
	for i := len(s.rows) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.rows[i])
	}
	return out, nil
}

func TestDispatcher_DeliversToAllSenders(t *testing.T) {
	store := &memoryStore{}
	d := NewDispatcher(DispatcherConfig{}, store, discardLogger())
	discord := &fakeSender{name: "discord"}
	webhook := &fakeSender{name: "webhook", err: errors.New("boom")}
	d.RegisterSender(discord)
	d.RegisterSender(webhook)
	d.Start(context.Background())

	if !d.Enqueue(MemberJoined{UserID: "1", Username: "ana"}) {
		t.Fatal("Enqueue returned false on an empty queue")
	}
	d.Close()

	if discord.count() != 1 || webhook.count() != 1 {
		t.Fatalf("sent discord=%d webhook=%d, want 1 each", discord.count(), webhook.count())
	}

	rows, _ := d.History(context.Background(), 10)
	if len(rows) != 2 {
		t.Fatalf("history rows = %d, want 2", len(rows))
	}
	byID := map[string]Delivery{}
	for _, r := range rows {
		byID[r.Sender] = r
	}
	if byID["discord"].Status != StatusSuccess {
		t.Errorf("discord status = %q", byID["discord"].Status)
	}
	if byID["webhook"].Status != StatusFailed || byID["webhook"].Error != "boom" {
		t.Errorf("webhook delivery = %+v", byID["webhook"])
	}
}

func TestDispatcher_EnqueueNeverBlocks(t *testing.T) {
	block := make(chan struct{})
	var dropped int
	d := NewDispatcher(DispatcherConfig{
		QueueSize: 1,
		Workers:   1,
		OnDropped: func(MemberJoined) { dropped++ },
	}, nil, discardLogger())
	sender := &fakeSender{name: "discord", block: block}
	d.RegisterSender(sender)
	d.Start(context.Background())

	// The worker can hold at most one item and the queue one more.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			d.Enqueue(MemberJoined{UserID: "u"})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
	if dropped < 8 {
		t.Errorf("dropped = %d, want at least 8", dropped)
	}

	close(block)
	d.Close()
}

func TestDispatcher_EnqueueAfterClose(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{}, nil, discardLogger())
	d.Start(context.Background())
	d.Close()
	d.Close()
	if d.Enqueue(MemberJoined{}) {
		t.Error("Enqueue after Close should report a drop")
	}
}

func TestDispatcher_DeliveryOutlivesCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(DispatcherConfig{}, nil, discardLogger())
	var sawErr error
	var mu sync.Mutex
	d.RegisterSender(senderFunc{name: "discord", fn: func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		sawErr = ctx.Err()
		return nil
	}})
	d.Start(ctx)
	d.Enqueue(MemberJoined{})
	cancel()
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	if sawErr != nil {
		t.Errorf("delivery context error = %v, want nil", sawErr)
	}
}

type senderFunc struct {
	name string
	fn   func(ctx context.Context) error
}

func (s senderFunc) Type() string { return s.name }
func (s senderFunc) Send(ctx context.Context, _ MemberJoined) error { return s.fn(ctx) }
