package gateway

import (
	"context"
	"sync"
	"time"
)

// heartbeater drives the periodic liveness signal for one connection at a time.
// Every Start bumps a generation; ticks carry the generation they were armed
// under so the client loop can discard ticks from a superseded connection.
type heartbeater struct {
	mu       sync.Mutex
	gen      uint64
	interval time.Duration
	cancel   context.CancelFunc
	ticks    chan<- uint64
}

func newHeartbeater(ticks chan<- uint64) *heartbeater {
	return &heartbeater{ticks: ticks}
}

// Start cancels any running timer and arms a new one at interval.
func (h *heartbeater) Start(ctx context.Context, interval time.Duration) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
	}
	h.gen++
	h.interval = interval
	hbCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	go h.run(hbCtx, h.gen, interval)
	return h.gen
}

// Stop cancels the running timer and invalidates its generation.
func (h *heartbeater) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.gen++
	h.interval = 0
}

// Current reports whether gen belongs to the running timer.
func (h *heartbeater) Current(gen uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancel != nil && gen == h.gen
}

// Interval returns the running cadence, or zero when stopped.
func (h *heartbeater) Interval() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interval
}

func (h *heartbeater) run(ctx context.Context, gen uint64, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case h.ticks <- gen:
			case <-ctx.Done():
				return
			}
		}
	}
}
