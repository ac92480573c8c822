package gateway

import (
	"context"
	"testing"
	"time"
)

func TestHeartbeater_TicksCarryGeneration(t *testing.T) {
	ticks := make(chan uint64, 4)
	h := newHeartbeater(ticks)
	gen := h.Start(context.Background(), 5*time.Millisecond)
	defer h.Stop()

	select {
	case got := <-ticks:
		if got != gen {
			t.Errorf("tick gen = %d, want %d", got, gen)
		}
		if !h.Current(got) {
			t.Error("tick from running timer should be current")
		}
	case <-time.After(time.Second):
		t.Fatal("no tick received")
	}
}

func TestHeartbeater_RestartInvalidatesPrevious(t *testing.T) {
	h := newHeartbeater(make(chan uint64, 1))
	first := h.Start(context.Background(), time.Hour)
	second := h.Start(context.Background(), time.Hour)
	defer h.Stop()

	if first == second {
		t.Fatal("restart must produce a new generation")
	}
	if h.Current(first) {
		t.Error("superseded generation reported current")
	}
	if !h.Current(second) {
		t.Error("latest generation not current")
	}
}

func TestHeartbeater_StopInvalidates(t *testing.T) {
	ticks := make(chan uint64, 16)
	h := newHeartbeater(ticks)
	gen := h.Start(context.Background(), 2*time.Millisecond)
	h.Stop()

	if h.Current(gen) {
		t.Error("stopped generation reported current")
	}
	if h.Interval() != 0 {
		t.Errorf("interval after stop = %v, want 0", h.Interval())
	}

	// Drain anything emitted before Stop; nothing current may arrive afterwards.
	time.Sleep(20 * time.Millisecond)
	for {
		select {
		case g := <-ticks:
			if h.Current(g) {
				t.Fatalf("current tick %d after Stop", g)
			}
		default:
			return
		}
	}
}
