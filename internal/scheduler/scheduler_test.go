package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	deleted int64
	err     error
}

func (f *fakePruner) PruneDeliveries(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.deleted, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRetention_Validation(t *testing.T) {
	if _, err := NewRetention(&fakePruner{}, Config{Schedule: "not a schedule", MaxAge: time.Hour}, nil, discardLogger()); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if _, err := NewRetention(&fakePruner{}, Config{Schedule: "@daily"}, nil, discardLogger()); err == nil {
		t.Error("expected error for zero max age")
	}
	for _, expr := range []string{"@daily", "@hourly", "0 3 * * *"} {
		if _, err := NewRetention(&fakePruner{}, Config{Schedule: expr, MaxAge: time.Hour}, nil, discardLogger()); err != nil {
			t.Errorf("schedule %q: %v", expr, err)
		}
	}
}

func TestRetention_Next(t *testing.T) {
	r, err := NewRetention(&fakePruner{}, Config{Schedule: "@daily", MaxAge: time.Hour}, nil, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	from := time.Date(2025, 6, 1, 13, 30, 0, 0, time.UTC)
	if got, want := r.Next(from), time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}
}

func TestRetention_RunOnce(t *testing.T) {
	p := &fakePruner{deleted: 7}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	r, err := NewRetention(p, Config{Schedule: "@daily", MaxAge: 30 * 24 * time.Hour}, metrics, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	deleted, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if deleted != 7 {
		t.Errorf("deleted = %d, want 7", deleted)
	}
	if want := now.Add(-30 * 24 * time.Hour); !p.cutoffs[0].Equal(want) {
		t.Errorf("cutoff = %v, want %v", p.cutoffs[0], want)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	values := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			if c := m.GetCounter(); c != nil {
				values[f.GetName()] = c.GetValue()
			}
		}
	}
	if values["mayu_retention_rows_pruned_total"] != 7 || values["mayu_retention_runs_total"] != 1 {
		t.Errorf("metrics = %v", values)
	}
}

func TestRetention_RunOnceError(t *testing.T) {
	p := &fakePruner{err: errors.New("db locked")}
	r, _ := NewRetention(p, Config{Schedule: "@daily", MaxAge: time.Hour}, NewMetrics(prometheus.NewRegistry()), discardLogger())
	if _, err := r.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRetention_StartStop(t *testing.T) {
	r, _ := NewRetention(&fakePruner{}, Config{Schedule: "@every 1h", MaxAge: time.Hour}, nil, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := r.Start(ctx)
	stop()
	stop()
}

func TestNewMetrics_NilRegistry(t *testing.T) {
	if NewMetrics(nil) != nil {
		t.Error("NewMetrics(nil) should return nil")
	}
}
