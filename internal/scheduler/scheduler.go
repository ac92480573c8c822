// Package scheduler runs the welcome history retention job on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner deletes history rows created before a cutoff.
type Pruner interface {
	PruneDeliveries(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config configures the retention job.
type Config struct {
	Schedule string        // Cron expression or descriptor such as "@daily".
	MaxAge   time.Duration // Rows older than this are pruned.
}

// Retention prunes the welcome history on a schedule.
type Retention struct {
	pruner  Pruner
	cfg     Config
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
	sched   cron.Schedule
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewRetention validates the schedule and creates a retention job. metrics may be nil.
func NewRetention(p Pruner, cfg Config, metrics *Metrics, logger *slog.Logger) (*Retention, error) {
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("retention max age must be positive, got %s", cfg.MaxAge)
	}
	spec := cfg.Schedule
	if !strings.HasPrefix(spec, "TZ=") && !strings.HasPrefix(spec, "CRON_TZ=") {
		spec = "CRON_TZ=UTC " + spec
	}
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing retention schedule %q: %w", cfg.Schedule, err)
	}
	return &Retention{
		pruner:  p,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
		sched:   sched,
	}, nil
}

// Next returns the next run time after t.
func (r *Retention) Next(t time.Time) time.Time {
	return r.sched.Next(t)
}

// Start runs the job on its schedule until ctx is done or the returned stop
// function is called. Stop waits for a running prune to finish.
func (r *Retention) Start(ctx context.Context) func() {
	c := cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC))
	c.Schedule(r.sched, cron.FuncJob(func() {
		_, _ = r.RunOnce(ctx)
	}))
	c.Start()

	r.logger.Info("retention job scheduled",
		slog.String("schedule", r.cfg.Schedule),
		slog.Duration("max_age", r.cfg.MaxAge),
		slog.Time("next_run", r.Next(r.now().UTC())),
	)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			<-c.Stop().Done()
			r.logger.Info("retention job stopped")
		})
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
	return stop
}

// RunOnce prunes rows older than MaxAge and returns how many were removed.
func (r *Retention) RunOnce(ctx context.Context) (int64, error) {
	start := r.now()
	cutoff := start.UTC().Add(-r.cfg.MaxAge)

	deleted, err := r.pruner.PruneDeliveries(ctx, cutoff)
	if r.metrics != nil {
		r.metrics.RunsTotal.Inc()
		r.metrics.RunDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if r.metrics != nil {
			r.metrics.RunsFailed.Inc()
		}
		r.logger.Error("retention run failed", slog.String("error", err.Error()))
		return 0, err
	}

	if r.metrics != nil {
		r.metrics.RowsPruned.Add(float64(deleted))
	}
	r.logger.Info("welcome history pruned",
		slog.Int64("deleted", deleted),
		slog.Time("cutoff", cutoff),
	)
	return deleted, nil
}
