package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the retention job.
type Metrics struct {
	RunsTotal   prometheus.Counter
	RunsFailed  prometheus.Counter
	RowsPruned  prometheus.Counter
	RunDuration prometheus.Histogram
}

// NewMetrics creates and registers retention metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		RunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mayu",
			Subsystem: "retention",
			Name:      "runs_total",
			Help:      "Total welcome history retention runs.",
		}),
		RunsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mayu",
			Subsystem: "retention",
			Name:      "runs_failed_total",
			Help:      "Retention runs that returned an error.",
		}),
		RowsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mayu",
			Subsystem: "retention",
			Name:      "rows_pruned_total",
			Help:      "Welcome history rows removed by retention.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mayu",
			Subsystem: "retention",
			Name:      "run_duration_seconds",
			Help:      "Duration of a retention run.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.RunsTotal, m.RunsFailed, m.RowsPruned, m.RunDuration)
	return m
}
