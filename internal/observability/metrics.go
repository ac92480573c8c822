package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for Mayu.
// Uses a custom registry, no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Gateway session metrics.
	GatewayConnectsTotal   prometheus.Counter
	GatewayReconnectsTotal *prometheus.CounterVec
	GatewayPhase           prometheus.Gauge
	HeartbeatsSentTotal    prometheus.Counter
	HeartbeatAcksTotal     prometheus.Counter
	DispatchesTotal        *prometheus.CounterVec
	LastSequence           prometheus.Gauge

	// Notification metrics.
	NotificationDeliveriesTotal  *prometheus.CounterVec
	NotificationDeliveryDuration *prometheus.HistogramVec
	NotificationsDroppedTotal    prometheus.Counter
	NotificationsFilteredTotal   prometheus.Counter

	// Status server metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		GatewayConnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mayu",
			Subsystem: "gateway",
			Name:      "connects_total",
			Help:      "Total gateway sessions that reached the active phase.",
		}),

		GatewayReconnectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mayu",
			Subsystem: "gateway",
			Name:      "reconnects_total",
			Help:      "Total gateway session teardowns, by reason.",
		}, []string{"reason"}),

		GatewayPhase: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mayu",
			Subsystem: "gateway",
			Name:      "phase",
			Help:      "Current session phase (0=disconnected, 1=connecting, 2=awaiting_hello, 3=identifying, 4=active, 5=closing).",
		}),

		HeartbeatsSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mayu",
			Subsystem: "gateway",
			Name:      "heartbeats_sent_total",
			Help:      "Total heartbeats sent to the gateway.",
		}),

		HeartbeatAcksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mayu",
			Subsystem: "gateway",
			Name:      "heartbeat_acks_total",
			Help:      "Total heartbeat acknowledgements received.",
		}),

		DispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mayu",
			Subsystem: "gateway",
			Name:      "dispatches_total",
			Help:      "Total dispatch events received, by event name.",
		}, []string{"event"}),

		LastSequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mayu",
			Subsystem: "gateway",
			Name:      "last_sequence",
			Help:      "Last dispatch sequence number observed.",
		}),

		NotificationDeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mayu",
			Subsystem: "notification",
			Name:      "deliveries_total",
			Help:      "Total welcome deliveries, by sender and status.",
		}, []string{"sender", "status"}),

		NotificationDeliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mayu",
			Subsystem: "notification",
			Name:      "delivery_duration_seconds",
			Help:      "Welcome delivery duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		}, []string{"sender"}),

		NotificationsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mayu",
			Subsystem: "notification",
			Name:      "dropped_total",
			Help:      "Welcome notifications dropped because the queue was full or closed.",
		}),

		NotificationsFilteredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mayu",
			Subsystem: "notification",
			Name:      "filtered_total",
			Help:      "Member join events ignored because they belong to another guild.",
		}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mayu",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total status server requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mayu",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status server request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	reg.MustRegister(
		m.GatewayConnectsTotal,
		m.GatewayReconnectsTotal,
		m.GatewayPhase,
		m.HeartbeatsSentTotal,
		m.HeartbeatAcksTotal,
		m.DispatchesTotal,
		m.LastSequence,
		m.NotificationDeliveriesTotal,
		m.NotificationDeliveryDuration,
		m.NotificationsDroppedTotal,
		m.NotificationsFilteredTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}
