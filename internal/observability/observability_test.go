package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/jkaninda/mayu/internal/config"
	"github.com/jkaninda/mayu/internal/notification"
)

// --- Facade ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs.Metrics != nil || obs.Tracer != nil || obs.Anomaly != nil {
		t.Fatal("expected all optional components disabled for nil config")
	}
	if obs.Health == nil {
		t.Error("health checker should always be created")
	}
}

func TestNew_MetricsEnabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{
		Metrics: &config.MetricsConfig{Enabled: true},
		Anomaly: &config.AnomalyConfig{Enabled: true, ErrorRateThreshold: 0.5},
	}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs.MetricsOrNil() == nil {
		t.Error("expected metrics collector")
	}
	if obs.Anomaly == nil {
		t.Error("expected anomaly detector")
	}
	if obs.TracerOrNil() != nil {
		t.Error("tracer should be nil when not enabled")
	}
}

func TestObservability_NilSafe(t *testing.T) {
	var obs *Observability
	obs.Shutdown(context.Background())
	if obs.MetricsOrNil() != nil || obs.TracerOrNil() != nil {
		t.Error("expected nil components from nil Observability")
	}
}

func TestTracerSetup_NilYieldsNoop(t *testing.T) {
	var ts *TracerSetup
	_, span := ts.Tracer().Start(context.Background(), "noop")
	span.End()
	if err := ts.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown on nil setup: %v", err)
	}
}

// --- MetricsCollector ---

func TestMetricsCollector_Gather(t *testing.T) {
	m := NewMetricsCollector()

	m.GatewayConnectsTotal.Inc()
	m.GatewayReconnectsTotal.WithLabelValues("transport_error").Inc()
	m.DispatchesTotal.WithLabelValues("GUILD_MEMBER_ADD").Add(2)
	m.NotificationDeliveriesTotal.WithLabelValues("discord", "success").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, expected := range []string{
		"mayu_gateway_connects_total",
		"mayu_gateway_reconnects_total",
		"mayu_gateway_dispatches_total",
		"mayu_gateway_phase",
		"mayu_notification_deliveries_total",
	} {
		if !names[expected] {
			t.Errorf("metric %q not found in registry", expected)
		}
	}

	if got := counterValue(t, m.Registry, "mayu_gateway_dispatches_total", prometheus.Labels{"event": "GUILD_MEMBER_ADD"}); got != 2 {
		t.Errorf("dispatches = %v, want 2", got)
	}
}

// --- HealthChecker ---

func TestHealthChecker_NoChecks(t *testing.T) {
	h := NewHealthChecker(nil)
	if status := h.CheckReady(context.Background()); status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
}

func TestHealthChecker_OneFails(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("gateway", func(ctx context.Context) error { return errors.New("session not active") })
	h.AddCheck("storage", func(ctx context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if status.Checks["gateway"].Status != "fail" || status.Checks["gateway"].Message != "session not active" {
		t.Errorf("gateway check = %+v", status.Checks["gateway"])
	}
	if status.Checks["storage"].Status != "ok" {
		t.Errorf("storage check = %q, want ok", status.Checks["storage"].Status)
	}
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("gateway", func(ctx context.Context) error { return errors.New("down") })
	if status := h.CheckHealth(); status.Status != "ok" {
		t.Errorf("liveness status = %q, want ok", status.Status)
	}
}

// --- AnomalyDetector ---

func TestAnomalyDetector_NilSafe(t *testing.T) {
	var a *AnomalyDetector
	if a.RecordError("test") {
		t.Error("nil detector should never report an anomaly")
	}
	a.RecordSuccess("test")
}

func TestAnomalyDetector_ErrorRateThreshold(t *testing.T) {
	a := NewAnomalyDetector(&config.AnomalyConfig{
		Enabled:            true,
		ErrorRateThreshold: 0.5,
		WindowSeconds:      60,
	}, nil)

	for i := 0; i < 4; i++ {
		a.RecordSuccess("notification.discord")
	}
	// 4 errors / 8 total = 50%, not above threshold.
	for i := 0; i < 4; i++ {
		if a.RecordError("notification.discord") {
			t.Fatalf("unexpected anomaly after %d errors", i+1)
		}
	}
	// 5 / 9 > 50%.
	if !a.RecordError("notification.discord") {
		t.Error("expected anomaly once the error rate exceeds the threshold")
	}
}

func TestAnomalyDetector_WindowExpiry(t *testing.T) {
	now := time.Now()
	a := NewAnomalyDetector(&config.AnomalyConfig{ErrorRateThreshold: 0.1, WindowSeconds: 60}, nil)
	a.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		a.RecordError("op")
	}
	now = now.Add(2 * time.Minute)
	if a.RecordError("op") {
		t.Error("expired errors should not count toward the rate")
	}
}

// --- InstrumentedSender (wrapper) ---

type mockSender struct {
	err    error
	called int
}

func (m *mockSender) Type() string { return "mock" }
func (m *mockSender) Send(ctx context.Context, member notification.MemberJoined) error {
	m.called++
	return m.err
}

func TestInstrumentedSender_Success(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockSender{}

	s := NewInstrumentedSender(inner, metrics, nil, nil)
	if err := s.Send(context.Background(), notification.MemberJoined{UserID: "1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.called != 1 {
		t.Errorf("inner called %d times, want 1", inner.called)
	}
	if s.Type() != "mock" {
		t.Errorf("type = %q, want mock", s.Type())
	}

	val := counterValue(t, metrics.Registry, "mayu_notification_deliveries_total", prometheus.Labels{"sender": "mock", "status": "success"})
	if val != 1 {
		t.Errorf("deliveries_total = %v, want 1", val)
	}
}

func TestInstrumentedSender_Error(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockSender{err: errors.New("channel missing")}

	s := NewInstrumentedSender(inner, metrics, nil, nil)
	if err := s.Send(context.Background(), notification.MemberJoined{}); err == nil {
		t.Fatal("expected error")
	}

	val := counterValue(t, metrics.Registry, "mayu_notification_deliveries_total", prometheus.Labels{"sender": "mock", "status": "error"})
	if val != 1 {
		t.Errorf("error deliveries_total = %v, want 1", val)
	}
}

func TestInstrumentedSender_NilMetrics(t *testing.T) {
	s := NewInstrumentedSender(&mockSender{}, nil, nil, nil)
	if err := s.Send(context.Background(), notification.MemberJoined{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// --- Helpers ---

func labelMap(pairs []*dto.LabelPair) map[string]string {
	m := make(map[string]string)
	for _, p := range pairs {
		m[p.GetName()] = p.GetValue()
	}
	return m
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels prometheus.Labels) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			lm := labelMap(metric.GetLabel())
			match := true
			for k, v := range labels {
				if lm[k] != v {
					match = false
					break
				}
			}
			if match {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}
