package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/mayu/internal/notification"
)

// InstrumentedSender wraps a notification.Sender with metrics, tracing, and anomaly detection.
type InstrumentedSender struct {
	inner   notification.Sender
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedSender wraps a sender with observability.
func NewInstrumentedSender(inner notification.Sender, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedSender {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedSender{
		inner:   inner,
		metrics: metrics,
		tracer:  tracer,
		anomaly: anomaly,
	}
}

func (s *InstrumentedSender) Type() string { return s.inner.Type() }

func (s *InstrumentedSender) Send(ctx context.Context, m notification.MemberJoined) error {
	sender := s.inner.Type()

	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "notification.deliver",
			trace.WithAttributes(
				attribute.String("notification.sender", sender),
				attribute.String("discord.guild_id", m.GuildID),
				attribute.String("discord.user_id", m.UserID),
			))
		defer span.End()
	}

	start := time.Now()
	err := s.inner.Send(ctx, m)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	if s.metrics != nil {
		s.metrics.NotificationDeliveriesTotal.WithLabelValues(sender, status).Inc()
		s.metrics.NotificationDeliveryDuration.WithLabelValues(sender).Observe(duration)
	}

	if s.anomaly != nil {
		if err != nil {
			s.anomaly.RecordError("notification." + sender)
		} else {
			s.anomaly.RecordSuccess("notification." + sender)
		}
	}

	return err
}
