package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records pipeline metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordEventHandled records one event delivery with its duration and
	// error status.
	RecordEventHandled(ctx context.Context, topic string, duration time.Duration, err error)

	// RecordDuplicateSuppressed records a suppressed duplicate inbound
	// message.
	RecordDuplicateSuppressed(ctx context.Context)

	// RecordDeadLettered records an event moving to the DLQ.
	RecordDeadLettered(ctx context.Context, topic string)

	// RecordExport records a completed export with its row count.
	RecordExport(ctx context.Context, records int64)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	eventsHandled metric.Int64Counter
	eventLatency  metric.Float64Histogram
	eventErrors   metric.Int64Counter
	duplicates    metric.Int64Counter
	deadLetters   metric.Int64Counter
	exportedRecs  metric.Int64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("moodpet")

	eventsHandled, err := meter.Int64Counter("moodpet.events.handled",
		metric.WithDescription("Number of event deliveries"),
	)
	if err != nil {
		return nil, err
	}

	eventLatency, err := meter.Float64Histogram("moodpet.events.latency_ms",
		metric.WithDescription("Event handler latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	eventErrors, err := meter.Int64Counter("moodpet.events.errors",
		metric.WithDescription("Number of event handler errors"),
	)
	if err != nil {
		return nil, err
	}

	duplicates, err := meter.Int64Counter("moodpet.dedup.suppressed",
		metric.WithDescription("Number of duplicate inbound messages suppressed"),
	)
	if err != nil {
		return nil, err
	}

	deadLetters, err := meter.Int64Counter("moodpet.dlq.enqueued",
		metric.WithDescription("Number of events moved to the dead letter queue"),
	)
	if err != nil {
		return nil, err
	}

	exportedRecs, err := meter.Int64Histogram("moodpet.export.records",
		metric.WithDescription("Rows per export artifact"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		eventsHandled: eventsHandled,
		eventLatency:  eventLatency,
		eventErrors:   eventErrors,
		duplicates:    duplicates,
		deadLetters:   deadLetters,
		exportedRecs:  exportedRecs,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordEventHandled records one event delivery.
func (m *otelMetrics) RecordEventHandled(ctx context.Context, topic string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("topic", topic),
	}

	m.eventsHandled.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.eventLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.eventErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordDuplicateSuppressed records a suppressed duplicate.
func (m *otelMetrics) RecordDuplicateSuppressed(ctx context.Context) {
	m.duplicates.Add(ctx, 1)
}

// RecordDeadLettered records a dead-lettered event.
func (m *otelMetrics) RecordDeadLettered(ctx context.Context, topic string) {
	m.deadLetters.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", topic),
	))
}

// RecordExport records a completed export.
func (m *otelMetrics) RecordExport(ctx context.Context, records int64) {
	m.exportedRecs.Record(ctx, records)
}
