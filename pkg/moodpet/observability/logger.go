// Package observability provides structured logging, metrics, and tracing
// for the moodpet pipeline.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry (see event.TracingMiddleware)
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds pipeline context to a logger.
// Returns a new logger with agent and correlation_id fields.
func EnrichLogger(logger *slog.Logger, agent, correlationID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("agent", agent),
		slog.String("correlation_id", correlationID),
	)
}

// LogEventHandled logs successful event processing.
func LogEventHandled(logger *slog.Logger, topic, agent string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("event handled",
		slog.String("topic", topic),
		slog.String("agent", agent),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogEventFailed logs a permanently failed event delivery.
func LogEventFailed(logger *slog.Logger, topic, agent string, err error) {
	if logger == nil {
		return
	}
	logger.Error("event delivery failed",
		slog.String("topic", topic),
		slog.String("agent", agent),
		slog.String("error", err.Error()),
	)
}

// LogDuplicateSuppressed logs a suppressed duplicate delivery.
// Deliberately Debug level: duplicates are an expected no-op, not a fault.
func LogDuplicateSuppressed(logger *slog.Logger, transportMessageID string) {
	if logger == nil {
		return
	}
	logger.Debug("duplicate suppressed",
		slog.String("transport_message_id", transportMessageID),
	)
}

// LogDeadLettered logs an event moving to the dead letter queue.
func LogDeadLettered(logger *slog.Logger, topic, eventID string, attempts int) {
	if logger == nil {
		return
	}
	logger.Warn("event dead-lettered",
		slog.String("topic", topic),
		slog.String("event_id", eventID),
		slog.Int("attempts", attempts),
	)
}

// LogParked logs an event moving to the parked queue for manual review.
func LogParked(logger *slog.Logger, topic, eventID, reason string) {
	if logger == nil {
		return
	}
	logger.Error("event parked for manual reconciliation",
		slog.String("topic", topic),
		slog.String("event_id", eventID),
		slog.String("reason", reason),
	)
}

// LogArtifactWritten logs a completed export artifact.
func LogArtifactWritten(logger *slog.Logger, location string, records int) {
	if logger == nil {
		return
	}
	logger.Info("export artifact written",
		slog.String("location", location),
		slog.Int("records", records),
	)
}

// LogUserErased logs completed user data erasure.
func LogUserErased(logger *slog.Logger, records int) {
	if logger == nil {
		return
	}
	logger.Info("user data erased",
		slog.Int("records_removed", records),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
