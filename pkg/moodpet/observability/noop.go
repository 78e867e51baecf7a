package observability

import (
	"context"
	"time"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordEventHandled does nothing.
func (NoopMetrics) RecordEventHandled(_ context.Context, _ string, _ time.Duration, _ error) {}

// RecordDuplicateSuppressed does nothing.
func (NoopMetrics) RecordDuplicateSuppressed(_ context.Context) {}

// RecordDeadLettered does nothing.
func (NoopMetrics) RecordDeadLettered(_ context.Context, _ string) {}

// RecordExport does nothing.
func (NoopMetrics) RecordExport(_ context.Context, _ int64) {}
