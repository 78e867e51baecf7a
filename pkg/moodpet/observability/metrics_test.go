package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest creates a test meter provider and returns a function to collect metrics.
func setupMetricsTest(t *testing.T) (*sdkmetric.ManualReader, func()) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	originalProvider := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	cleanup := func() {
		otel.SetMeterProvider(originalProvider)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	}

	return reader, cleanup
}

// collectMetrics collects all metrics from the reader.
func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)
	return &rm
}

// findMetric finds a metric by name in the collected data.
func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestRecordEventHandled(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()

	t.Run("records delivery count and latency", func(t *testing.T) {
		m.RecordEventHandled(ctx, "checkin.save", 25*time.Millisecond, nil)

		rm := collectMetrics(t, reader)

		handled := findMetric(rm, "moodpet.events.handled")
		require.NotNil(t, handled)
		sum, ok := handled.Data.(metricdata.Sum[int64])
		require.True(t, ok, "Expected Sum type")
		require.NotEmpty(t, sum.DataPoints)
		assert.Equal(t, int64(1), sum.DataPoints[0].Value)

		latency := findMetric(rm, "moodpet.events.latency_ms")
		require.NotNil(t, latency)
		hist, ok := latency.Data.(metricdata.Histogram[float64])
		require.True(t, ok, "Expected Histogram type")
		require.NotEmpty(t, hist.DataPoints)
		assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	})

	t.Run("records errors separately", func(t *testing.T) {
		m.RecordEventHandled(ctx, "checkin.save", 5*time.Millisecond, errors.New("store failed"))

		rm := collectMetrics(t, reader)
		errs := findMetric(rm, "moodpet.events.errors")
		require.NotNil(t, errs)
		sum, ok := errs.Data.(metricdata.Sum[int64])
		require.True(t, ok)
		require.NotEmpty(t, sum.DataPoints)
		assert.Equal(t, int64(1), sum.DataPoints[0].Value)
	})
}

func TestRecordDuplicateSuppressed(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	m.RecordDuplicateSuppressed(context.Background())
	m.RecordDuplicateSuppressed(context.Background())

	rm := collectMetrics(t, reader)
	suppressed := findMetric(rm, "moodpet.dedup.suppressed")
	require.NotNil(t, suppressed)
	sum, ok := suppressed.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.NotEmpty(t, sum.DataPoints)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)
}

func TestRecordDeadLettered(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	m.RecordDeadLettered(context.Background(), "checkin.save")

	rm := collectMetrics(t, reader)
	dead := findMetric(rm, "moodpet.dlq.enqueued")
	require.NotNil(t, dead)
	sum, ok := dead.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.NotEmpty(t, sum.DataPoints)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)
}

func TestRecordExport(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	m.RecordExport(context.Background(), 42)

	rm := collectMetrics(t, reader)
	exported := findMetric(rm, "moodpet.export.records")
	require.NotNil(t, exported)
	hist, ok := exported.Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.NotEmpty(t, hist.DataPoints)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.Equal(t, int64(42), hist.DataPoints[0].Sum)
}

func TestNoopMetricsImplementsInterface(t *testing.T) {
	var _ MetricsRecorder = NoopMetrics{}

	m := NoopMetrics{}
	assert.NotPanics(t, func() {
		m.RecordEventHandled(context.Background(), "topic", time.Millisecond, nil)
		m.RecordEventHandled(context.Background(), "", 0, errors.New("x"))
		m.RecordDuplicateSuppressed(context.Background())
		m.RecordDeadLettered(context.Background(), "topic")
		m.RecordExport(context.Background(), 0)
	})
}
