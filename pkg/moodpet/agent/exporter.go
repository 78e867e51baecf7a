package agent

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/moodpet/pkg/moodpet/event"
	"github.com/randalmurphal/moodpet/pkg/moodpet/export"
	"github.com/randalmurphal/moodpet/pkg/moodpet/observability"
	"github.com/randalmurphal/moodpet/pkg/moodpet/store"
)

// Exporter materializes a user's full history into a downloadable artifact.
// The listing is a consistent snapshot, so writes landing mid-export never
// bleed into the file.
type Exporter struct {
	store   store.RecordStore
	writer  *export.Writer
	logger  *slog.Logger
	metrics observability.MetricsRecorder
}

// NewExporter creates an exporter backed by the given store and artifact writer.
func NewExporter(s store.RecordStore, w *export.Writer, logger *slog.Logger, metrics observability.MetricsRecorder) *Exporter {
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &Exporter{store: s, writer: w, logger: logger, metrics: metrics}
}

// Register subscribes the exporter to export requests.
func (e *Exporter) Register(bus event.Bus) event.Subscription {
	return bus.Subscribe(
		[]string{event.TopicExportRequest},
		event.TypedHandler([]string{event.TopicExportRequest}, e.handle),
		event.WithSubscriberName("exporter"),
	)
}

func (e *Exporter) handle(ctx context.Context, req event.ExportRequest, meta event.Metadata) ([]event.Event, error) {
	entries, err := e.store.ListEntries(ctx, req.PseudoID)
	if err != nil {
		return nil, err
	}

	// A user with no entries still gets an artifact, just a header-only one.
	location, err := e.writer.Write(req.PseudoID, entries)
	if err != nil {
		return nil, err
	}

	logger := observability.EnrichLogger(e.logger, "exporter", meta.CorrelationID)
	observability.LogArtifactWritten(logger, location, len(entries))
	e.metrics.RecordExport(ctx, int64(len(entries)))

	ready := event.New(event.TopicExportReady, "exporter", req.PseudoID, event.ExportReady{
		PseudoID:         req.PseudoID,
		ArtifactLocation: location,
		RecordCount:      len(entries),
	},
		event.WithCorrelationID(meta.CorrelationID),
		event.WithCausationID(meta.EventID))

	return []event.Event{ready}, nil
}
