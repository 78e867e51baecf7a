package agent

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/moodpet/pkg/moodpet/event"
	"github.com/randalmurphal/moodpet/pkg/moodpet/export"
	"github.com/randalmurphal/moodpet/pkg/moodpet/observability"
	"github.com/randalmurphal/moodpet/pkg/moodpet/store"
)

// Deleter erases every trace of a user: journal entries, the user record,
// and any export artifacts still on disk. Deletion is idempotent, so a
// redelivered request against an already-erased user still completes.
// It consumes the bus through WriteSide so a save enqueued before the
// delete is always applied first.
type Deleter struct {
	store  store.RecordStore
	writer *export.Writer
	logger *slog.Logger
}

// NewDeleter creates a deleter. writer may be nil when no artifacts are kept.
func NewDeleter(s store.RecordStore, w *export.Writer, logger *slog.Logger) *Deleter {
	return &Deleter{store: s, writer: w, logger: logger}
}

func (d *Deleter) handle(ctx context.Context, req event.DeleteRequest, meta event.Metadata) ([]event.Event, error) {
	// Saves published before this request were already applied on this
	// subscription; the store's keyed mutex excludes any concurrent writer.
	removed, err := d.store.DeleteUser(ctx, req.PseudoID)
	if err != nil {
		return nil, err
	}

	if d.writer != nil {
		if _, err := d.writer.Purge(req.PseudoID); err != nil {
			return nil, err
		}
	}

	logger := observability.EnrichLogger(d.logger, "deleter", meta.CorrelationID)
	observability.LogUserErased(logger, removed)

	done := event.New(event.TopicDeleteDone, "deleter", req.PseudoID, event.DeleteDone{
		PseudoID:      req.PseudoID,
		RecordsErased: removed,
	},
		event.WithCorrelationID(meta.CorrelationID),
		event.WithCausationID(meta.EventID))

	return []event.Event{done}, nil
}
