package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/randalmurphal/moodpet/pkg/moodpet/event"
	"github.com/randalmurphal/moodpet/pkg/moodpet/store"
)

// CheckinWriter validates and persists mood entries. It consumes the bus
// through WriteSide, which keeps saves and deletes for one user on a single
// ordered subscription.
//
// The write is keyed on the request's correlation ID, so bus-level
// redelivery of an already-applied checkin.save never creates a second
// record - even when the redelivery happens long after the dedup window
// expired.
type CheckinWriter struct {
	store  store.RecordStore
	logger *slog.Logger
}

// NewCheckinWriter creates a check-in writer over the record store.
func NewCheckinWriter(st store.RecordStore, logger *slog.Logger) *CheckinWriter {
	return &CheckinWriter{store: st, logger: logger}
}

func (w *CheckinWriter) handle(ctx context.Context, req event.CheckinSave, meta event.Metadata) ([]event.Event, error) {
	derive := func(topic string, payload any) event.Event {
		return event.NewAny(topic, "checkin_writer", req.PseudoID, payload,
			event.WithCorrelationID(meta.CorrelationID),
			event.WithCausationID(meta.EventID))
	}

	if !store.ValidMood(req.Mood) {
		if w.logger != nil {
			w.logger.Debug("check-in rejected",
				slog.Int("mood", req.Mood),
				slog.String("correlation_id", meta.CorrelationID),
			)
		}
		// Validation failures are terminal: reported to the user, never
		// retried, nothing persisted
		return []event.Event{derive(event.TopicCheckinRejected, event.CheckinRejected{
			PseudoID: req.PseudoID,
			Reason:   "mood must be -1, 0, or +1",
		})}, nil
	}

	ts := req.At
	if ts.IsZero() {
		ts = time.Now()
	}

	saved, created, err := w.store.SaveEntry(ctx, store.Entry{
		PseudoID:      req.PseudoID,
		Timestamp:     ts,
		Mood:          req.Mood,
		Note:          req.Comment,
		CorrelationID: meta.CorrelationID,
	})
	if err != nil {
		// Transient store failures bubble up for bus retry / DLQ
		return nil, err
	}

	if !created {
		// Replay of an applied request: the record exists, the completion
		// event was already published on the first pass
		if w.logger != nil {
			w.logger.Debug("check-in replay ignored",
				slog.String("correlation_id", meta.CorrelationID),
			)
		}
		return nil, nil
	}

	return []event.Event{derive(event.TopicCheckinSaved, event.CheckinSaved{
		PseudoID:  saved.PseudoID,
		Timestamp: saved.Timestamp,
		Mood:      saved.Mood,
	})}, nil
}
