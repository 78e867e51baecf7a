package dedup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/randalmurphal/moodpet/pkg/moodpet/event"
	mperrors "github.com/randalmurphal/moodpet/pkg/moodpet/errors"
	"github.com/randalmurphal/moodpet/pkg/moodpet/observability"
)

var (
	errClosed   = errors.New("dedup store is closed")
	errInjected = &mperrors.StoreError{Op: "dedup_insert", Message: "injected failure"}
)

// DefaultWindow is the product's deduplication window. Bus redelivery can
// outlive it; deliveries beyond the window are processed independently.
const DefaultWindow = 10 * time.Minute

// Filter decides forward-or-drop for inbound messages. It subscribes to
// inbound.message and republishes first sightings as inbound.accepted;
// duplicates produce nothing at all.
type Filter struct {
	store   EntryStore
	window  time.Duration
	logger  *slog.Logger
	metrics observability.MetricsRecorder
}

// FilterOption configures a Filter.
type FilterOption func(*Filter)

// WithWindow overrides the deduplication window.
func WithWindow(d time.Duration) FilterOption {
	return func(f *Filter) {
		if d > 0 {
			f.window = d
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) FilterOption {
	return func(f *Filter) {
		f.logger = logger
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m observability.MetricsRecorder) FilterOption {
	return func(f *Filter) {
		f.metrics = m
	}
}

// NewFilter creates a dedup filter over the given entry store.
func NewFilter(store EntryStore, opts ...FilterOption) *Filter {
	f := &Filter{
		store:   store,
		window:  DefaultWindow,
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Register subscribes the filter on the bus. The subscription uses NoRetry:
// a store failure must fail this delivery immediately so the transport
// redelivers, rather than risk forwarding an un-deduplicated message. A
// false positive (legitimate message dropped) can never originate here,
// because dropping requires a successfully read, unexpired entry.
func (f *Filter) Register(bus event.Bus) event.Subscription {
	return bus.Subscribe(
		[]string{event.TopicInbound},
		event.TypedHandler([]string{event.TopicInbound}, f.handleTyped),
		event.WithSubscriberName("dedup"),
		event.WithSubscriberRetry(mperrors.NoRetry),
	)
}

func (f *Filter) handleTyped(ctx context.Context, msg event.InboundMessage, _ event.Metadata) ([]event.Event, error) {
	if msg.TransportMessageID == "" {
		// Nothing to deduplicate on; forward as-is
		return []event.Event{f.accepted(msg)}, nil
	}

	inserted, err := f.store.InsertIfAbsent(ctx, msg.TransportMessageID, time.Now().Add(f.window))
	if err != nil {
		// Fail the delivery: a forwarded duplicate is tolerable only as
		// a rare degenerate case, a guess is not
		return nil, err
	}

	if !inserted {
		observability.LogDuplicateSuppressed(f.logger, msg.TransportMessageID)
		f.metrics.RecordDuplicateSuppressed(ctx)
		return nil, nil
	}

	return []event.Event{f.accepted(msg)}, nil
}

// accepted wraps the message for the router. A fresh correlation ID roots
// the request's trace through the pipeline.
func (f *Filter) accepted(msg event.InboundMessage) event.Event {
	return event.New(event.TopicInboundAccepted, "dedup", msg.PseudoID, msg)
}

// StartSweeper runs a background loop that evicts expired entries.
// Purely a space optimization; correctness never depends on it.
func (f *Filter) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = f.window / 2
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := f.store.Sweep(ctx, time.Now()); err != nil && f.logger != nil {
					f.logger.Warn("dedup sweep failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
}
