package event

import (
	"context"
	"fmt"
	"time"
)

// EventError represents an error during event processing.
type EventError struct {
	Event     Event     // The event that failed
	Handler   string    // Handler that failed (if known)
	Message   string    // Error message
	Err       error     // Underlying error
	Attempt   int       // Which attempt this was
	Timestamp time.Time // When the error occurred
}

// Error implements error interface.
func (e *EventError) Error() string {
	if e.Event == nil {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("event %s: %s: %v", e.Event.ID(), e.Message, e.Err)
	}
	return fmt.Sprintf("event %s: %s", e.Event.ID(), e.Message)
}

// Unwrap returns the underlying error.
func (e *EventError) Unwrap() error {
	return e.Err
}

// FailedEvent contains complete information about a failed event.
// It captures everything needed to rebuild the event for replay, including
// the correlation chain: idempotent consumers key on the correlation ID, so
// a replay that lost it would be processed as a brand-new request.
type FailedEvent struct {
	// Event information
	EventID       string `json:"event_id"`
	EventType     string `json:"event_type"`
	EventSource   string `json:"event_source,omitempty"`
	EventData     []byte `json:"event_data"`
	Key           string `json:"key"`
	CorrelationID string `json:"correlation_id,omitempty"`
	CausationID   string `json:"causation_id,omitempty"`

	// Error information
	ErrorMessage string `json:"error_message"`
	Handler      string `json:"handler,omitempty"`

	// Retry tracking
	AttemptCount  int       `json:"attempt_count"`
	FirstFailedAt time.Time `json:"first_failed_at"`
	LastFailedAt  time.Time `json:"last_failed_at"`
	NextRetryAt   time.Time `json:"next_retry_at,omitempty"`
}

// NewFailedEvent creates a FailedEvent from an error.
func NewFailedEvent(evt Event, err error, handler string) *FailedEvent {
	now := time.Now()
	return &FailedEvent{
		EventID:       evt.ID(),
		EventType:     evt.Type(),
		EventSource:   evt.Source(),
		EventData:     evt.DataBytes(),
		Key:           evt.Key(),
		CorrelationID: evt.CorrelationID(),
		CausationID:   evt.CausationID(),
		ErrorMessage:  err.Error(),
		Handler:       handler,
		AttemptCount:  0, // No retry attempts yet
		FirstFailedAt: now,
		LastFailedAt:  now,
	}
}

// ParkedEvent represents an event moved to the parked letter queue after
// exhausting retries. Parked events require manual reconciliation.
type ParkedEvent struct {
	FailedEvent

	ParkReason    string    `json:"park_reason"`
	OriginalError string    `json:"original_error,omitempty"`
	ParkedAt      time.Time `json:"parked_at"`
}

// DeadLetterQueue stores events that failed processing for later retry.
// The bus enqueues here after exhausting per-delivery retries; a DLQ
// processor periodically replays due events back onto the bus.
type DeadLetterQueue interface {
	// Enqueue adds a failed event to the queue.
	Enqueue(ctx context.Context, failed *FailedEvent) error

	// Dequeue retrieves failed events that are due for reprocessing.
	Dequeue(ctx context.Context, limit int) ([]*FailedEvent, error)

	// Acknowledge marks an event as successfully reprocessed (removes it).
	Acknowledge(ctx context.Context, eventID string) error

	// RecordRetryFailure updates retry tracking after another failed
	// attempt, parking the event once retries are exhausted.
	RecordRetryFailure(ctx context.Context, failed *FailedEvent) error

	// Count returns the number of events awaiting retry.
	Count(ctx context.Context) (int, error)

	// ListParked returns parked events for manual review.
	ListParked(ctx context.Context, limit int) ([]*ParkedEvent, error)
}
