// Package event provides the event-driven backbone of the moodpet worker.
//
// Domain agents never call each other: they communicate exclusively through
// typed events published on a Bus. The package implements:
//   - Event interface with correlation and causation tracking
//   - Bus for pub/sub fan-out with per-key ordered, partitioned delivery
//   - Bounded retry with backoff on handler failure
//   - DLQ/PLQ so failed events are parked, never silently dropped
//
// Delivery is at-least-once: the bus may redeliver an event after a handler
// failure, so handlers must be idempotent or rely on upstream deduplication.
package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is the core interface for all events in the pipeline.
// Events are immutable once created - any modification creates a new event.
type Event interface {
	// Identity
	ID() string     // Unique event identifier
	Type() string   // Topic (e.g., "checkin.save", "export.ready")
	Source() string // Producing agent (e.g., "router", "checkin_writer")

	// Correlation for tracing a request through the pipeline
	CorrelationID() string // Groups related events across agents
	CausationID() string   // ID of event that directly caused this one

	// Metadata
	Timestamp() time.Time // When the event was produced
	Key() string          // Ordering/partition key (the user's pseudoId)

	// Payload
	Data() any         // Strongly-typed payload
	DataBytes() []byte // Serialized payload for dead-letter storage
}

// Metadata contains common event metadata fields.
type Metadata struct {
	EventID       string    `json:"id"`
	EventType     string    `json:"type"`
	EventSource   string    `json:"source"`
	CorrelationID string    `json:"correlation_id"`
	CausationID   string    `json:"causation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	PartitionKey  string    `json:"key"`
}

// BaseEvent provides a generic event implementation.
// T is the payload type for type-safe access.
type BaseEvent[T any] struct {
	Meta    Metadata `json:"metadata"`
	Payload T        `json:"payload"`

	// Cached serialization (computed lazily)
	cachedBytes []byte
}

// ID returns the unique event identifier.
func (e *BaseEvent[T]) ID() string {
	return e.Meta.EventID
}

// Type returns the event topic.
func (e *BaseEvent[T]) Type() string {
	return e.Meta.EventType
}

// Source returns the producing agent.
func (e *BaseEvent[T]) Source() string {
	return e.Meta.EventSource
}

// CorrelationID returns the correlation ID for tracing.
func (e *BaseEvent[T]) CorrelationID() string {
	return e.Meta.CorrelationID
}

// CausationID returns the ID of the event that caused this one.
func (e *BaseEvent[T]) CausationID() string {
	return e.Meta.CausationID
}

// Timestamp returns when the event was produced.
func (e *BaseEvent[T]) Timestamp() time.Time {
	return e.Meta.Timestamp
}

// Key returns the partition key. Events sharing a key are delivered to any
// single subscriber in publish order.
func (e *BaseEvent[T]) Key() string {
	return e.Meta.PartitionKey
}

// Data returns the event payload.
func (e *BaseEvent[T]) Data() any {
	return e.Payload
}

// TypedData returns the strongly-typed payload.
func (e *BaseEvent[T]) TypedData() T {
	return e.Payload
}

// DataBytes returns the serialized payload.
// The result is cached for efficiency.
func (e *BaseEvent[T]) DataBytes() []byte {
	if e.cachedBytes == nil {
		// Best effort - errors are ignored for interface compliance
		e.cachedBytes, _ = json.Marshal(e.Payload)
	}
	return e.cachedBytes
}

// MarshalJSON implements json.Marshaler.
func (e *BaseEvent[T]) MarshalJSON() ([]byte, error) {
	type alias BaseEvent[T]
	return json.Marshal((*alias)(e))
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *BaseEvent[T]) UnmarshalJSON(data []byte) error {
	type alias BaseEvent[T]
	if err := json.Unmarshal(data, (*alias)(e)); err != nil {
		return err
	}
	e.cachedBytes = nil // Clear cache on unmarshal
	return nil
}

// EventOption configures event creation.
type EventOption func(*eventConfig)

type eventConfig struct {
	id            string
	correlationID string
	causationID   string
	timestamp     time.Time
}

// WithEventID sets a specific event ID (default: auto-generated UUID).
func WithEventID(id string) EventOption {
	return func(cfg *eventConfig) {
		cfg.id = id
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func WithCorrelationID(id string) EventOption {
	return func(cfg *eventConfig) {
		cfg.correlationID = id
	}
}

// WithCausationID sets the ID of the causing event.
func WithCausationID(id string) EventOption {
	return func(cfg *eventConfig) {
		cfg.causationID = id
	}
}

// WithTimestamp sets a specific timestamp (default: time.Now()).
func WithTimestamp(t time.Time) EventOption {
	return func(cfg *eventConfig) {
		cfg.timestamp = t
	}
}

// New creates a new event with the given topic, source, partition key, and
// payload. The key is the user's pseudoId for every domain event.
func New[T any](
	eventType string,
	source string,
	key string,
	payload T,
	opts ...EventOption,
) *BaseEvent[T] {
	cfg := &eventConfig{
		id:        uuid.New().String(),
		timestamp: time.Now(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	// If no correlation ID, use event ID as the root
	if cfg.correlationID == "" {
		cfg.correlationID = cfg.id
	}

	return &BaseEvent[T]{
		Meta: Metadata{
			EventID:       cfg.id,
			EventType:     eventType,
			EventSource:   source,
			CorrelationID: cfg.correlationID,
			CausationID:   cfg.causationID,
			Timestamp:     cfg.timestamp,
			PartitionKey:  key,
		},
		Payload: payload,
	}
}

// NewFromParent creates a new event caused by a parent event.
// It inherits the correlation ID and partition key, and sets causation ID.
func NewFromParent[T any](
	parent Event,
	eventType string,
	source string,
	payload T,
	opts ...EventOption,
) *BaseEvent[T] {
	// Prepend parent correlation options (can be overridden by opts)
	parentOpts := []EventOption{
		WithCorrelationID(parent.CorrelationID()),
		WithCausationID(parent.ID()),
	}
	allOpts := append(parentOpts, opts...)

	return New(eventType, source, parent.Key(), payload, allOpts...)
}

// NewAny creates a new event with an untyped (any) payload.
func NewAny(
	eventType string,
	source string,
	key string,
	payload any,
	opts ...EventOption,
) *BaseEvent[any] {
	return New(eventType, source, key, payload, opts...)
}

// Handler processes events and optionally returns derived events.
// Derived events are published back onto the bus by the delivery loop.
type Handler interface {
	// Handle processes an event and returns any derived events.
	Handle(ctx context.Context, evt Event) ([]Event, error)

	// Handles returns the event types this handler processes.
	// An empty slice means the handler accepts all event types.
	Handles() []string
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt Event) ([]Event, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, evt Event) ([]Event, error) {
	return f(ctx, evt)
}

// Handles returns nil (accepts all event types).
func (f HandlerFunc) Handles() []string {
	return nil
}

// TypedHandler wraps a function handling a specific payload type.
// Events whose payload arrives as a generic map (e.g. after DLQ replay)
// are unmarshaled into T before the function is invoked.
func TypedHandler[T any](
	eventTypes []string,
	fn func(ctx context.Context, payload T, meta Metadata) ([]Event, error),
) Handler {
	return &typedHandler[T]{
		eventTypes: eventTypes,
		fn:         fn,
	}
}

type typedHandler[T any] struct {
	eventTypes []string
	fn         func(ctx context.Context, payload T, meta Metadata) ([]Event, error)
}

func (h *typedHandler[T]) Handle(ctx context.Context, evt Event) ([]Event, error) {
	var payload T

	switch d := evt.Data().(type) {
	case T:
		payload = d
	case map[string]any:
		// JSON unmarshal path
		bytes, err := json.Marshal(d)
		if err != nil {
			return nil, &EventError{
				Event:   evt,
				Message: "failed to marshal event data",
				Err:     err,
			}
		}
		if err := json.Unmarshal(bytes, &payload); err != nil {
			return nil, &EventError{
				Event:   evt,
				Message: "failed to unmarshal event data to expected type",
				Err:     err,
			}
		}
	default:
		return nil, &EventError{
			Event:   evt,
			Message: "unexpected payload type",
		}
	}

	meta := Metadata{
		EventID:       evt.ID(),
		EventType:     evt.Type(),
		EventSource:   evt.Source(),
		CorrelationID: evt.CorrelationID(),
		CausationID:   evt.CausationID(),
		Timestamp:     evt.Timestamp(),
		PartitionKey:  evt.Key(),
	}

	return h.fn(ctx, payload, meta)
}

func (h *typedHandler[T]) Handles() []string {
	return h.eventTypes
}

// MiddlewareFunc wraps handlers to add cross-cutting concerns.
type MiddlewareFunc func(next Handler) Handler

// ChainMiddleware applies middleware in order, with first middleware outermost.
func ChainMiddleware(handler Handler, middleware ...MiddlewareFunc) Handler {
	// Apply in reverse order so first middleware is outermost
	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}
	return handler
}
