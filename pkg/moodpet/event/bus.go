package event

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	mperrors "github.com/randalmurphal/moodpet/pkg/moodpet/errors"
)

// Bus provides pub/sub event distribution with fan-out support.
//
// Ordering guarantee: for a fixed (topic, key) pair, delivery order to any
// single subscriber matches publish order. Events with different keys may be
// processed fully in parallel. There is no ordering across topics.
type Bus interface {
	// Publish sends an event to all subscribers of its topic.
	Publish(ctx context.Context, evt Event) error

	// Subscribe creates a subscription for specific event types.
	Subscribe(types []string, handler Handler, opts ...SubscribeOption) Subscription

	// SubscribeAll subscribes to all events.
	SubscribeAll(handler Handler, opts ...SubscribeOption) Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe removes the subscription.
	Unsubscribe()

	// Pause temporarily stops processing (events still queue).
	Pause()

	// Resume continues processing after pause.
	Resume()

	// IsPaused returns true if the subscription is paused.
	IsPaused() bool
}

// BusConfig configures bus behavior.
type BusConfig struct {
	// BufferSize is the channel buffer size per partition.
	// Default: 256
	BufferSize int

	// Partitions is the number of ordered sub-queues per subscription.
	// Events are assigned to a partition by hashing their key, so all
	// events for one user land on the same partition while different
	// users proceed concurrently.
	// Default: 8
	Partitions int

	// Retry applies to handler failures before the event is dead-lettered.
	Retry mperrors.RetryConfig

	// DLQ receives events whose handler failed after all retries.
	// Optional; without it failures are only reported via OnError.
	DLQ DeadLetterQueue

	// OnError is called when a handler fails permanently (for logging).
	OnError func(evt Event, subscriberID string, err error)

	// OnDelivered is called after successful processing (for metrics).
	OnDelivered func(evt Event, subscriberID string)
}

// DefaultBusConfig provides reasonable defaults.
var DefaultBusConfig = BusConfig{
	BufferSize: 256,
	Partitions: 8,
	Retry:      mperrors.DefaultRetry,
}

// LocalBus is an in-memory event bus implementation.
//
// It is the single-process stand-in for the durable broker the worker runs
// against in production; the consumption contract (idempotent handlers,
// retry, dead-lettering) is identical.
type LocalBus struct {
	config BusConfig

	mu            sync.RWMutex
	subscriptions map[string]*subscription
	byType        map[string]map[string]*subscription // event type -> subscription ID -> subscription
	wildcards     map[string]*subscription            // subscriptions for all events

	nextID  atomic.Int64
	closed  atomic.Bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewBus creates a new local event bus.
func NewBus(config BusConfig) *LocalBus {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBusConfig.BufferSize
	}
	if config.Partitions <= 0 {
		config.Partitions = DefaultBusConfig.Partitions
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = DefaultBusConfig.Retry
	}

	return &LocalBus{
		config:        config,
		subscriptions: make(map[string]*subscription),
		byType:        make(map[string]map[string]*subscription),
		wildcards:     make(map[string]*subscription),
		closeCh:       make(chan struct{}),
	}
}

// SubscribeOption configures a single subscription.
type SubscribeOption func(*subscription)

// WithSubscriberName names the subscription for logs, metrics, and DLQ
// entries (default: "sub-N").
func WithSubscriberName(name string) SubscribeOption {
	return func(s *subscription) {
		s.id = name
	}
}

// WithSubscriberRetry overrides the bus retry config for this subscription.
// Dedup uses NoRetry so a store failure surfaces to the transport instead of
// risking a forwarded duplicate.
func WithSubscriberRetry(cfg mperrors.RetryConfig) SubscribeOption {
	return func(s *subscription) {
		s.retry = cfg
	}
}

// subscription is an internal subscription implementation.
type subscription struct {
	id         string
	types      []string // empty = all types
	handler    Handler
	retry      mperrors.RetryConfig
	partitions []chan Event
	paused     atomic.Bool
	done       chan struct{}
	closeOnce  sync.Once
	bus        *LocalBus
}

// Publish sends an event to all matching subscribers.
// It blocks until the event is enqueued on every matching partition, so a
// successful return means the event will be processed (or dead-lettered) -
// the bus never silently drops an event.
func (b *LocalBus) Publish(ctx context.Context, evt Event) error {
	if b.closed.Load() {
		return &EventError{
			Event:   evt,
			Message: "bus is closed",
		}
	}

	b.mu.RLock()
	subs := b.matchingSubscriptions(evt.Type())
	b.mu.RUnlock()

	for _, sub := range subs {
		ch := sub.partitionFor(evt)
		select {
		case ch <- evt:
		case <-ctx.Done():
			return ctx.Err()
		case <-b.closeCh:
			return &EventError{
				Event:   evt,
				Message: "bus closed during publish",
			}
		}
	}

	return nil
}

// Subscribe creates a subscription for specific event types.
func (b *LocalBus) Subscribe(types []string, handler Handler, opts ...SubscribeOption) Subscription {
	return b.subscribe(types, handler, opts...)
}

// SubscribeAll subscribes to all events.
func (b *LocalBus) SubscribeAll(handler Handler, opts ...SubscribeOption) Subscription {
	return b.subscribe(nil, handler, opts...)
}

func (b *LocalBus) subscribe(types []string, handler Handler, opts ...SubscribeOption) *subscription {
	if b.closed.Load() {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		id:      fmt.Sprintf("sub-%d", b.nextID.Add(1)),
		types:   types,
		handler: handler,
		retry:   b.config.Retry,
		done:    make(chan struct{}),
		bus:     b,
	}
	for _, opt := range opts {
		opt(sub)
	}

	sub.partitions = make([]chan Event, b.config.Partitions)
	for i := range sub.partitions {
		sub.partitions[i] = make(chan Event, b.config.BufferSize)
	}

	b.subscriptions[sub.id] = sub

	if len(types) == 0 {
		b.wildcards[sub.id] = sub
	} else {
		for _, t := range types {
			if b.byType[t] == nil {
				b.byType[t] = make(map[string]*subscription)
			}
			b.byType[t][sub.id] = sub
		}
	}

	// One ordered consumer loop per partition
	for _, ch := range sub.partitions {
		b.wg.Add(1)
		go sub.process(ch)
	}

	return sub
}

// matchingSubscriptions returns all subscriptions matching an event type.
func (b *LocalBus) matchingSubscriptions(eventType string) []*subscription {
	subs := make([]*subscription, 0)

	if typeSubs, ok := b.byType[eventType]; ok {
		for _, sub := range typeSubs {
			subs = append(subs, sub)
		}
	}

	for _, sub := range b.wildcards {
		subs = append(subs, sub)
	}

	return subs
}

// Close shuts down the bus.
func (b *LocalBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	close(b.closeCh)

	b.mu.Lock()
	for _, sub := range b.subscriptions {
		sub.closeOnce.Do(func() { close(sub.done) })
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// partitionFor assigns an event to one of the subscription's ordered
// sub-queues. Events without a key fall back to their event ID, which
// spreads them across partitions without any ordering claim.
func (s *subscription) partitionFor(evt Event) chan Event {
	key := evt.Key()
	if key == "" {
		key = evt.ID()
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.partitions[int(h.Sum32())%len(s.partitions)]
}

// process handles events for one partition, preserving FIFO order within it.
func (s *subscription) process(ch chan Event) {
	defer s.bus.wg.Done()
	for {
		select {
		case evt := <-ch:
			if !s.deliver(evt) {
				return
			}
		case <-s.done:
			return
		}
	}
}

// deliver runs the handler with retry, republishes derived events, and
// dead-letters the event on permanent failure. Returns false on shutdown.
func (s *subscription) deliver(evt Event) bool {
	// Paused subscriptions hold the event rather than dropping it
	for s.paused.Load() {
		select {
		case <-s.done:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}

	ctx := context.Background()

	result := mperrors.WithRetryContext(ctx, s.retry, func(ctx context.Context) ([]Event, error) {
		return s.handler.Handle(ctx, evt)
	})

	if result.Err != nil {
		if s.bus.config.DLQ != nil {
			failed := NewFailedEvent(evt, result.Err, s.id)
			failed.AttemptCount = result.Attempts
			if dlqErr := s.bus.config.DLQ.Enqueue(ctx, failed); dlqErr != nil {
				if s.bus.config.OnError != nil {
					s.bus.config.OnError(evt, s.id, dlqErr)
				}
			}
		}
		if s.bus.config.OnError != nil {
			s.bus.config.OnError(evt, s.id, result.Err)
		}
		return true
	}

	if s.bus.config.OnDelivered != nil {
		s.bus.config.OnDelivered(evt, s.id)
	}

	// Cascade: handler output goes back onto the bus. Derived events carry
	// the parent's key, so per-user ordering survives the hop.
	for _, derived := range result.Value {
		if err := s.bus.Publish(ctx, derived); err != nil {
			if s.bus.config.OnError != nil {
				s.bus.config.OnError(derived, s.id, err)
			}
		}
	}
	return true
}

// Unsubscribe removes the subscription.
func (s *subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if _, ok := s.bus.subscriptions[s.id]; !ok {
		return
	}

	delete(s.bus.subscriptions, s.id)
	delete(s.bus.wildcards, s.id)

	for _, t := range s.types {
		if typeSubs, ok := s.bus.byType[t]; ok {
			delete(typeSubs, s.id)
		}
	}

	s.closeOnce.Do(func() { close(s.done) })
}

// Pause temporarily stops processing.
func (s *subscription) Pause() {
	s.paused.Store(true)
}

// Resume continues processing after pause.
func (s *subscription) Resume() {
	s.paused.Store(false)
}

// IsPaused returns true if the subscription is paused.
func (s *subscription) IsPaused() bool {
	return s.paused.Load()
}
