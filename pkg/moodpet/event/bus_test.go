package event_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mperrors "github.com/randalmurphal/moodpet/pkg/moodpet/errors"
	"github.com/randalmurphal/moodpet/pkg/moodpet/event"
)

func TestBus(t *testing.T) {
	bus := event.NewBus(event.BusConfig{
		BufferSize: 10,
	})
	defer bus.Close()

	var received atomic.Int32

	sub := bus.Subscribe([]string{"test.event"}, event.HandlerFunc(func(ctx context.Context, evt event.Event) ([]event.Event, error) {
		received.Add(1)
		return nil, nil
	}))
	defer sub.Unsubscribe()

	evt := event.NewAny("test.event", "test", "u1", nil)
	if err := bus.Publish(context.Background(), evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if received.Load() != 1 {
		t.Errorf("expected 1 received event, got %d", received.Load())
	}

	// Non-matching topic is ignored
	bus.Publish(context.Background(), event.NewAny("other.event", "test", "u1", nil))

	time.Sleep(50 * time.Millisecond)

	if received.Load() != 1 {
		t.Errorf("expected still 1 received event, got %d", received.Load())
	}
}

func TestBusPerKeyOrdering(t *testing.T) {
	bus := event.NewBus(event.BusConfig{
		BufferSize: 64,
		Partitions: 4,
	})
	defer bus.Close()

	var mu sync.Mutex
	seen := make(map[string][]int)

	sub := bus.Subscribe([]string{"ordered.event"}, event.HandlerFunc(func(ctx context.Context, evt event.Event) ([]event.Event, error) {
		seq := evt.Data().(int)
		mu.Lock()
		seen[evt.Key()] = append(seen[evt.Key()], seq)
		mu.Unlock()
		return nil, nil
	}))
	defer sub.Unsubscribe()

	// Interleave two users; each user's sequence must come back in order
	for i := 0; i < 20; i++ {
		for _, key := range []string{"user-a", "user-b"} {
			evt := event.New("ordered.event", "test", key, i)
			if err := bus.Publish(context.Background(), evt); err != nil {
				t.Fatalf("publish: %v", err)
			}
		}
	}

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, key := range []string{"user-a", "user-b"} {
		got := seen[key]
		if len(got) != 20 {
			t.Fatalf("key %s: expected 20 events, got %d", key, len(got))
		}
		for i, seq := range got {
			if seq != i {
				t.Errorf("key %s: position %d has sequence %d", key, i, seq)
			}
		}
	}
}

func TestBusRepublishesDerivedEvents(t *testing.T) {
	bus := event.NewBus(event.BusConfig{BufferSize: 10})
	defer bus.Close()

	var final atomic.Int32

	bus.Subscribe([]string{"step.one"}, event.HandlerFunc(func(ctx context.Context, evt event.Event) ([]event.Event, error) {
		derived := event.NewFromParent(evt, "step.two", "test", "payload")
		return []event.Event{derived}, nil
	}))

	bus.Subscribe([]string{"step.two"}, event.HandlerFunc(func(ctx context.Context, evt event.Event) ([]event.Event, error) {
		final.Add(1)
		return nil, nil
	}))

	root := event.NewAny("step.one", "test", "u1", nil)
	if err := bus.Publish(context.Background(), root); err != nil {
		t.Fatalf("publish: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if final.Load() != 1 {
		t.Errorf("expected derived event to be delivered once, got %d", final.Load())
	}
}

func TestBusDerivedEventInheritsCorrelation(t *testing.T) {
	bus := event.NewBus(event.BusConfig{BufferSize: 10})
	defer bus.Close()

	var gotCorrelation atomic.Value

	bus.Subscribe([]string{"step.one"}, event.HandlerFunc(func(ctx context.Context, evt event.Event) ([]event.Event, error) {
		return []event.Event{event.NewFromParent(evt, "step.two", "test", "x")}, nil
	}))
	bus.Subscribe([]string{"step.two"}, event.HandlerFunc(func(ctx context.Context, evt event.Event) ([]event.Event, error) {
		gotCorrelation.Store(evt.CorrelationID())
		return nil, nil
	}))

	root := event.NewAny("step.one", "test", "u1", nil,
		event.WithCorrelationID("corr-123"))
	bus.Publish(context.Background(), root)

	time.Sleep(100 * time.Millisecond)

	if got, _ := gotCorrelation.Load().(string); got != "corr-123" {
		t.Errorf("expected correlation corr-123, got %q", got)
	}
}

func TestBusRetriesTransientFailures(t *testing.T) {
	bus := event.NewBus(event.BusConfig{
		BufferSize: 10,
		Retry: mperrors.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			BackoffFactor:  2.0,
		},
	})
	defer bus.Close()

	var attempts atomic.Int32

	bus.Subscribe([]string{"flaky.event"}, event.HandlerFunc(func(ctx context.Context, evt event.Event) ([]event.Event, error) {
		if attempts.Add(1) < 3 {
			return nil, &mperrors.StoreError{Op: "save", Message: "db locked"}
		}
		return nil, nil
	}))

	bus.Publish(context.Background(), event.NewAny("flaky.event", "test", "u1", nil))

	time.Sleep(200 * time.Millisecond)

	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestBusDeadLettersAfterRetries(t *testing.T) {
	dlq := event.NewInMemoryDLQ(event.DLQConfig{})
	var permanentErr atomic.Int32

	bus := event.NewBus(event.BusConfig{
		BufferSize: 10,
		Retry: mperrors.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			BackoffFactor:  2.0,
		},
		DLQ: dlq,
		OnError: func(evt event.Event, subscriberID string, err error) {
			permanentErr.Add(1)
		},
	})
	defer bus.Close()

	bus.Subscribe([]string{"doomed.event"}, event.HandlerFunc(func(ctx context.Context, evt event.Event) ([]event.Event, error) {
		return nil, errors.New("handler always fails")
	}), event.WithSubscriberName("doomed"))

	bus.Publish(context.Background(), event.NewAny("doomed.event", "test", "u1", nil))

	time.Sleep(200 * time.Millisecond)

	count, err := dlq.Count(context.Background())
	if err != nil {
		t.Fatalf("dlq count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 dead-lettered event, got %d", count)
	}
	if permanentErr.Load() != 1 {
		t.Errorf("expected OnError called once, got %d", permanentErr.Load())
	}
}

func TestBusValidationErrorNotRetried(t *testing.T) {
	bus := event.NewBus(event.BusConfig{
		BufferSize: 10,
		Retry: mperrors.RetryConfig{
			MaxAttempts:    5,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			BackoffFactor:  2.0,
		},
	})
	defer bus.Close()

	var attempts atomic.Int32

	bus.Subscribe([]string{"invalid.event"}, event.HandlerFunc(func(ctx context.Context, evt event.Event) ([]event.Event, error) {
		attempts.Add(1)
		return nil, &mperrors.ValidationError{Field: "mood", Message: "out of range"}
	}))

	bus.Publish(context.Background(), event.NewAny("invalid.event", "test", "u1", nil))

	time.Sleep(100 * time.Millisecond)

	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt for validation error, got %d", attempts.Load())
	}
}

func TestBusWildcardSubscription(t *testing.T) {
	bus := event.NewBus(event.BusConfig{BufferSize: 10})
	defer bus.Close()

	var received atomic.Int32

	bus.SubscribeAll(event.HandlerFunc(func(ctx context.Context, evt event.Event) ([]event.Event, error) {
		received.Add(1)
		return nil, nil
	}))

	for i := 0; i < 3; i++ {
		topic := fmt.Sprintf("any.topic.%d", i)
		bus.Publish(context.Background(), event.NewAny(topic, "test", "u1", nil))
	}

	time.Sleep(100 * time.Millisecond)

	if received.Load() != 3 {
		t.Errorf("expected 3 events on wildcard, got %d", received.Load())
	}
}

func TestBusPauseHoldsEvents(t *testing.T) {
	bus := event.NewBus(event.BusConfig{BufferSize: 10})
	defer bus.Close()

	var received atomic.Int32

	sub := bus.Subscribe([]string{"held.event"}, event.HandlerFunc(func(ctx context.Context, evt event.Event) ([]event.Event, error) {
		received.Add(1)
		return nil, nil
	}))

	sub.Pause()
	bus.Publish(context.Background(), event.NewAny("held.event", "test", "u1", nil))

	time.Sleep(50 * time.Millisecond)
	if received.Load() != 0 {
		t.Fatalf("expected event held during pause, got %d", received.Load())
	}

	sub.Resume()
	time.Sleep(100 * time.Millisecond)

	if received.Load() != 1 {
		t.Errorf("expected event delivered after resume, got %d", received.Load())
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := event.NewBus(event.BusConfig{BufferSize: 10})
	defer bus.Close()

	var received atomic.Int32

	sub := bus.Subscribe([]string{"gone.event"}, event.HandlerFunc(func(ctx context.Context, evt event.Event) ([]event.Event, error) {
		received.Add(1)
		return nil, nil
	}))
	sub.Unsubscribe()

	bus.Publish(context.Background(), event.NewAny("gone.event", "test", "u1", nil))

	time.Sleep(50 * time.Millisecond)

	if received.Load() != 0 {
		t.Errorf("expected no delivery after unsubscribe, got %d", received.Load())
	}
}
