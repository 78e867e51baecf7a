package event_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randalmurphal/moodpet/pkg/moodpet/event"
)

func failedEvent(t *testing.T, eventType, key string, payload any) *event.FailedEvent {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &event.FailedEvent{
		EventID:       "evt-" + eventType,
		EventType:     eventType,
		EventSource:   "test",
		EventData:     data,
		Key:           key,
		CorrelationID: "corr-" + eventType,
		ErrorMessage:  "handler failed",
		AttemptCount:  1,
		FirstFailedAt: time.Now(),
		LastFailedAt:  time.Now(),
	}
}

func TestDLQEnqueueDequeue(t *testing.T) {
	dlq := event.NewInMemoryDLQ(event.DLQConfig{
		RetryDelay: time.Millisecond,
	})
	ctx := context.Background()

	failed := failedEvent(t, "test.event", "u1", map[string]any{"k": "v"})
	if err := dlq.Enqueue(ctx, failed); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	count, _ := dlq.Count(ctx)
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}

	time.Sleep(5 * time.Millisecond)

	ready, err := dlq.Dequeue(ctx, 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(ready) != 1 {
		t.Fatalf("expected 1 ready event, got %d", len(ready))
	}
	if ready[0].EventID != failed.EventID {
		t.Errorf("expected event %s, got %s", failed.EventID, ready[0].EventID)
	}
}

func TestDLQParksAfterMaxRetries(t *testing.T) {
	var parked atomic.Int32
	dlq := event.NewInMemoryDLQ(event.DLQConfig{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		OnPark: func(*event.ParkedEvent) {
			parked.Add(1)
		},
	})
	ctx := context.Background()

	failed := failedEvent(t, "test.event", "u1", nil)
	if err := dlq.Enqueue(ctx, failed); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// One more failure hits the retry ceiling
	if err := dlq.RecordRetryFailure(ctx, failed); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	if parked.Load() != 1 {
		t.Errorf("expected 1 parked event, got %d", parked.Load())
	}

	list, err := dlq.ListParked(ctx, 10)
	if err != nil {
		t.Fatalf("list parked: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 parked event, got %d", len(list))
	}
	if list[0].ParkReason != "max retries exceeded" {
		t.Errorf("unexpected park reason %q", list[0].ParkReason)
	}
}

func TestDLQProcessorReplaysToBus(t *testing.T) {
	dlq := event.NewInMemoryDLQ(event.DLQConfig{
		RetryDelay: time.Millisecond,
	})

	bus := event.NewBus(event.BusConfig{BufferSize: 10})
	defer bus.Close()

	var replayed atomic.Int32
	var gotKey atomic.Value

	bus.Subscribe([]string{"replay.event"}, event.HandlerFunc(func(ctx context.Context, evt event.Event) ([]event.Event, error) {
		replayed.Add(1)
		gotKey.Store(evt.Key())
		return nil, nil
	}))

	ctx := context.Background()
	failed := failedEvent(t, "replay.event", "u1", map[string]any{"pseudo_id": "u1"})
	if err := dlq.Enqueue(ctx, failed); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	processor := event.NewDLQProcessor(dlq, bus, event.DLQProcessorConfig{
		BatchSize:    10,
		PollInterval: 10 * time.Millisecond,
	})
	processor.Start(ctx)
	defer processor.Stop()

	time.Sleep(150 * time.Millisecond)

	if replayed.Load() != 1 {
		t.Fatalf("expected 1 replayed event, got %d", replayed.Load())
	}
	if key, _ := gotKey.Load().(string); key != "u1" {
		t.Errorf("expected replayed event to keep key u1, got %q", key)
	}

	// Successful replay acknowledges the event
	count, _ := dlq.Count(ctx)
	if count != 0 {
		t.Errorf("expected empty DLQ after replay, got %d", count)
	}
}

func TestDLQReplayKeepsCorrelationChain(t *testing.T) {
	dlq := event.NewInMemoryDLQ(event.DLQConfig{
		RetryDelay: time.Millisecond,
	})

	bus := event.NewBus(event.BusConfig{BufferSize: 10})
	defer bus.Close()

	type seen struct {
		id, correlation, causation, source string
	}
	var got atomic.Value

	bus.Subscribe([]string{"replay.event"}, event.HandlerFunc(func(ctx context.Context, evt event.Event) ([]event.Event, error) {
		got.Store(seen{
			id:          evt.ID(),
			correlation: evt.CorrelationID(),
			causation:   evt.CausationID(),
			source:      evt.Source(),
		})
		return nil, nil
	}))

	ctx := context.Background()
	original := event.New("replay.event", "router", "u1",
		map[string]any{"pseudo_id": "u1"},
		event.WithCorrelationID("corr-original"),
		event.WithCausationID("cause-1"))
	failed := event.NewFailedEvent(original, errors.New("store offline"), "writer")
	if err := dlq.Enqueue(ctx, failed); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	processor := event.NewDLQProcessor(dlq, bus, event.DLQProcessorConfig{
		BatchSize:    10,
		PollInterval: 10 * time.Millisecond,
	})
	processor.Start(ctx)
	defer processor.Stop()

	time.Sleep(150 * time.Millisecond)

	s, ok := got.Load().(seen)
	if !ok {
		t.Fatal("event was not replayed")
	}
	// Idempotent consumers key on the correlation ID; a replay must carry
	// the original chain, not a fresh one rooted in the replay itself
	if s.correlation != "corr-original" {
		t.Errorf("expected correlation corr-original, got %q", s.correlation)
	}
	if s.causation != "cause-1" {
		t.Errorf("expected causation cause-1, got %q", s.causation)
	}
	if s.id != original.ID() {
		t.Errorf("expected event ID %s, got %s", original.ID(), s.id)
	}
	if s.source != "router" {
		t.Errorf("expected original source router, got %q", s.source)
	}
}
