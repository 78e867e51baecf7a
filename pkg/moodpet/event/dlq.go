package event

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// InMemoryDLQ is an in-memory implementation of DeadLetterQueue.
// Suitable for testing and single-instance deployments; production workers
// use SQLiteDLQ so parked events survive restarts.
type InMemoryDLQ struct {
	mu     sync.RWMutex
	events map[string]*FailedEvent // keyed by event ID
	plq    map[string]*ParkedEvent // keyed by event ID
	cfg    DLQConfig

	// Metrics
	enqueued  int64
	retried   int64
	parkedCnt int64
	recovered int64
}

// DLQConfig configures the dead letter queue.
type DLQConfig struct {
	// MaxSize limits the number of events in the DLQ.
	// Default: 10000
	MaxSize int

	// MaxRetries before moving to the parked queue.
	// Default: 5
	MaxRetries int

	// RetryDelay before first retry attempt.
	// Default: 1 minute
	RetryDelay time.Duration

	// OnEnqueue is called when an event is added.
	OnEnqueue func(*FailedEvent)

	// OnPark is called when an event is moved to the parked queue.
	OnPark func(*ParkedEvent)
}

// DefaultDLQConfig provides reasonable defaults.
var DefaultDLQConfig = DLQConfig{
	MaxSize:    10000,
	MaxRetries: 5,
	RetryDelay: 1 * time.Minute,
}

// NewInMemoryDLQ creates a new in-memory dead letter queue.
func NewInMemoryDLQ(cfg DLQConfig) *InMemoryDLQ {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultDLQConfig.MaxSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultDLQConfig.MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultDLQConfig.RetryDelay
	}

	return &InMemoryDLQ{
		events: make(map[string]*FailedEvent),
		plq:    make(map[string]*ParkedEvent),
		cfg:    cfg,
	}
}

// Enqueue adds a failed event to the DLQ.
func (d *InMemoryDLQ) Enqueue(ctx context.Context, failed *FailedEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.events) >= d.cfg.MaxSize {
		return &EventError{
			Message: "DLQ is full",
		}
	}

	if failed.AttemptCount >= d.cfg.MaxRetries {
		return d.moveToParkedLocked(failed, "max retries exceeded")
	}

	if failed.NextRetryAt.IsZero() {
		failed.NextRetryAt = time.Now().Add(d.cfg.RetryDelay)
	}

	d.events[failed.EventID] = failed
	d.enqueued++

	if d.cfg.OnEnqueue != nil {
		d.cfg.OnEnqueue(failed)
	}

	return nil
}

// Dequeue returns events ready for retry.
func (d *InMemoryDLQ) Dequeue(ctx context.Context, limit int) ([]*FailedEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	ready := make([]*FailedEvent, 0, limit)

	for id, evt := range d.events {
		if len(ready) >= limit {
			break
		}
		if !evt.NextRetryAt.After(now) {
			ready = append(ready, evt)
			delete(d.events, id)
		}
	}

	return ready, nil
}

// Acknowledge marks an event as successfully reprocessed.
func (d *InMemoryDLQ) Acknowledge(ctx context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.events, eventID)
	d.recovered++
	return nil
}

// RecordRetryFailure updates retry count and reschedules, parking the event
// once retries are exhausted.
func (d *InMemoryDLQ) RecordRetryFailure(ctx context.Context, failed *FailedEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	failed.AttemptCount++
	failed.LastFailedAt = time.Now()

	if failed.AttemptCount >= d.cfg.MaxRetries {
		return d.moveToParkedLocked(failed, "max retries exceeded")
	}

	// Exponential backoff for next retry
	backoff := d.cfg.RetryDelay * time.Duration(1<<uint(failed.AttemptCount))
	failed.NextRetryAt = time.Now().Add(backoff)

	d.events[failed.EventID] = failed
	d.retried++

	return nil
}

// moveToParkedLocked moves an event to the parked queue (must hold lock).
func (d *InMemoryDLQ) moveToParkedLocked(failed *FailedEvent, reason string) error {
	parked := &ParkedEvent{
		FailedEvent:   *failed,
		ParkReason:    reason,
		OriginalError: failed.ErrorMessage,
		ParkedAt:      time.Now(),
	}

	d.plq[failed.EventID] = parked
	d.parkedCnt++

	if d.cfg.OnPark != nil {
		d.cfg.OnPark(parked)
	}

	return nil
}

// Count returns the number of events awaiting retry.
func (d *InMemoryDLQ) Count(ctx context.Context) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.events), nil
}

// ListParked returns parked events for manual review.
func (d *InMemoryDLQ) ListParked(ctx context.Context, limit int) ([]*ParkedEvent, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if limit <= 0 || limit > len(d.plq) {
		limit = len(d.plq)
	}

	result := make([]*ParkedEvent, 0, limit)
	for _, evt := range d.plq {
		if len(result) >= limit {
			break
		}
		result = append(result, evt)
	}
	return result, nil
}

// Stats returns DLQ statistics.
func (d *InMemoryDLQ) Stats() DLQStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return DLQStats{
		QueueSize:  len(d.events),
		ParkedSize: len(d.plq),
		Enqueued:   d.enqueued,
		Retried:    d.retried,
		Parked:     d.parkedCnt,
		Recovered:  d.recovered,
	}
}

// DLQStats provides statistics about the DLQ.
type DLQStats struct {
	QueueSize  int   // Current DLQ size
	ParkedSize int   // Current parked queue size
	Enqueued   int64 // Total events enqueued
	Retried    int64 // Total retry attempts
	Parked     int64 // Total events parked
	Recovered  int64 // Total events recovered
}

// DLQProcessor periodically replays due events from a DLQ back onto the bus.
type DLQProcessor struct {
	dlq     DeadLetterQueue
	bus     Bus
	cfg     DLQProcessorConfig
	stopCh  chan struct{}
	running bool
	mu      sync.Mutex
}

// DLQProcessorConfig configures the DLQ processor.
type DLQProcessorConfig struct {
	// BatchSize is the number of events to replay at once.
	// Default: 10
	BatchSize int

	// PollInterval is how often to check for due events.
	// Default: 10 seconds
	PollInterval time.Duration

	// OnRetry is called before replaying an event.
	OnRetry func(*FailedEvent)

	// OnFailure is called when replay publishing fails.
	OnFailure func(*FailedEvent, error)
}

// DefaultDLQProcessorConfig provides reasonable defaults.
var DefaultDLQProcessorConfig = DLQProcessorConfig{
	BatchSize:    10,
	PollInterval: 10 * time.Second,
}

// NewDLQProcessor creates a new DLQ processor.
func NewDLQProcessor(dlq DeadLetterQueue, bus Bus, cfg DLQProcessorConfig) *DLQProcessor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultDLQProcessorConfig.BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultDLQProcessorConfig.PollInterval
	}

	return &DLQProcessor{
		dlq:    dlq,
		bus:    bus,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// Start begins replaying events from the DLQ.
func (p *DLQProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	go p.run(ctx)
}

// Stop halts the processor.
func (p *DLQProcessor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	close(p.stopCh)
	p.running = false
}

// run is the main processing loop.
func (p *DLQProcessor) run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.processBatch(ctx)
		}
	}
}

// processBatch replays a batch of due events.
func (p *DLQProcessor) processBatch(ctx context.Context) {
	events, err := p.dlq.Dequeue(ctx, p.cfg.BatchSize)
	if err != nil {
		return
	}

	for _, failed := range events {
		if p.cfg.OnRetry != nil {
			p.cfg.OnRetry(failed)
		}

		// Reconstruct the event from its stored payload. Replay keeps the
		// original event ID, so idempotent consumers recognize it.
		evt := replayEvent(failed)

		if pubErr := p.bus.Publish(ctx, evt); pubErr != nil {
			if p.cfg.OnFailure != nil {
				p.cfg.OnFailure(failed, pubErr)
			}
			_ = p.dlq.RecordRetryFailure(ctx, failed)
		} else {
			_ = p.dlq.Acknowledge(ctx, failed.EventID)
		}
	}
}

// replayEvent rebuilds a bus event from a dead-lettered record. The event
// ID and correlation chain are restored verbatim: consumers that key their
// idempotency on the correlation ID must see the original one, not a fresh
// value rooted in the replay.
func replayEvent(failed *FailedEvent) Event {
	var payload any
	if len(failed.EventData) > 0 {
		// Best effort: replayed payloads arrive as generic maps and are
		// re-typed by TypedHandler on delivery.
		_ = json.Unmarshal(failed.EventData, &payload)
	}
	source := failed.EventSource
	if source == "" {
		source = "dlq"
	}
	return NewAny(failed.EventType, source, failed.Key, payload,
		WithEventID(failed.EventID),
		WithCorrelationID(failed.CorrelationID),
		WithCausationID(failed.CausationID))
}
