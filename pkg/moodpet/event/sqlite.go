package event

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteDLQ persists dead-lettered and parked events to SQLite so they
// survive worker restarts. It is suitable for single-process production use.
type SQLiteDLQ struct {
	db     *sql.DB
	cfg    DLQConfig
	mu     sync.Mutex
	closed bool
}

// NewSQLiteDLQ creates a SQLite-backed dead letter queue.
// The path should be a file path (e.g., "./deadletter.db") or ":memory:"
// for testing.
func NewSQLiteDLQ(path string, cfg DLQConfig) (*SQLiteDLQ, error) {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultDLQConfig.MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultDLQConfig.RetryDelay
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS dead_letters (
			event_id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			event_source TEXT NOT NULL DEFAULT '',
			event_data BLOB,
			key TEXT NOT NULL,
			correlation_id TEXT NOT NULL DEFAULT '',
			causation_id TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL,
			handler TEXT,
			attempt_count INTEGER NOT NULL,
			first_failed_at TEXT NOT NULL,
			last_failed_at TEXT NOT NULL,
			next_retry_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create dead_letters table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS parked_letters (
			event_id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			event_source TEXT NOT NULL DEFAULT '',
			event_data BLOB,
			key TEXT NOT NULL,
			correlation_id TEXT NOT NULL DEFAULT '',
			causation_id TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL,
			handler TEXT,
			attempt_count INTEGER NOT NULL,
			park_reason TEXT NOT NULL,
			parked_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create parked_letters table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_dead_letters_retry
		ON dead_letters(next_retry_at)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteDLQ{db: db, cfg: cfg}, nil
}

// Enqueue implements DeadLetterQueue.
func (q *SQLiteDLQ) Enqueue(ctx context.Context, failed *FailedEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return &EventError{Message: "DLQ is closed"}
	}

	if failed.AttemptCount >= q.cfg.MaxRetries {
		return q.parkLocked(ctx, failed, "max retries exceeded")
	}

	if failed.NextRetryAt.IsZero() {
		failed.NextRetryAt = time.Now().Add(q.cfg.RetryDelay)
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO dead_letters (
			event_id, event_type, event_source, event_data, key,
			correlation_id, causation_id, error_message, handler,
			attempt_count, first_failed_at, last_failed_at, next_retry_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			error_message = excluded.error_message,
			attempt_count = excluded.attempt_count,
			last_failed_at = excluded.last_failed_at,
			next_retry_at = excluded.next_retry_at
	`, failed.EventID, failed.EventType, failed.EventSource, failed.EventData,
		failed.Key, failed.CorrelationID, failed.CausationID,
		failed.ErrorMessage, failed.Handler, failed.AttemptCount,
		encodeTime(failed.FirstFailedAt), encodeTime(failed.LastFailedAt),
		encodeTime(failed.NextRetryAt))
	if err != nil {
		return fmt.Errorf("enqueue dead letter: %w", err)
	}

	if q.cfg.OnEnqueue != nil {
		q.cfg.OnEnqueue(failed)
	}
	return nil
}

// Dequeue implements DeadLetterQueue.
func (q *SQLiteDLQ) Dequeue(ctx context.Context, limit int) ([]*FailedEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, &EventError{Message: "DLQ is closed"}
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT event_id, event_type, event_source, event_data, key,
		       correlation_id, causation_id, error_message, handler,
		       attempt_count, first_failed_at, last_failed_at, next_retry_at
		FROM dead_letters
		WHERE next_retry_at <= ?
		ORDER BY next_retry_at
		LIMIT ?
	`, encodeTime(time.Now()), limit)
	if err != nil {
		return nil, fmt.Errorf("dequeue dead letters: %w", err)
	}
	defer rows.Close()

	var ready []*FailedEvent
	for rows.Next() {
		failed, err := scanFailedEvent(rows)
		if err != nil {
			return nil, err
		}
		ready = append(ready, failed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}

	for _, failed := range ready {
		if _, err := q.db.ExecContext(ctx,
			`DELETE FROM dead_letters WHERE event_id = ?`, failed.EventID); err != nil {
			return nil, fmt.Errorf("claim dead letter: %w", err)
		}
	}

	return ready, nil
}

// Acknowledge implements DeadLetterQueue.
func (q *SQLiteDLQ) Acknowledge(ctx context.Context, eventID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, err := q.db.ExecContext(ctx,
		`DELETE FROM dead_letters WHERE event_id = ?`, eventID)
	if err != nil {
		return fmt.Errorf("acknowledge dead letter: %w", err)
	}
	return nil
}

// RecordRetryFailure implements DeadLetterQueue.
func (q *SQLiteDLQ) RecordRetryFailure(ctx context.Context, failed *FailedEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	failed.AttemptCount++
	failed.LastFailedAt = time.Now()

	if failed.AttemptCount >= q.cfg.MaxRetries {
		if _, err := q.db.ExecContext(ctx,
			`DELETE FROM dead_letters WHERE event_id = ?`, failed.EventID); err != nil {
			return fmt.Errorf("remove dead letter: %w", err)
		}
		return q.parkLocked(ctx, failed, "max retries exceeded")
	}

	backoff := q.cfg.RetryDelay * time.Duration(1<<uint(failed.AttemptCount))
	failed.NextRetryAt = time.Now().Add(backoff)

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO dead_letters (
			event_id, event_type, event_source, event_data, key,
			correlation_id, causation_id, error_message, handler,
			attempt_count, first_failed_at, last_failed_at, next_retry_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			attempt_count = excluded.attempt_count,
			last_failed_at = excluded.last_failed_at,
			next_retry_at = excluded.next_retry_at
	`, failed.EventID, failed.EventType, failed.EventSource, failed.EventData,
		failed.Key, failed.CorrelationID, failed.CausationID,
		failed.ErrorMessage, failed.Handler, failed.AttemptCount,
		encodeTime(failed.FirstFailedAt), encodeTime(failed.LastFailedAt),
		encodeTime(failed.NextRetryAt))
	if err != nil {
		return fmt.Errorf("record retry failure: %w", err)
	}
	return nil
}

// Count implements DeadLetterQueue.
func (q *SQLiteDLQ) Count(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dead_letters`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}

// ListParked implements DeadLetterQueue.
func (q *SQLiteDLQ) ListParked(ctx context.Context, limit int) ([]*ParkedEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if limit <= 0 {
		limit = -1
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT event_id, event_type, event_source, event_data, key,
		       correlation_id, causation_id, error_message, handler,
		       attempt_count, park_reason, parked_at
		FROM parked_letters
		ORDER BY parked_at
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list parked letters: %w", err)
	}
	defer rows.Close()

	var parked []*ParkedEvent
	for rows.Next() {
		var p ParkedEvent
		var parkedAt string
		if err := rows.Scan(&p.EventID, &p.EventType, &p.EventSource,
			&p.EventData, &p.Key, &p.CorrelationID, &p.CausationID,
			&p.ErrorMessage, &p.Handler, &p.AttemptCount,
			&p.ParkReason, &parkedAt); err != nil {
			return nil, fmt.Errorf("scan parked letter: %w", err)
		}
		p.ParkedAt, _ = time.Parse(time.RFC3339Nano, parkedAt)
		p.OriginalError = p.ErrorMessage
		parked = append(parked, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate parked letters: %w", err)
	}
	return parked, nil
}

// Close releases the underlying database handle.
func (q *SQLiteDLQ) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	return q.db.Close()
}

// parkLocked moves an event to the parked table (must hold lock).
func (q *SQLiteDLQ) parkLocked(ctx context.Context, failed *FailedEvent, reason string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO parked_letters (
			event_id, event_type, event_source, event_data, key,
			correlation_id, causation_id, error_message, handler,
			attempt_count, park_reason, parked_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET
			attempt_count = excluded.attempt_count,
			park_reason = excluded.park_reason
	`, failed.EventID, failed.EventType, failed.EventSource, failed.EventData,
		failed.Key, failed.CorrelationID, failed.CausationID,
		failed.ErrorMessage, failed.Handler, failed.AttemptCount,
		reason, encodeTime(time.Now()))
	if err != nil {
		return fmt.Errorf("park event: %w", err)
	}

	if q.cfg.OnPark != nil {
		q.cfg.OnPark(&ParkedEvent{
			FailedEvent:   *failed,
			ParkReason:    reason,
			OriginalError: failed.ErrorMessage,
			ParkedAt:      time.Now(),
		})
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFailedEvent(row rowScanner) (*FailedEvent, error) {
	var f FailedEvent
	var first, last, next string
	if err := row.Scan(&f.EventID, &f.EventType, &f.EventSource, &f.EventData,
		&f.Key, &f.CorrelationID, &f.CausationID,
		&f.ErrorMessage, &f.Handler, &f.AttemptCount,
		&first, &last, &next); err != nil {
		return nil, fmt.Errorf("scan dead letter: %w", err)
	}
	f.FirstFailedAt, _ = time.Parse(time.RFC3339Nano, first)
	f.LastFailedAt, _ = time.Parse(time.RFC3339Nano, last)
	f.NextRetryAt, _ = time.Parse(time.RFC3339Nano, next)
	return &f, nil
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
