package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	mperrors "github.com/randalmurphal/moodpet/pkg/moodpet/errors"
)

// SQLiteStore persists entries and user settings to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	users  *KeyedMutex
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore creates a new SQLite record store.
// The path should be a file path (e.g., "./moodpet.db") or ":memory:" for
// testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pseudo_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			mood INTEGER NOT NULL,
			note TEXT,
			correlation_id TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create entries table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_entries_pseudo_id
		ON entries(pseudo_id, ts)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			pseudo_id TEXT PRIMARY KEY,
			tz TEXT NOT NULL,
			notify_hour INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create users table: %w", err)
	}

	return &SQLiteStore{db: db, users: NewKeyedMutex()}, nil
}

// SaveEntry implements RecordStore. The UNIQUE constraint on correlation_id
// makes retried deliveries of the same request a no-op even when the dedup
// window has long expired.
func (s *SQLiteStore) SaveEntry(ctx context.Context, entry Entry) (Entry, bool, error) {
	if err := s.check(); err != nil {
		return Entry{}, false, err
	}

	s.users.Lock(entry.PseudoID)
	defer s.users.Unlock(entry.PseudoID)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (pseudo_id, ts, mood, note, correlation_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(correlation_id) DO NOTHING
	`, entry.PseudoID, encodeTime(entry.Timestamp), entry.Mood, entry.Note,
		entry.CorrelationID, encodeTime(time.Now()))
	if err != nil {
		return Entry{}, false, &mperrors.StoreError{Op: "save_entry", Message: "insert failed", Err: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return Entry{}, false, &mperrors.StoreError{Op: "save_entry", Message: "rows affected", Err: err}
	}
	if affected == 0 {
		// Already applied: fetch the original record
		row := s.db.QueryRowContext(ctx, `
			SELECT id, pseudo_id, ts, mood, note, correlation_id
			FROM entries WHERE correlation_id = ?
		`, entry.CorrelationID)
		existing, err := scanEntry(row)
		if err != nil {
			return Entry{}, false, &mperrors.StoreError{Op: "save_entry", Message: "load existing", Err: err}
		}
		return existing, false, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return Entry{}, false, &mperrors.StoreError{Op: "save_entry", Message: "last insert id", Err: err}
	}
	entry.ID = id
	return entry, true, nil
}

// ListEntries implements RecordStore. The read runs in a transaction so an
// export sees a consistent snapshot even while writes arrive.
func (s *SQLiteStore) ListEntries(ctx context.Context, pseudoID string) ([]Entry, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, &mperrors.StoreError{Op: "list_entries", Message: "begin snapshot", Err: err}
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, pseudo_id, ts, mood, note, correlation_id
		FROM entries
		WHERE pseudo_id = ?
		ORDER BY ts
	`, pseudoID)
	if err != nil {
		return nil, &mperrors.StoreError{Op: "list_entries", Message: "query failed", Err: err}
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, &mperrors.StoreError{Op: "list_entries", Message: "scan entry", Err: err}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, &mperrors.StoreError{Op: "list_entries", Message: "iterate entries", Err: err}
	}

	return entries, nil
}

// DeleteUser implements RecordStore. Holding the user's write lock means no
// check-in write can interleave: data cannot reappear after delete.done.
func (s *SQLiteStore) DeleteUser(ctx context.Context, pseudoID string) (int, error) {
	if err := s.check(); err != nil {
		return 0, err
	}

	s.users.Lock(pseudoID)
	defer s.users.Unlock(pseudoID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &mperrors.StoreError{Op: "delete_user", Message: "begin", Err: err}
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE pseudo_id = ?`, pseudoID)
	if err != nil {
		return 0, &mperrors.StoreError{Op: "delete_user", Message: "delete entries", Err: err}
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, &mperrors.StoreError{Op: "delete_user", Message: "rows affected", Err: err}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE pseudo_id = ?`, pseudoID); err != nil {
		return 0, &mperrors.StoreError{Op: "delete_user", Message: "delete user", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return 0, &mperrors.StoreError{Op: "delete_user", Message: "commit", Err: err}
	}

	return int(removed), nil
}

// EnsureUser implements RecordStore.
func (s *SQLiteStore) EnsureUser(ctx context.Context, pseudoID, tz string, notifyHour int) (User, error) {
	if err := s.check(); err != nil {
		return User{}, err
	}

	now := time.Now()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO users (pseudo_id, tz, notify_hour, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(pseudo_id) DO NOTHING
	`, pseudoID, tz, notifyHour, encodeTime(now)); err != nil {
		return User{}, &mperrors.StoreError{Op: "ensure_user", Message: "insert", Err: err}
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT pseudo_id, tz, notify_hour, created_at
		FROM users WHERE pseudo_id = ?
	`, pseudoID)

	var u User
	var createdAt string
	if err := row.Scan(&u.PseudoID, &u.TZ, &u.NotifyHour, &createdAt); err != nil {
		return User{}, &mperrors.StoreError{Op: "ensure_user", Message: "load", Err: err}
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return u, nil
}

// ListUsers implements RecordStore.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]User, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT pseudo_id, tz, notify_hour, created_at FROM users
	`)
	if err != nil {
		return nil, &mperrors.StoreError{Op: "list_users", Message: "query", Err: err}
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var createdAt string
		if err := rows.Scan(&u.PseudoID, &u.TZ, &u.NotifyHour, &createdAt); err != nil {
			return nil, &mperrors.StoreError{Op: "list_users", Message: "scan", Err: err}
		}
		u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, &mperrors.StoreError{Op: "list_users", Message: "iterate", Err: err}
	}
	return users, nil
}

// Close implements RecordStore.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteStore) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var ts string
	var note sql.NullString
	if err := row.Scan(&e.ID, &e.PseudoID, &ts, &e.Mood, &note, &e.CorrelationID); err != nil {
		return Entry{}, err
	}
	e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	e.Note = note.String
	return e, nil
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
