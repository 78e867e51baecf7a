package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	mperrors "github.com/randalmurphal/moodpet/pkg/moodpet/errors"
)

// SQLiteEntryStore persists dedup entries to SQLite. A single upsert
// statement performs the insert-if-absent, so the operation is atomic even
// across worker replicas sharing the database file.
type SQLiteEntryStore struct {
	db *sql.DB
}

// NewSQLiteEntryStore creates a SQLite-backed dedup entry store. The store
// may share a database file with the record store.
func NewSQLiteEntryStore(path string) (*SQLiteEntryStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS dedup_entries (
			message_id TEXT PRIMARY KEY,
			expires_at INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create dedup_entries table: %w", err)
	}

	return &SQLiteEntryStore{db: db}, nil
}

// InsertIfAbsent implements EntryStore. The conflict clause only fires for
// expired rows, so an unexpired entry wins and the delivery is reported as
// a duplicate.
func (s *SQLiteEntryStore) InsertIfAbsent(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO dedup_entries (message_id, expires_at)
		VALUES (?, ?)
		ON CONFLICT(message_id) DO UPDATE SET expires_at = excluded.expires_at
		WHERE dedup_entries.expires_at <= ?
	`, id, expiresAt.UnixMilli(), time.Now().UnixMilli())
	if err != nil {
		return false, &mperrors.StoreError{Op: "dedup_insert", Message: "upsert failed", Err: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, &mperrors.StoreError{Op: "dedup_insert", Message: "rows affected", Err: err}
	}
	return affected > 0, nil
}

// Sweep implements EntryStore.
func (s *SQLiteEntryStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dedup_entries WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, &mperrors.StoreError{Op: "dedup_sweep", Message: "delete failed", Err: err}
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, &mperrors.StoreError{Op: "dedup_sweep", Message: "rows affected", Err: err}
	}
	return int(removed), nil
}

// Close implements EntryStore.
func (s *SQLiteEntryStore) Close() error {
	return s.db.Close()
}
