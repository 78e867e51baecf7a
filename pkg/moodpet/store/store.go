// Package store persists mood entries and user settings.
//
// The store is shared by the check-in writer (writer), exporter (reader),
// and deleter (writer). Writers to the same pseudoId are mutually exclusive
// via a per-key mutex so a delete can never race an in-flight write;
// exports read a consistent snapshot and may run concurrently with writes.
package store

import (
	"context"
	"errors"
	"time"
)

// Entry is one persisted mood check-in. Append-only: never mutated after
// creation, removed only by user erasure.
type Entry struct {
	ID            int64
	PseudoID      string
	Timestamp     time.Time
	Mood          int
	Note          string
	CorrelationID string
}

// User holds per-user settings created on first contact.
type User struct {
	PseudoID   string
	TZ         string
	NotifyHour int // Hour of day in the user's timezone for the daily mood prompt
	CreatedAt  time.Time
}

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// ValidMood reports whether m is an accepted mood value.
func ValidMood(m int) bool {
	return m == -1 || m == 0 || m == 1
}

// RecordStore is the persistence contract consumed by the agents.
type RecordStore interface {
	// SaveEntry persists a mood entry. The write is idempotent on the
	// entry's CorrelationID: redelivery of an already-applied request
	// returns created=false and does not create a second record.
	SaveEntry(ctx context.Context, entry Entry) (saved Entry, created bool, err error)

	// ListEntries returns all entries for a user ordered by timestamp.
	// The result is a consistent point-in-time snapshot.
	ListEntries(ctx context.Context, pseudoID string) ([]Entry, error)

	// DeleteUser removes every entry and the settings record for a user,
	// returning the number of entries removed. Idempotent: deleting an
	// already-empty user succeeds with zero.
	DeleteUser(ctx context.Context, pseudoID string) (int, error)

	// EnsureUser creates the settings record for a user if missing.
	EnsureUser(ctx context.Context, pseudoID, tz string, notifyHour int) (User, error)

	// ListUsers returns all known users (consumed by the ping scheduler).
	ListUsers(ctx context.Context) ([]User, error)

	// Close releases the store.
	Close() error
}
