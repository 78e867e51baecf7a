// Package dedup filters duplicate inbound messages before they reach the
// router.
//
// The transport delivers at-least-once, so the same transportMessageId can
// arrive more than once. Within a sliding window (10 minutes by default) a
// repeated id is suppressed silently; beyond the window each delivery is
// processed independently. The check-then-insert is a single atomic
// insert-if-absent so concurrent redeliveries cannot both pass.
package dedup

import (
	"context"
	"sync"
	"time"
)

// EntryStore records first sightings of transport message IDs.
//
// InsertIfAbsent must be atomic per id across all callers: in a
// multi-replica deployment this rules out purely process-local state, which
// is why the production store is the shared SQLite database.
type EntryStore interface {
	// InsertIfAbsent records id with the given expiry if no unexpired
	// entry exists. Returns true if the entry was inserted (first
	// sighting or expired entry reclaimed), false if an unexpired entry
	// already exists.
	InsertIfAbsent(ctx context.Context, id string, expiresAt time.Time) (bool, error)

	// Sweep removes expired entries. Eviction is an optimization only:
	// forward-vs-drop is decided solely at insert time by comparing
	// timestamps, never by an entry's absence.
	Sweep(ctx context.Context, now time.Time) (int, error)

	// Close releases the store.
	Close() error
}

// MemoryEntryStore is an in-memory EntryStore for tests and single-replica
// workers.
type MemoryEntryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time // id -> expiresAt
	closed  bool

	failNext int
}

// NewMemoryEntryStore creates an empty in-memory entry store.
func NewMemoryEntryStore() *MemoryEntryStore {
	return &MemoryEntryStore{entries: make(map[string]time.Time)}
}

// FailNext makes the next n operations return an injected error. Test hook.
func (s *MemoryEntryStore) FailNext(n int) {
	s.mu.Lock()
	s.failNext = n
	s.mu.Unlock()
}

// InsertIfAbsent implements EntryStore. The whole check-then-insert runs
// under one lock, so two concurrent redeliveries cannot both pass.
func (s *MemoryEntryStore) InsertIfAbsent(_ context.Context, id string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFail(); err != nil {
		return false, err
	}

	if existing, ok := s.entries[id]; ok && existing.After(time.Now()) {
		return false, nil
	}
	s.entries[id] = expiresAt
	return true, nil
}

// Sweep implements EntryStore.
func (s *MemoryEntryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFail(); err != nil {
		return 0, err
	}

	removed := 0
	for id, expiresAt := range s.entries {
		if !expiresAt.After(now) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Close implements EntryStore.
func (s *MemoryEntryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryEntryStore) checkFail() error {
	if s.closed {
		return errClosed
	}
	if s.failNext > 0 {
		s.failNext--
		return errInjected
	}
	return nil
}
