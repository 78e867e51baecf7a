package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	mperrors "github.com/randalmurphal/moodpet/pkg/moodpet/errors"
)

// MemoryStore is an in-memory RecordStore for tests and examples.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry // pseudoId -> entries
	byCorr  map[string]Entry   // correlationId -> entry
	users   map[string]User
	nextID  int64
	locks   *KeyedMutex
	closed  bool

	// failNext, when positive, makes the next operations fail with a
	// transient store error. Test hook.
	failNext int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string][]Entry),
		byCorr:  make(map[string]Entry),
		users:   make(map[string]User),
		locks:   NewKeyedMutex(),
	}
}

// FailNext makes the next n operations return a transient store error.
func (s *MemoryStore) FailNext(n int) {
	s.mu.Lock()
	s.failNext = n
	s.mu.Unlock()
}

func (s *MemoryStore) checkFail(op string) error {
	if s.closed {
		return ErrClosed
	}
	if s.failNext > 0 {
		s.failNext--
		return &mperrors.StoreError{Op: op, Message: "injected failure", Err: errors.New("store unavailable")}
	}
	return nil
}

// SaveEntry implements RecordStore.
func (s *MemoryStore) SaveEntry(_ context.Context, entry Entry) (Entry, bool, error) {
	s.locks.Lock(entry.PseudoID)
	defer s.locks.Unlock(entry.PseudoID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFail("save_entry"); err != nil {
		return Entry{}, false, err
	}

	if existing, ok := s.byCorr[entry.CorrelationID]; ok {
		return existing, false, nil
	}

	s.nextID++
	entry.ID = s.nextID
	s.entries[entry.PseudoID] = append(s.entries[entry.PseudoID], entry)
	s.byCorr[entry.CorrelationID] = entry
	return entry, true, nil
}

// ListEntries implements RecordStore.
func (s *MemoryStore) ListEntries(_ context.Context, pseudoID string) ([]Entry, error) {
	s.mu.Lock()
	if err := s.checkFail("list_entries"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	snapshot := make([]Entry, len(s.entries[pseudoID]))
	copy(snapshot, s.entries[pseudoID])
	s.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].Timestamp.Before(snapshot[j].Timestamp)
	})
	return snapshot, nil
}

// DeleteUser implements RecordStore.
func (s *MemoryStore) DeleteUser(_ context.Context, pseudoID string) (int, error) {
	s.locks.Lock(pseudoID)
	defer s.locks.Unlock(pseudoID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFail("delete_user"); err != nil {
		return 0, err
	}

	removed := len(s.entries[pseudoID])
	for _, e := range s.entries[pseudoID] {
		delete(s.byCorr, e.CorrelationID)
	}
	delete(s.entries, pseudoID)
	delete(s.users, pseudoID)
	return removed, nil
}

// EnsureUser implements RecordStore.
func (s *MemoryStore) EnsureUser(_ context.Context, pseudoID, tz string, notifyHour int) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFail("ensure_user"); err != nil {
		return User{}, err
	}

	if u, ok := s.users[pseudoID]; ok {
		return u, nil
	}
	u := User{
		PseudoID:   pseudoID,
		TZ:         tz,
		NotifyHour: notifyHour,
		CreatedAt:  time.Now(),
	}
	s.users[pseudoID] = u
	return u, nil
}

// ListUsers implements RecordStore.
func (s *MemoryStore) ListUsers(_ context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	users := make([]User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	return users, nil
}

// Close implements RecordStore.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
