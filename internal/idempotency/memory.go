package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	entry   Entry
	expires time.Time
}

// MemoryStore is a process-local Store guarded by a mutex.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore returns an empty store. A non-positive ttl uses DefaultTTL.
func NewMemoryStore(ttl time.Duration, opts ...MemoryOption) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	return e, ok, nil
}

// PutIfAbsent implements Store.
func (s *MemoryStore) PutIfAbsent(_ context.Context, key string, entry Entry) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.live(key); ok {
		return existing, false, nil
	}
	s.entries[key] = memoryEntry{entry: entry, expires: s.now().Add(s.ttl)}
	return entry, true, nil
}

// PruneExpired drops expired entries and returns how many live ones remain.
func (s *MemoryStore) PruneExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, k)
		}
	}
	return len(s.entries)
}

// live returns the unexpired entry for key. Callers hold s.mu.
func (s *MemoryStore) live(key string) (Entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	if !s.now().Before(e.expires) {
		delete(s.entries, key)
		return Entry{}, false
	}
	return e.entry, true
}
