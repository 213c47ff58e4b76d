package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process. It backs the memory repository
// backend, quotectl and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Claim(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	now = now.UTC()
	id := entryID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[id]; ok && !existing.expiredAt(now) {
		return existing.claimFor(fingerprint)
	}
	entry := newEntry(key, fingerprint, now, normalizeTTL(ttl))
	s.entries[id] = entry
	return Claim{Outcome: ClaimAcquired, Entry: entry}, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, reply Reply, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	id := entryID(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	switch {
	case !ok:
		entry = newEntry(key, fingerprint, now, 0)
	case entry.Fingerprint != fingerprint:
		return ErrKeyReused
	}
	entry.State = EntryStored
	entry.Reply = Reply{Status: reply.Status, Header: replayable(reply.Header), Body: cloneBody(reply.Body)}
	entry.ExpiresAt = now.Add(normalizeTTL(ttl))
	s.entries[id] = entry
	return nil
}

func (s *MemoryStore) Abandon(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, entryID(key))
	s.mu.Unlock()
	return nil
}

// Sweep drops at most limit expired entries; limit <= 0 means all of them.
func (s *MemoryStore) Sweep(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.entries {
		if limit > 0 && removed == limit {
			break
		}
		if entry.expiredAt(now) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many entries are held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
