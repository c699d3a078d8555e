package store

import (
	"sync"

	"github.com/efreitasn/minicheckout/internal/domain"
)

// SnapshotStore is a thread-safe in-memory store for price snapshots,
// keyed by the owning lock. Snapshots are write-once per lock: the first
// capture wins and later captures are rejected. They are retained after
// the lock terminates and never mutated.
type SnapshotStore struct {
	mu     sync.RWMutex
	byLock map[string][]*domain.PriceSnapshot
}

// NewSnapshotStore creates an empty SnapshotStore.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		byLock: make(map[string][]*domain.PriceSnapshot),
	}
}

// Create records the snapshots for a lock. Returns false if snapshots
// already exist for that lock, leaving the existing ones untouched.
func (s *SnapshotStore) Create(lockID string, snaps []*domain.PriceSnapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byLock[lockID]; exists {
		return false
	}
	s.byLock[lockID] = snaps
	return true
}

// ListByLock returns the snapshots captured for a lock, or an empty
// slice if none were captured.
func (s *SnapshotStore) ListByLock(lockID string) []*domain.PriceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.byLock[lockID]
	out := make([]*domain.PriceSnapshot, len(snaps))
	copy(out, snaps)
	return out
}
