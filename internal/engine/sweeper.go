package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/efreitasn/minicheckout/internal/domain"
)

// Sweeper tracks Active checkout locks sorted by expires_at and
// periodically reclaims locks whose lease has elapsed. Reclamation is
// at-least-once and idempotent: the transition-first protocol in
// LockManager.ExpireIfDue makes a re-sweep a no-op, and the lazy expiry
// on reads means correctness never depends on the sweep cadence.
type Sweeper struct {
	interval    time.Duration
	manager     *LockManager
	activeLocks []*domain.CheckoutLock // sorted by expires_at ASC
	mu          sync.Mutex             // protects activeLocks slice
}

// NewSweeper creates a Sweeper that reclaims locks through the given
// manager at the given interval.
func NewSweeper(interval time.Duration, manager *LockManager) *Sweeper {
	return &Sweeper{
		interval:    interval,
		manager:     manager,
		activeLocks: make([]*domain.CheckoutLock, 0),
	}
}

// Add inserts a lock into the sorted activeLocks slice, maintaining
// expires_at ASC order. Only call this for locks that entered Active.
func (s *Sweeper) Add(lock *domain.CheckoutLock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := sort.Search(len(s.activeLocks), func(i int) bool {
		return s.activeLocks[i].ExpiresAt.After(lock.ExpiresAt)
	})
	s.activeLocks = append(s.activeLocks, nil)
	copy(s.activeLocks[idx+1:], s.activeLocks[idx:])
	s.activeLocks[idx] = lock
}

// Remove deletes a lock from the activeLocks slice by lock ID. Called
// when a lock terminates through completion or release; a missed Remove
// only costs a wasted state check on the next tick.
func (s *Sweeper) Remove(lockID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, l := range s.activeLocks {
		if l.LockID == lockID {
			s.activeLocks = append(s.activeLocks[:i], s.activeLocks[i+1:]...)
			return
		}
	}
}

// Start launches a background goroutine that ticks at the configured
// interval and sweeps due locks. It stops when ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				s.tick(t)
			}
		}
	}()
}

// tick pops every lock with expires_at <= now off the front of the
// sorted slice and hands each to the manager for reclamation. Locks
// that completed or were released since Add are skipped by the
// manager's state re-check.
func (s *Sweeper) tick(now time.Time) {
	s.mu.Lock()
	cutoff := 0
	for cutoff < len(s.activeLocks) {
		if s.activeLocks[cutoff].ExpiresAt.After(now) {
			break
		}
		cutoff++
	}
	due := s.activeLocks[:cutoff:cutoff]
	if cutoff > 0 {
		s.activeLocks = s.activeLocks[cutoff:]
	}
	s.mu.Unlock()

	for _, lock := range due {
		s.manager.ExpireIfDue(lock, now)
	}
}

// ActiveLockCount returns the number of locks currently tracked for
// expiry. Useful for testing.
func (s *Sweeper) ActiveLockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeLocks)
}
