package store

import (
	"sync"

	"github.com/efreitasn/minicheckout/internal/domain"
)

// LockStore is a thread-safe in-memory store for checkout locks, with a
// primary index by lock_id and a uniqueness index of the Active lock per
// cart_id. Terminal locks are retained for audit and never deleted.
type LockStore struct {
	mu           sync.RWMutex
	locks        map[string]*domain.CheckoutLock
	activeByCart map[string]*domain.CheckoutLock
}

// NewLockStore creates an empty LockStore.
func NewLockStore() *LockStore {
	return &LockStore{
		locks:        make(map[string]*domain.CheckoutLock),
		activeByCart: make(map[string]*domain.CheckoutLock),
	}
}

// Create adds an Active lock to the store. The check against the
// active-per-cart index and the insert happen under one critical
// section, so two concurrent acquires for the same cart cannot both
// succeed. Returns domain.ErrLockConflict if an Active lock already
// exists for the cart.
func (s *LockStore) Create(l *domain.CheckoutLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.activeByCart[l.CartID]; exists {
		return domain.ErrLockConflict
	}
	s.locks[l.LockID] = l
	s.activeByCart[l.CartID] = l
	return nil
}

// Get retrieves a lock by ID. It returns domain.ErrLockNotFound if the
// lock does not exist.
func (s *LockStore) Get(id string) (*domain.CheckoutLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.locks[id]
	if !ok {
		return nil, domain.ErrLockNotFound
	}
	return l, nil
}

// ActiveByCart returns the Active lock for a cart, if any.
func (s *LockStore) ActiveByCart(cartID string) (*domain.CheckoutLock, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.activeByCart[cartID]
	return l, ok
}

// ClearActive removes l from the active-per-cart index. Called when a
// lock leaves the Active state. A newer lock for the same cart is left
// untouched.
func (s *LockStore) ClearActive(l *domain.CheckoutLock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.activeByCart[l.CartID]; ok && cur.LockID == l.LockID {
		delete(s.activeByCart, l.CartID)
	}
}

// All returns every lock ever created, in no particular order. Used by
// the stats surface; the lock history is append-only.
func (s *LockStore) All() []*domain.CheckoutLock {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.CheckoutLock, 0, len(s.locks))
	for _, l := range s.locks {
		out = append(out, l)
	}
	return out
}
