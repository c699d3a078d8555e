package store

import (
	"sync"

	"github.com/efreitasn/minicheckout/internal/domain"
)

// OrderStore is a thread-safe in-memory store for finalized orders,
// with a primary index by order_id and a secondary index by the
// checkout lock that produced each order.
type OrderStore struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
	byLock map[string]*domain.Order
}

// NewOrderStore creates an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders: make(map[string]*domain.Order),
		byLock: make(map[string]*domain.Order),
	}
}

// Create adds an order to the store. A lock produces at most one order;
// if one already exists for the lock, the existing order is returned and
// the new one is discarded.
func (s *OrderStore) Create(o *domain.Order) *domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byLock[o.LockID]; ok {
		return existing
	}
	s.orders[o.OrderID] = o
	s.byLock[o.LockID] = o
	return o
}

// Get retrieves an order by ID. It returns domain.ErrOrderNotFound if
// the order does not exist.
func (s *OrderStore) Get(id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

// GetByLock retrieves the order produced by a lock, if any.
func (s *OrderStore) GetByLock(lockID string) (*domain.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.byLock[lockID]
	return o, ok
}
