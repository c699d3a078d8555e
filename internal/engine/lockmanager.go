package engine

import (
	"time"

	"github.com/efreitasn/minicheckout/internal/domain"
	"github.com/efreitasn/minicheckout/internal/store"
	"github.com/google/uuid"
)

// EventDispatcher is an interface for dispatching checkout lifecycle
// notifications from the engine layer without depending on the service
// layer directly.
type EventDispatcher interface {
	DispatchCheckoutExpired(lock *domain.CheckoutLock)
}

// LockManager enforces the checkout-lock state machine and the
// one-Active-lock-per-cart invariant. All state mutations go through
// Transition; terminal transitions happen before their ledger side
// effect, so competing finalizers (completion, manual release, sweep)
// serialize on the state machine and each ledger operation runs at most
// once per lock.
type LockManager struct {
	locks      *store.LockStore
	ledger     *Ledger
	dispatcher EventDispatcher // may be nil
}

// NewLockManager creates a LockManager over the given store and ledger.
func NewLockManager(locks *store.LockStore, ledger *Ledger, dispatcher EventDispatcher) *LockManager {
	return &LockManager{
		locks:      locks,
		ledger:     ledger,
		dispatcher: dispatcher,
	}
}

// Acquire creates an Active lock for the cart with the given lease, or
// returns the existing Active lock when the same holder re-enters
// (idempotent re-entry, created=false). Any other holder gets
// domain.ErrLockConflict. A stale Active lock found on the way in is
// expired in place first.
func (m *LockManager) Acquire(cartID, holder string, ttl time.Duration, lines []domain.CartLine) (lock *domain.CheckoutLock, created bool, err error) {
	now := time.Now()

	if existing, ok := m.locks.ActiveByCart(cartID); ok {
		if !m.ExpireIfDue(existing, now) {
			if existing.Holder == holder {
				return existing, false, nil
			}
			return nil, false, domain.ErrLockConflict
		}
		// Stale lock reclaimed; fall through and acquire fresh.
	}

	l := &domain.CheckoutLock{
		LockID:     uuid.New().String(),
		CartID:     cartID,
		Holder:     holder,
		State:      domain.LockStateActive,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
		Lines:      lines,
	}

	if err := m.locks.Create(l); err != nil {
		// Lost the race to a concurrent acquire. Same holder still gets
		// the winner's lock back.
		if winner, ok := m.locks.ActiveByCart(cartID); ok && winner.Holder == holder {
			return winner, false, nil
		}
		return nil, false, err
	}
	return l, true, nil
}

// Transition moves a lock to the target state. Only Active →
// {Completed, Failed, Expired} are legal. Repeating a terminal
// transition with the same target is an idempotent no-op; requesting a
// different target on a terminal lock returns
// domain.ErrInvalidTransition.
func (m *LockManager) Transition(lockID string, target domain.LockState, reason string) (*domain.CheckoutLock, error) {
	l, err := m.locks.Get(lockID)
	if err != nil {
		return nil, err
	}

	l.Mu.Lock()
	defer l.Mu.Unlock()

	if l.State == target {
		return l, nil
	}
	if !l.State.CanTransition(target) {
		return nil, domain.ErrInvalidTransition
	}

	now := time.Now()
	switch target {
	case domain.LockStateCompleted:
		l.CompletedAt = &now
	case domain.LockStateFailed, domain.LockStateExpired:
		l.FailedAt = &now
		l.FailureReason = reason
	}
	l.State = target
	m.locks.ClearActive(l)

	return l, nil
}

// Get retrieves a lock by ID, expiring it in place if its lease has
// elapsed — no read ever observes a stale Active lock.
func (m *LockManager) Get(lockID string) (*domain.CheckoutLock, error) {
	l, err := m.locks.Get(lockID)
	if err != nil {
		return nil, err
	}
	m.ExpireIfDue(l, time.Now())
	return l, nil
}

// ExpireIfDue reclaims the lock if it is Active with an elapsed lease:
// transition to Expired first, then release its reservations. Reports
// whether the lock is in the Expired state afterwards. Safe to call
// repeatedly and from multiple goroutines; the state check and the
// transition happen in one critical section, so exactly one caller wins
// and performs the release and the expiry event.
func (m *LockManager) ExpireIfDue(l *domain.CheckoutLock, now time.Time) bool {
	l.Mu.Lock()
	if l.State != domain.LockStateActive || !l.Expired(now) {
		expired := l.State == domain.LockStateExpired
		l.Mu.Unlock()
		return expired
	}
	at := time.Now()
	l.FailedAt = &at
	l.FailureReason = "lease_expired"
	l.State = domain.LockStateExpired
	m.locks.ClearActive(l)
	l.Mu.Unlock()

	m.ledger.Release(l.LockID)
	if m.dispatcher != nil {
		m.dispatcher.DispatchCheckoutExpired(l)
	}
	return true
}

// All exposes the full lock history for the stats surface.
func (m *LockManager) All() []*domain.CheckoutLock {
	return m.locks.All()
}
