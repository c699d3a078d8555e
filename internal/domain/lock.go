package domain

import (
	"sync"
	"time"
)

// LockState represents the lifecycle state of a checkout lock.
type LockState string

const (
	LockStateActive    LockState = "active"
	LockStateCompleted LockState = "completed"
	LockStateFailed    LockState = "failed"
	LockStateExpired   LockState = "expired"
)

// IsTerminal reports whether the state is one of the three terminal
// states. Terminal locks are retained for audit and never mutated again.
func (s LockState) IsTerminal() bool {
	switch s {
	case LockStateCompleted, LockStateFailed, LockStateExpired:
		return true
	case LockStateActive:
		return false
	}
	return false
}

// CanTransition reports whether a lock in state s may move to target.
// Only Active → {Completed, Failed, Expired} are legal.
func (s LockState) CanTransition(target LockState) bool {
	if s != LockStateActive {
		return false
	}
	switch target {
	case LockStateCompleted, LockStateFailed, LockStateExpired:
		return true
	}
	return false
}

// CheckoutLock is the exclusivity token for a single cart checkout.
// At most one Active lock exists per cart_id at any instant.
//
// State, the terminal timestamps, and FailureReason are mutable and
// guarded by Mu; read them through Status or View. Every other field is
// set once at creation and safe to read directly.
type CheckoutLock struct {
	LockID        string
	CartID        string
	Holder        string // user/session that owns the checkout
	State         LockState
	AcquiredAt    time.Time
	ExpiresAt     time.Time
	CompletedAt   *time.Time
	FailedAt      *time.Time
	FailureReason string
	Lines         []CartLine   // cart lines captured at acquisition
	Mu            sync.RWMutex // guards State, terminal timestamps, FailureReason
}

// LockView is a consistent copy of the mutable lock fields, taken in
// one critical section so a reader never sees a half-applied transition.
type LockView struct {
	State         LockState
	CompletedAt   *time.Time
	FailedAt      *time.Time
	FailureReason string
}

// Status returns the lock's current state.
func (l *CheckoutLock) Status() LockState {
	l.Mu.RLock()
	defer l.Mu.RUnlock()
	return l.State
}

// View returns a consistent copy of the mutable fields.
func (l *CheckoutLock) View() LockView {
	l.Mu.RLock()
	defer l.Mu.RUnlock()
	return LockView{
		State:         l.State,
		CompletedAt:   l.CompletedAt,
		FailedAt:      l.FailedAt,
		FailureReason: l.FailureReason,
	}
}

// Expired reports whether the lock's lease has elapsed at the given
// instant. Only meaningful while the lock is Active.
func (l *CheckoutLock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}
