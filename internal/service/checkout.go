package service

import (
	"regexp"
	"time"

	"github.com/efreitasn/minicheckout/internal/domain"
	"github.com/efreitasn/minicheckout/internal/engine"
	"github.com/efreitasn/minicheckout/internal/store"
	"github.com/google/uuid"
)

var checkoutIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Failure reasons recorded on the lock when the orchestrator fails it.
const (
	ReasonInsufficientStock  = "insufficient_stock"
	ReasonPriceDrift         = "price_drift"
	ReasonPricingUnavailable = "pricing_unavailable"
	ReasonManualRelease      = "manual_release"
)

// CartLineRequest is one cart line presented for checkout.
type CartLineRequest struct {
	LineID      string
	VariantID   string
	WarehouseID string
	Quantity    int64
}

// AcquireCheckoutRequest represents the input for checkout acquisition.
type AcquireCheckoutRequest struct {
	CartID string
	Holder string
	TTL    *time.Duration // nil → configured default
	Lines  []CartLineRequest
}

// CheckoutView bundles a lock with its snapshots and outstanding holds
// for the observability surface.
type CheckoutView struct {
	Lock         *domain.CheckoutLock
	Snapshots    []*domain.PriceSnapshot
	Reservations []*domain.StockReservation
}

// StatsResponse aggregates lock history counters. Window counts cover
// terminal transitions within the stats window; SuccessRate is
// completed/(completed+failed) over that window, nil when no checkout
// terminated in it.
type StatsResponse struct {
	ActiveCount     int
	CompletedCount  int
	FailedCount     int
	ExpiredCount    int
	WindowCompleted int
	WindowFailed    int
	SuccessRate     *float64
	Window          time.Duration
}

// CheckoutService is the orchestrator composing the lock manager, the
// reservation ledger, and the snapshot store into the public
// acquire → verify → complete|release protocol.
type CheckoutService struct {
	manager   *engine.LockManager
	ledger    *engine.Ledger
	sweeper   *engine.Sweeper
	snapshots *store.SnapshotStore
	orders    *store.OrderStore
	pricer    Pricer
	webhooks  *WebhookService // may be nil

	lockTTL            time.Duration
	tolerance          int64 // cents
	allowPriceDecrease bool
	statsWindow        time.Duration
}

// NewCheckoutService creates a new CheckoutService with the given
// dependencies and policy knobs.
func NewCheckoutService(
	manager *engine.LockManager,
	ledger *engine.Ledger,
	sweeper *engine.Sweeper,
	snapshots *store.SnapshotStore,
	orders *store.OrderStore,
	pricer Pricer,
	webhooks *WebhookService,
	lockTTL time.Duration,
	tolerance int64,
	allowPriceDecrease bool,
	statsWindow time.Duration,
) *CheckoutService {
	return &CheckoutService{
		manager:            manager,
		ledger:             ledger,
		sweeper:            sweeper,
		snapshots:          snapshots,
		orders:             orders,
		pricer:             pricer,
		webhooks:           webhooks,
		lockTTL:            lockTTL,
		tolerance:          tolerance,
		allowPriceDecrease: allowPriceDecrease,
		statsWindow:        statsWindow,
	}
}

// AcquireCheckout validates the cart, acquires the exclusivity lock,
// reserves stock for every line as one atomic unit, and captures the
// quoted prices. A failed reservation fails the fresh lock and
// propagates the per-line shortfalls; the same holder re-entering an
// Active checkout gets the existing lock back unchanged.
func (s *CheckoutService) AcquireCheckout(req AcquireCheckoutRequest) (*domain.CheckoutLock, error) {
	lines, ttl, err := s.validateAcquire(req)
	if err != nil {
		return nil, err
	}

	lock, created, err := s.manager.Acquire(req.CartID, req.Holder, ttl, lines)
	if err != nil {
		return nil, err
	}
	if !created {
		// Idempotent re-entry: reservations and snapshots already exist.
		return lock, nil
	}

	resLines := make([]domain.ReservationLine, len(lines))
	for i, l := range lines {
		resLines[i] = domain.ReservationLine{
			VariantID:   l.VariantID,
			WarehouseID: l.WarehouseID,
			Quantity:    l.Quantity,
		}
	}
	if err := s.ledger.Reserve(lock.LockID, resLines); err != nil {
		s.failLock(lock, ReasonInsufficientStock, false)
		return nil, err
	}

	// Capture quoted prices. Must not run when reservation failed; a
	// pricing failure here compensates by releasing the fresh holds.
	capturedAt := time.Now()
	snaps := make([]*domain.PriceSnapshot, 0, len(lines))
	for _, l := range lines {
		unitPrice, currency, err := s.pricer.PriceOf(l)
		if err != nil {
			s.failLock(lock, ReasonPricingUnavailable, true)
			return nil, err
		}
		snaps = append(snaps, &domain.PriceSnapshot{
			SnapshotID: uuid.New().String(),
			LockID:     lock.LockID,
			CartLineID: l.LineID,
			UnitPrice:  unitPrice,
			Currency:   currency,
			CapturedAt: capturedAt,
		})
	}
	s.snapshots.Create(lock.LockID, snaps)

	s.sweeper.Add(lock)
	return lock, nil
}

// CompleteCheckout re-derives live prices, verifies them against the
// snapshots, and on a match commits the reservations and hands off to
// order creation. On drift the lock fails, its holds are released, and
// the per-line differences are returned so the caller can re-quote.
// Completing an already-Completed lock returns the same order.
func (s *CheckoutService) CompleteCheckout(lockID string) (*domain.Order, error) {
	lock, err := s.manager.Get(lockID)
	if err != nil {
		return nil, err
	}

	switch lock.Status() {
	case domain.LockStateExpired:
		return nil, domain.ErrExpiredLock
	case domain.LockStateCompleted:
		if o, ok := s.orders.GetByLock(lockID); ok {
			return o, nil
		}
		return nil, domain.ErrInvalidTransition
	case domain.LockStateFailed:
		return nil, domain.ErrInvalidTransition
	}

	drifted, err := s.verifyPrices(lock)
	if err != nil {
		s.failLock(lock, ReasonPricingUnavailable, true)
		return nil, err
	}
	if len(drifted) > 0 {
		if s.failLock(lock, ReasonPriceDrift, true) {
			return nil, &domain.PriceDriftError{Lines: drifted}
		}
		// Lost to a concurrent finalizer while verifying.
		return nil, s.terminalError(lock)
	}

	if _, err := s.manager.Transition(lockID, domain.LockStateCompleted, ""); err != nil {
		return nil, s.terminalError(lock)
	}
	s.ledger.Commit(lockID)

	order := s.orders.Create(s.buildOrder(lock))
	s.sweeper.Remove(lockID)
	if s.webhooks != nil {
		s.webhooks.DispatchCheckoutCompleted(lock, order)
	}
	return order, nil
}

// ReleaseCheckout fails the lock and returns its reserved quantity to
// the ledger. Idempotent: releasing an already-Failed or already-Expired
// lock is a no-op — its holds are gone either way. Releasing a
// Completed checkout is an invalid transition.
func (s *CheckoutService) ReleaseCheckout(lockID, reason string) error {
	lock, err := s.manager.Get(lockID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = ReasonManualRelease
	}

	switch lock.Status() {
	case domain.LockStateFailed, domain.LockStateExpired:
		return nil
	case domain.LockStateCompleted:
		return domain.ErrInvalidTransition
	}

	if !s.failLock(lock, reason, true) {
		// A concurrent finalizer won the transition.
		if lock.Status() == domain.LockStateCompleted {
			return domain.ErrInvalidTransition
		}
		return nil
	}
	return nil
}

// GetCheckout returns the lock with its snapshots and outstanding
// holds. Reads expire stale Active locks in place.
func (s *CheckoutService) GetCheckout(lockID string) (*CheckoutView, error) {
	lock, err := s.manager.Get(lockID)
	if err != nil {
		return nil, err
	}
	return &CheckoutView{
		Lock:         lock,
		Snapshots:    s.snapshots.ListByLock(lockID),
		Reservations: s.ledger.ReservationsFor(lockID),
	}, nil
}

// GetOrder returns a finalized order by ID.
func (s *CheckoutService) GetOrder(orderID string) (*domain.Order, error) {
	return s.orders.Get(orderID)
}

// Stats derives aggregate counters from the retained lock history.
// Active locks with elapsed leases are reclaimed before counting, so
// the report never shows a stale Active lock.
func (s *CheckoutService) Stats() StatsResponse {
	now := time.Now()
	windowStart := now.Add(-s.statsWindow)

	resp := StatsResponse{Window: s.statsWindow}
	for _, l := range s.manager.All() {
		if l.Status() == domain.LockStateActive {
			s.manager.ExpireIfDue(l, now)
		}
		view := l.View()
		switch view.State {
		case domain.LockStateActive:
			resp.ActiveCount++
		case domain.LockStateCompleted:
			resp.CompletedCount++
			if view.CompletedAt != nil && !view.CompletedAt.Before(windowStart) {
				resp.WindowCompleted++
			}
		case domain.LockStateFailed:
			resp.FailedCount++
			if view.FailedAt != nil && !view.FailedAt.Before(windowStart) {
				resp.WindowFailed++
			}
		case domain.LockStateExpired:
			resp.ExpiredCount++
		}
	}

	if denom := resp.WindowCompleted + resp.WindowFailed; denom > 0 {
		rate := float64(resp.WindowCompleted) / float64(denom)
		resp.SuccessRate = &rate
	}
	return resp
}

// failLock transitions the lock to Failed and, when releaseHolds is
// set, returns its reservations to the ledger. Reports whether this
// caller performed the transition. The transition-first order means a
// concurrent sweep or release cannot double-release.
func (s *CheckoutService) failLock(lock *domain.CheckoutLock, reason string, releaseHolds bool) bool {
	if lock.Status() == domain.LockStateFailed {
		return false
	}
	if _, err := s.manager.Transition(lock.LockID, domain.LockStateFailed, reason); err != nil {
		return false
	}
	if releaseHolds {
		s.ledger.Release(lock.LockID)
	}
	s.sweeper.Remove(lock.LockID)
	if s.webhooks != nil {
		s.webhooks.DispatchCheckoutFailed(lock)
	}
	return true
}

// terminalError maps the state a concurrent finalizer left the lock in
// to the error the caller should see.
func (s *CheckoutService) terminalError(lock *domain.CheckoutLock) error {
	if lock.Status() == domain.LockStateExpired {
		return domain.ErrExpiredLock
	}
	return domain.ErrInvalidTransition
}

// verifyPrices compares each snapshot against the freshly recomputed
// price for its line. A line drifts when the live price exceeds the
// snapshot by more than the tolerance; decreases only count as drift
// when the decrease policy blocks them.
func (s *CheckoutService) verifyPrices(lock *domain.CheckoutLock) ([]domain.PriceDifference, error) {
	lineByID := make(map[string]domain.CartLine, len(lock.Lines))
	for _, l := range lock.Lines {
		lineByID[l.LineID] = l
	}

	var drifted []domain.PriceDifference
	for _, snap := range s.snapshots.ListByLock(lock.LockID) {
		line, ok := lineByID[snap.CartLineID]
		if !ok {
			continue
		}
		live, _, err := s.pricer.PriceOf(line)
		if err != nil {
			return nil, err
		}

		delta := live - snap.UnitPrice
		blocking := delta > s.tolerance
		if delta < 0 && !s.allowPriceDecrease && -delta > s.tolerance {
			blocking = true
		}
		if blocking {
			drifted = append(drifted, domain.PriceDifference{
				CartLineID:    snap.CartLineID,
				SnapshotPrice: snap.UnitPrice,
				LivePrice:     live,
			})
		}
	}
	return drifted, nil
}

// buildOrder assembles the order handed off on completion, priced from
// the snapshots so the shopper pays exactly what they were quoted.
func (s *CheckoutService) buildOrder(lock *domain.CheckoutLock) *domain.Order {
	priceByLine := make(map[string]*domain.PriceSnapshot)
	currency := "USD"
	for _, snap := range s.snapshots.ListByLock(lock.LockID) {
		priceByLine[snap.CartLineID] = snap
		currency = snap.Currency
	}

	order := &domain.Order{
		OrderID:   uuid.New().String(),
		LockID:    lock.LockID,
		CartID:    lock.CartID,
		Holder:    lock.Holder,
		Currency:  currency,
		CreatedAt: time.Now(),
	}
	for _, l := range lock.Lines {
		var unitPrice int64
		if snap, ok := priceByLine[l.LineID]; ok {
			unitPrice = snap.UnitPrice
		}
		order.Lines = append(order.Lines, domain.OrderLine{
			CartLineID:  l.LineID,
			VariantID:   l.VariantID,
			WarehouseID: l.WarehouseID,
			Quantity:    l.Quantity,
			UnitPrice:   unitPrice,
		})
		order.TotalAmount += unitPrice * l.Quantity
	}
	return order
}

// validateAcquire checks the acquire request and returns the domain
// cart lines plus the effective lease duration.
func (s *CheckoutService) validateAcquire(req AcquireCheckoutRequest) ([]domain.CartLine, time.Duration, error) {
	if !checkoutIDRegex.MatchString(req.CartID) {
		return nil, 0, &domain.ValidationError{Message: "cart_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	if !checkoutIDRegex.MatchString(req.Holder) {
		return nil, 0, &domain.ValidationError{Message: "holder must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	if len(req.Lines) == 0 {
		return nil, 0, &domain.ValidationError{Message: "lines must be a non-empty array"}
	}

	ttl := s.lockTTL
	if req.TTL != nil {
		if *req.TTL <= 0 {
			return nil, 0, &domain.ValidationError{Message: "ttl must be positive"}
		}
		ttl = *req.TTL
	}

	lines := make([]domain.CartLine, 0, len(req.Lines))
	seen := make(map[string]bool, len(req.Lines))
	for _, l := range req.Lines {
		if !checkoutIDRegex.MatchString(l.LineID) {
			return nil, 0, &domain.ValidationError{Message: "line_id must match ^[a-zA-Z0-9_-]{1,64}$"}
		}
		if seen[l.LineID] {
			return nil, 0, &domain.ValidationError{Message: "line_id values must be unique"}
		}
		seen[l.LineID] = true
		if !checkoutIDRegex.MatchString(l.VariantID) {
			return nil, 0, &domain.ValidationError{Message: "variant_id must match ^[a-zA-Z0-9_-]{1,64}$"}
		}
		if !checkoutIDRegex.MatchString(l.WarehouseID) {
			return nil, 0, &domain.ValidationError{Message: "warehouse_id must match ^[a-zA-Z0-9_-]{1,64}$"}
		}
		if l.Quantity <= 0 {
			return nil, 0, &domain.ValidationError{Message: "quantity must be a positive integer"}
		}
		lines = append(lines, domain.CartLine{
			LineID:      l.LineID,
			VariantID:   l.VariantID,
			WarehouseID: l.WarehouseID,
			Quantity:    l.Quantity,
		})
	}
	return lines, ttl, nil
}
