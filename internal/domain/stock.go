package domain

import "github.com/google/uuid"

// StockKey identifies a ledger position: one variant in one warehouse.
type StockKey struct {
	VariantID   string
	WarehouseID string
}

// Less defines the total order over stock keys: variant_id first, then
// warehouse_id. Every multi-line ledger operation acquires its per-key
// locks in this order, which rules out lock-ordering deadlocks between
// overlapping reservations.
func (k StockKey) Less(other StockKey) bool {
	if k.VariantID != other.VariantID {
		return k.VariantID < other.VariantID
	}
	return k.WarehouseID < other.WarehouseID
}

// ReservationLine is one requested debit within a reserve call.
type ReservationLine struct {
	VariantID   string
	WarehouseID string
	Quantity    int64
}

// Key returns the ledger position the line targets.
func (l ReservationLine) Key() StockKey {
	return StockKey{VariantID: l.VariantID, WarehouseID: l.WarehouseID}
}

// StockReservation is a temporary hold on inventory owned by a checkout
// lock. It is released when the lock fails or expires, and converted into
// a permanent on-hand deduction when the lock completes.
type StockReservation struct {
	ReservationID string
	LockID        string
	VariantID     string
	WarehouseID   string
	Quantity      int64
}

// NewStockReservation creates a reservation record for the given lock
// and line.
func NewStockReservation(lockID string, line ReservationLine) *StockReservation {
	return &StockReservation{
		ReservationID: uuid.New().String(),
		LockID:        lockID,
		VariantID:     line.VariantID,
		WarehouseID:   line.WarehouseID,
		Quantity:      line.Quantity,
	}
}

// StockShortfall describes one line a reserve call could not satisfy.
type StockShortfall struct {
	VariantID   string
	WarehouseID string
	Requested   int64
	Available   int64
	Shortfall   int64 // Requested - Available
}
