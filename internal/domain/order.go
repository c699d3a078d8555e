package domain

import "time"

// OrderLine is a single line of a finalized order, priced from the
// checkout's price snapshots.
type OrderLine struct {
	CartLineID  string
	VariantID   string
	WarehouseID string
	Quantity    int64
	UnitPrice   int64 // cents, from the snapshot
}

// Order is the record handed off when a checkout lock completes. The
// total is always snapshot-priced: the shopper pays what they were quoted.
type Order struct {
	OrderID     string
	LockID      string
	CartID      string
	Holder      string
	Lines       []OrderLine
	TotalAmount int64 // cents
	Currency    string
	CreatedAt   time.Time
}
