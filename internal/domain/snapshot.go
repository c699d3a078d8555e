package domain

import "time"

// PriceSnapshot is the write-once record of the unit price quoted for one
// cart line at lock-acquisition time. Snapshots are retained after the
// lock terminates and never mutated.
type PriceSnapshot struct {
	SnapshotID string
	LockID     string
	CartLineID string
	UnitPrice  int64 // cents
	Currency   string
	CapturedAt time.Time
}

// PriceDifference describes one cart line whose live price no longer
// matches its snapshot beyond the configured tolerance.
type PriceDifference struct {
	CartLineID    string
	SnapshotPrice int64 // cents
	LivePrice     int64 // cents
}
