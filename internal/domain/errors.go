package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrLockConflict       = errors.New("lock_conflict")
	ErrLockNotFound       = errors.New("lock_not_found")
	ErrExpiredLock        = errors.New("expired_lock")
	ErrInvalidTransition  = errors.New("invalid_transition")
	ErrOrderNotFound      = errors.New("order_not_found")
	ErrWebhookNotFound    = errors.New("webhook_not_found")
	ErrVariantNotPriced   = errors.New("variant_not_priced")
	ErrStockBelowReserved = errors.New("stock_below_reserved")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// InsufficientStockError reports every line a reserve call could not
// satisfy and by how much each was short. The reserve is all-or-nothing,
// so no line was debited.
type InsufficientStockError struct {
	Lines []StockShortfall
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient_stock: %d line(s) short", len(e.Lines))
}

// PriceDriftError reports every cart line whose live price moved beyond
// tolerance since the snapshot was captured.
type PriceDriftError struct {
	Lines []PriceDifference
}

func (e *PriceDriftError) Error() string {
	return fmt.Sprintf("price_drift: %d line(s) drifted", len(e.Lines))
}
