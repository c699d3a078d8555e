package service

import (
	"regexp"

	"github.com/efreitasn/minicheckout/internal/domain"
	"github.com/efreitasn/minicheckout/internal/engine"
)

var (
	stockIDRegex  = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)
)

// StockService is the admin surface over the reservation ledger and the
// catalog pricer: receiving stock and repricing variants. The ledger
// counters themselves are only ever mutated through reserve/release/
// commit and SetOnHand.
type StockService struct {
	ledger *engine.Ledger
	pricer *CatalogPricer
}

// NewStockService creates a new StockService.
func NewStockService(ledger *engine.Ledger, pricer *CatalogPricer) *StockService {
	return &StockService{ledger: ledger, pricer: pricer}
}

// SetOnHand sets the physical stock count for a (variant, warehouse)
// position and returns the resulting view.
func (s *StockService) SetOnHand(variantID, warehouseID string, onHand int64) (engine.PositionView, error) {
	if !stockIDRegex.MatchString(variantID) {
		return engine.PositionView{}, &domain.ValidationError{Message: "variant_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	if !stockIDRegex.MatchString(warehouseID) {
		return engine.PositionView{}, &domain.ValidationError{Message: "warehouse_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	if err := s.ledger.SetOnHand(variantID, warehouseID, onHand); err != nil {
		return engine.PositionView{}, err
	}
	view, _ := s.ledger.Position(variantID, warehouseID)
	return view, nil
}

// ListPositions returns every ledger position ordered by
// (variant_id, warehouse_id).
func (s *StockService) ListPositions() []engine.PositionView {
	return s.ledger.Positions()
}

// SetPrice sets the current catalog quote for a variant. Price is given
// in dollars and stored in cents.
func (s *StockService) SetPrice(variantID string, price float64, currency string) (VariantPrice, error) {
	if !stockIDRegex.MatchString(variantID) {
		return VariantPrice{}, &domain.ValidationError{Message: "variant_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	if price <= 0 {
		return VariantPrice{}, &domain.ValidationError{Message: "price must be greater than 0"}
	}
	cents, err := domain.DollarsToCents(price)
	if err != nil {
		return VariantPrice{}, &domain.ValidationError{Message: "price must have at most 2 decimal places"}
	}
	if currency == "" {
		currency = "USD"
	}
	if !currencyRegex.MatchString(currency) {
		return VariantPrice{}, &domain.ValidationError{Message: "currency must be a 3-letter uppercase code"}
	}
	s.pricer.SetPrice(variantID, cents, currency)
	return VariantPrice{UnitPrice: cents, Currency: currency}, nil
}
