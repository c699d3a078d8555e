package service

import (
	"sync"

	"github.com/efreitasn/minicheckout/internal/domain"
)

// Pricer is the external pricing collaborator: the current catalog quote
// for a cart line's variant, in cents, plus its currency.
type Pricer interface {
	PriceOf(line domain.CartLine) (int64, string, error)
}

// VariantPrice is the current quote for one variant.
type VariantPrice struct {
	UnitPrice int64 // cents
	Currency  string
}

// CatalogPricer is a thread-safe in-memory Pricer backed by a
// per-variant price table, settable at runtime through the admin
// surface. It stands in for the catalog/pricing engine the core consumes
// in production.
type CatalogPricer struct {
	mu     sync.RWMutex
	prices map[string]VariantPrice
}

// NewCatalogPricer creates an empty CatalogPricer.
func NewCatalogPricer() *CatalogPricer {
	return &CatalogPricer{
		prices: make(map[string]VariantPrice),
	}
}

// SetPrice sets the current quote for a variant.
func (p *CatalogPricer) SetPrice(variantID string, unitPrice int64, currency string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[variantID] = VariantPrice{UnitPrice: unitPrice, Currency: currency}
}

// PriceOf returns the current quote for the line's variant. It returns
// domain.ErrVariantNotPriced for a variant with no quote.
func (p *CatalogPricer) PriceOf(line domain.CartLine) (int64, string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	vp, ok := p.prices[line.VariantID]
	if !ok {
		return 0, "", domain.ErrVariantNotPriced
	}
	return vp.UnitPrice, vp.Currency, nil
}
