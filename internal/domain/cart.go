package domain

// CartLine is a single line of a cart presented for checkout: a quantity
// of one variant to be fulfilled from one warehouse.
type CartLine struct {
	LineID      string
	VariantID   string
	WarehouseID string
	Quantity    int64
}

// Cart is the unit of checkout. The core never stores carts; the calling
// layer presents the full cart at acquisition time.
type Cart struct {
	CartID string
	Holder string
	Lines  []CartLine
}
