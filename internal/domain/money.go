package domain

import (
	"fmt"
	"math"
)

// DollarsToCents converts a dollar amount arriving at the JSON boundary
// into the int64 cents every price in the core is stored as. Amounts
// with more than 2 decimal places are rejected: a catalog quote never
// carries sub-cent precision.
func DollarsToCents(f float64) (int64, error) {
	// Scale by 1000 and round so a meaningful third decimal digit
	// survives float64 noise (10.50 may arrive as 10.499999...) and can
	// be detected.
	scaled := math.Round(f * 1000)
	if math.Mod(scaled, 10) != 0 {
		return 0, fmt.Errorf("monetary values must have at most 2 decimal places")
	}

	cents := math.Round(f * 100)
	return int64(cents), nil
}

// CentsToDollars converts stored cents back to the dollar amount used
// in responses.
func CentsToDollars(c int64) float64 {
	return float64(c) / 100.0
}
