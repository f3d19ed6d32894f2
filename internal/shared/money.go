package shared

import "github.com/shopspring/decimal"

// Epsilon is the tolerance for monetary comparisons.
var Epsilon = decimal.New(1, -2)

// Round2 rounds to cents.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// WithinEpsilon reports |a-b| <= Epsilon.
func WithinEpsilon(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Epsilon)
}

// NonNegative clamps negative values to zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
