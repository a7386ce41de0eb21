package stripe

import "github.com/shopspring/decimal"

// MinorUnits converts a major-unit currency amount (e.g. 25.50 USD) to the
// processor's integer minor-unit representation (2550 cents), rounding half up.
// Going through decimal avoids binary float drift: 12.345 reliably becomes 1235.
func MinorUnits(amount float64) int64 {
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
