// Package decimals provides the fixed-point helpers every outgoing price and
// size must pass through. The CLOB quotes probabilities on a 0.01 tick and
// accepts share sizes with at most 4 decimals; amounts sent on the wire are
// truncated, never rounded up, so an encoded order can never exceed the
// balance backing it.
package decimals

import "github.com/shopspring/decimal"

// Tick is the minimum price increment on the CLOB.
var Tick = decimal.RequireFromString("0.01")

// SellSizeDecimals is the share precision accepted on sells.
const SellSizeDecimals = 4

// RoundToTick rounds a price to the nearest 0.01 tick.
func RoundToTick(price decimal.Decimal) decimal.Decimal {
	ticks := price.Div(Tick).Round(0)
	return ticks.Mul(Tick).Round(2)
}

// FloorTo truncates toward zero at the given number of decimal places.
func FloorTo(x decimal.Decimal, places int32) decimal.Decimal {
	factor := decimal.New(1, places)
	return x.Mul(factor).Truncate(0).Div(factor)
}

// FloorShares truncates a share quantity to the CLOB's 4-decimal precision.
func FloorShares(x decimal.Decimal) decimal.Decimal {
	return FloorTo(x, SellSizeDecimals)
}

// Clamp bounds x to [lo, hi].
func Clamp(x, lo, hi decimal.Decimal) decimal.Decimal {
	if x.LessThan(lo) {
		return lo
	}
	if x.GreaterThan(hi) {
		return hi
	}
	return x
}

// Format2 renders a value with exactly two decimal places for log lines
// (0.4 → "0.40", 10.5 → "10.50").
func Format2(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}

// Format2Ptr renders an optional value, "-" when absent.
func Format2Ptr(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return Format2(*d)
}
