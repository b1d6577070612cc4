// Package tradingutils holds small, pure decimal helpers shared by the
// grid strategy and risk layers.
package tradingutils

import (
	"github.com/shopspring/decimal"
)

// RoundPrice rounds a price to the symbol's tick precision.
func RoundPrice(price decimal.Decimal, priceDecimals int32) decimal.Decimal {
	return price.Round(priceDecimals)
}

// RoundQuantity rounds a quantity to the symbol's step precision.
func RoundQuantity(qty decimal.Decimal, qtyDecimals int32) decimal.Decimal {
	return qty.Round(qtyDecimals)
}

// FloorToStep floors qty down to the nearest multiple of step, never
// rounding up — spec §3 requires quantities to be floored, not rounded,
// so an order is never placed above the available balance.
func FloorToStep(qty, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return qty
	}
	units := qty.Div(step).Floor()
	return units.Mul(step)
}

// WithinTolerance reports whether a and b differ by less than tol,
// used for the grid strategy's fill-price matching (spec §4.1: "an
// absolute tolerance smaller than the tick size").
func WithinTolerance(a, b, tol decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(tol)
}

// CalculateNetProfit computes profit after trading fees on both legs.
func CalculateNetProfit(buyPrice, sellPrice, buyFeeRate, sellFeeRate decimal.Decimal) decimal.Decimal {
	grossProfit := sellPrice.Sub(buyPrice)
	buyFee := buyPrice.Mul(buyFeeRate)
	sellFee := sellPrice.Mul(sellFeeRate)
	return grossProfit.Sub(buyFee).Sub(sellFee)
}
