package risk

import (
	"context"

	"github.com/shopspring/decimal"

	"gridbot/internal/core"
)

// Decision is the outcome of a pre-trade check: either the order
// quantity is allowed through (possibly capped) or vetoed entirely.
type Decision struct {
	Allowed  bool
	Quantity decimal.Decimal
	Reason   string
}

// IsAllowed is a convenience reader used by callers that branch on the
// decision without destructuring the struct.
func (d Decision) IsAllowed() bool { return d.Allowed }

// Guard runs the three-step pre-trade veto chain of spec §4.4: a
// portfolio halt check, then a position-size cap, then an allocation
// check that vetoes a BUY whose notional exceeds the available capital.
// Both of the last two steps only constrain BUY orders and degrade
// gracefully (the order passes through unchanged, with a logged
// warning) when their backing service errs.
type Guard struct {
	registry    *StopLossRegistry
	sizer       core.PositionSizer
	allocation  core.AllocationConstraints
	logger      core.ILogger
}

// NewGuard builds a Guard. sizer and allocation are optional: a nil
// value skips that step entirely (treated as "no cap configured",
// not as a failure).
func NewGuard(registry *StopLossRegistry, sizer core.PositionSizer, allocation core.AllocationConstraints, logger core.ILogger) *Guard {
	return &Guard{
		registry:   registry,
		sizer:      sizer,
		allocation: allocation,
		logger:     logger.WithField("component", "risk_guard"),
	}
}

// CheckBuy runs all three veto steps for a proposed BUY of qty units of
// symbol at price, given the current portfolio value, invested capital
// and a signal confidence in [0,1] passed through to the sizer.
// MaxPosition is a notional (quote-currency) cap, so it is compared
// against qty*price, not qty directly.
func (g *Guard) CheckBuy(ctx context.Context, symbol string, qty, price, portfolioValue, currentInvested decimal.Decimal, signalConfidence float64) Decision {
	if g.registry != nil && g.registry.IsPortfolioHalted() {
		return Decision{Allowed: false, Reason: "portfolio drawdown halt active"}
	}

	capped := qty

	if g.sizer != nil {
		maxPos, err := g.sizer.MaxPosition(ctx, symbol, portfolioValue, signalConfidence)
		if err != nil {
			g.logger.Warn("position sizer failed, allowing order uncapped", "symbol", symbol, "error", err.Error())
		} else if price.IsPositive() {
			notional := capped.Mul(price)
			if notional.GreaterThan(maxPos) {
				capped = maxPos.Div(price)
			}
		}
	}

	if g.allocation != nil {
		available, err := g.allocation.AvailableCapital(ctx, portfolioValue, currentInvested)
		if err != nil {
			g.logger.Warn("allocation constraints failed, allowing order uncapped", "symbol", symbol, "error", err.Error())
		} else if available.IsZero() || available.IsNegative() {
			return Decision{Allowed: false, Reason: "allocation envelope exhausted"}
		} else if capped.Mul(price).GreaterThan(available) {
			return Decision{Allowed: false, Reason: "order notional exceeds available allocation"}
		}
	}

	if !capped.IsPositive() {
		return Decision{Allowed: false, Reason: "capped quantity is non-positive"}
	}

	return Decision{Allowed: true, Quantity: capped}
}

// CheckSell runs only the portfolio halt step: sells are never capped
// by position sizing or allocation, since they reduce exposure.
func (g *Guard) CheckSell(symbol string) Decision {
	if g.registry != nil && g.registry.IsPortfolioHalted() {
		return Decision{Allowed: false, Reason: "portfolio drawdown halt active"}
	}
	return Decision{Allowed: true}
}
