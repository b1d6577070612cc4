// Package strategy implements GridStrategy (spec §4.1): a pure
// function from a price band, grid count and symbol metadata to a
// validated, ordered sequence of grid levels, plus the fill-driven
// follow-up operations. It holds no exchange handle and performs no
// I/O — grounded on the teacher's grid.GridStrategy, which keeps the
// same "pure calculation, side effects live in the caller" shape, here
// generalized from the teacher's skewed market-making levels to the
// spec's fixed-band spot grid.
package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"gridbot/internal/core"
	apperrors "gridbot/pkg/errors"
	"gridbot/pkg/tradingutils"
)

// Config parameterizes one GridStrategy instance.
type Config struct {
	Symbol           string
	LowerPrice       decimal.Decimal
	UpperPrice       decimal.Decimal
	GridCount        int
	TotalInvestment  decimal.Decimal
	SymbolInfo       core.SymbolInfo
}

// GridStrategy holds the validated, ordered set of grid levels
// produced once at construction and mutated only by the fill
// callbacks.
type GridStrategy struct {
	cfg    Config
	levels []core.GridLevel
	tol    decimal.Decimal
}

// New builds a GridStrategy: gridCount+1 levels spaced uniformly across
// [lowerPrice, upperPrice], each assigned an equal share of
// totalInvestment, rounded to the symbol's tick/step and filtered for
// the minQty/minNotional invariants. Returns apperrors.ErrInsufficientLevels
// if fewer than two levels survive filtering.
func New(cfg Config) (*GridStrategy, error) {
	if cfg.GridCount < 1 {
		return nil, fmt.Errorf("grid count must be at least 1, got %d", cfg.GridCount)
	}
	if cfg.UpperPrice.LessThanOrEqual(cfg.LowerPrice) {
		return nil, fmt.Errorf("upper price %s must exceed lower price %s", cfg.UpperPrice, cfg.LowerPrice)
	}

	levelCount := cfg.GridCount + 1
	step := cfg.UpperPrice.Sub(cfg.LowerPrice).Div(decimal.NewFromInt(int64(cfg.GridCount)))
	perLevelInvestment := cfg.TotalInvestment.Div(decimal.NewFromInt(int64(levelCount)))

	levels := make([]core.GridLevel, 0, levelCount)
	for i := 0; i < levelCount; i++ {
		rawPrice := cfg.LowerPrice.Add(step.Mul(decimal.NewFromInt(int64(i))))
		price := tradingutils.RoundPrice(rawPrice, cfg.SymbolInfo.PriceDecimals)

		rawQty := perLevelInvestment.Div(price)
		qty := tradingutils.FloorToStep(rawQty, cfg.SymbolInfo.StepSize)
		qty = tradingutils.RoundQuantity(qty, cfg.SymbolInfo.QtyDecimals)

		valid := qty.GreaterThanOrEqual(cfg.SymbolInfo.MinQty) &&
			qty.Mul(price).GreaterThanOrEqual(cfg.SymbolInfo.MinNotional)

		levels = append(levels, core.GridLevel{
			Index:    i,
			Price:    price,
			Quantity: qty,
			Valid:    valid,
			Filled:   false,
		})
	}

	validCount := 0
	for _, l := range levels {
		if l.Valid {
			validCount++
		}
	}
	if validCount < 2 {
		return nil, apperrors.ErrInsufficientLevels
	}

	tol := cfg.SymbolInfo.TickSize.Div(decimal.NewFromInt(2))
	if tol.IsZero() {
		tol = decimal.NewFromFloat(0.00000001)
	}

	return &GridStrategy{cfg: cfg, levels: levels, tol: tol}, nil
}

// Levels returns a copy of the current level set, for persistence and
// inspection.
func (g *GridStrategy) Levels() []core.GridLevel {
	out := make([]core.GridLevel, len(g.levels))
	copy(out, g.levels)
	return out
}

// InitialOrders partitions the valid, unfilled levels around
// currentPrice: a level below current price gets a BUY, a level above
// gets a SELL. A level matching currentPrice within tolerance gets
// neither.
func (g *GridStrategy) InitialOrders(currentPrice decimal.Decimal) (buys, sells []core.GridLevel) {
	for _, level := range g.levels {
		if !level.Valid || level.Filled {
			continue
		}
		if tradingutils.WithinTolerance(level.Price, currentPrice, g.tol) {
			continue
		}
		if level.Price.GreaterThan(currentPrice) {
			sells = append(sells, level)
		} else {
			buys = append(buys, level)
		}
	}
	return buys, sells
}

// findLevel returns the index of the valid level whose price matches
// price within tolerance, or -1.
func (g *GridStrategy) findLevel(price decimal.Decimal) int {
	for i, level := range g.levels {
		if !level.Valid {
			continue
		}
		if tradingutils.WithinTolerance(level.Price, price, g.tol) {
			return i
		}
	}
	return -1
}

// nextValidAbove returns the index of the nearest valid level strictly
// above idx, or -1 if idx is the topmost valid level.
func (g *GridStrategy) nextValidAbove(idx int) int {
	for i := idx + 1; i < len(g.levels); i++ {
		if g.levels[i].Valid {
			return i
		}
	}
	return -1
}

// nextValidBelow returns the index of the nearest valid level strictly
// below idx, or -1 if idx is the bottommost valid level.
func (g *GridStrategy) nextValidBelow(idx int) int {
	for i := idx - 1; i >= 0; i-- {
		if g.levels[i].Valid {
			return i
		}
	}
	return -1
}

// OnBuyFilled marks the level matching price as filled and returns the
// follow-up sell to place at the next higher valid level, or
// FollowUpNone if the filled level is the topmost valid level or price
// matches no level.
func (g *GridStrategy) OnBuyFilled(price decimal.Decimal) core.FollowUpAction {
	idx := g.findLevel(price)
	if idx < 0 {
		return core.FollowUpAction{Type: core.FollowUpNone}
	}
	g.levels[idx].Filled = true

	above := g.nextValidAbove(idx)
	if above < 0 {
		return core.FollowUpAction{Type: core.FollowUpNone}
	}
	return core.FollowUpAction{
		Type:     core.FollowUpPlaceSell,
		Price:    g.levels[above].Price,
		Quantity: g.levels[above].Quantity,
	}
}

// OnSellFilled is the mirror of OnBuyFilled: it returns the follow-up
// buy to place at the next lower valid level, or FollowUpNone if the
// filled level is the bottommost valid level or price matches no
// level.
func (g *GridStrategy) OnSellFilled(price decimal.Decimal) core.FollowUpAction {
	idx := g.findLevel(price)
	if idx < 0 {
		return core.FollowUpAction{Type: core.FollowUpNone}
	}
	g.levels[idx].Filled = true

	below := g.nextValidBelow(idx)
	if below < 0 {
		return core.FollowUpAction{Type: core.FollowUpNone}
	}
	return core.FollowUpAction{
		Type:     core.FollowUpPlaceBuy,
		Price:    g.levels[below].Price,
		Quantity: g.levels[below].Quantity,
	}
}

// RestoreLevels replaces the in-memory level set, used when a GridBot
// reloads persisted state on boot; it does not re-validate the levels
// since they were already validated at the configuration that
// produced them.
func (g *GridStrategy) RestoreLevels(levels []core.GridLevel) {
	g.levels = make([]core.GridLevel, len(levels))
	copy(g.levels, levels)
}
