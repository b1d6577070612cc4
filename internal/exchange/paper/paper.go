// Package paper implements core.ExchangeClient as an in-memory paper
// trading simulator: orders fill instantly against a settable last
// price, a taker fee is deducted from the quote side, and balances are
// tracked per asset. Grounded on the teacher's internal/mock exchange,
// adapted from futures positions/margin bookkeeping to spot balances.
package paper

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"gridbot/internal/core"
	apperrors "gridbot/pkg/errors"
)

// TakerFeeRate is the simulated fee applied to every fill, matching
// Binance spot's default non-VIP taker rate.
var TakerFeeRate = decimal.NewFromFloat(0.001)

// Exchange is an in-memory ExchangeClient used by tests and the seed
// end-to-end scenarios of spec §8.
type Exchange struct {
	mu sync.Mutex

	clock core.Clock

	prices     map[string]decimal.Decimal
	balances   map[string]decimal.Decimal
	symbols    map[string]core.SymbolInfo
	orders     map[string]map[string]*core.Order // symbol -> orderID -> order
	nextOrder  int64
}

// New constructs an empty paper exchange. Balances and symbol metadata
// must be seeded with SetBalance / SetSymbolInfo before use, and the
// current price with SetPrice.
func New(clock core.Clock) *Exchange {
	return &Exchange{
		clock:     clock,
		prices:    make(map[string]decimal.Decimal),
		balances:  make(map[string]decimal.Decimal),
		symbols:   make(map[string]core.SymbolInfo),
		orders:    make(map[string]map[string]*core.Order),
		nextOrder: 1000,
	}
}

// SetPrice sets the current simulated last-traded price of symbol.
func (e *Exchange) SetPrice(symbol string, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price
}

// SetBalance sets the free balance of asset.
func (e *Exchange) SetBalance(asset string, amount decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances[asset] = amount
}

// SetSymbolInfo registers the trading-rule metadata for symbol.
func (e *Exchange) SetSymbolInfo(symbol string, info core.SymbolInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.symbols[symbol] = info
}

func (e *Exchange) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	price, ok := e.prices[symbol]
	if !ok {
		return decimal.Zero, apperrors.ErrInvalidSymbol
	}
	return price, nil
}

func (e *Exchange) GetAccountBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balances[asset], nil
}

func (e *Exchange) GetSymbolInfo(ctx context.Context, symbol string) (core.SymbolInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	info, ok := e.symbols[symbol]
	if !ok {
		return core.SymbolInfo{}, apperrors.ErrInvalidSymbol
	}
	return info, nil
}

func (e *Exchange) nextOrderID() string {
	e.nextOrder++
	return fmt.Sprintf("%d", e.nextOrder)
}

func (e *Exchange) recordOrder(symbol string, o *core.Order) {
	if e.orders[symbol] == nil {
		e.orders[symbol] = make(map[string]*core.Order)
	}
	e.orders[symbol][o.OrderID] = o
}

// PlaceLimitBuy fills instantly if price is at or above the current
// simulated price; otherwise it is recorded as a resting NEW order.
func (e *Exchange) PlaceLimitBuy(ctx context.Context, symbol string, qty, price decimal.Decimal) (core.OrderResult, error) {
	return e.placeLimit(symbol, core.SideBuy, qty, price)
}

func (e *Exchange) PlaceLimitSell(ctx context.Context, symbol string, qty, price decimal.Decimal) (core.OrderResult, error) {
	return e.placeLimit(symbol, core.SideSell, qty, price)
}

func (e *Exchange) placeLimit(symbol string, side core.Side, qty, price decimal.Decimal) (core.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, ok := e.prices[symbol]
	if !ok {
		return core.OrderResult{}, apperrors.ErrInvalidSymbol
	}

	now := e.clock.Now()
	order := &core.Order{
		OrderID:   e.nextOrderID(),
		Symbol:    symbol,
		Side:      side,
		Type:      "LIMIT",
		Price:     price,
		OrigQty:   qty,
		Status:    core.OrderStatusNew,
		CreatedAt: now,
		UpdateTime: now,
	}

	crosses := (side == core.SideBuy && current.LessThanOrEqual(price)) ||
		(side == core.SideSell && current.GreaterThanOrEqual(price))
	if crosses {
		e.settle(order, price)
	}

	e.recordOrder(symbol, order)
	return core.OrderResult{Success: true, Order: *order}, nil
}

func (e *Exchange) PlaceMarketBuy(ctx context.Context, symbol string, quoteQuantity decimal.Decimal) (core.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, ok := e.prices[symbol]
	if !ok {
		return core.OrderResult{}, apperrors.ErrInvalidSymbol
	}
	qty := quoteQuantity.Div(current)

	now := e.clock.Now()
	order := &core.Order{
		OrderID:   e.nextOrderID(),
		Symbol:    symbol,
		Side:      core.SideBuy,
		Type:      "MARKET",
		OrigQty:   qty,
		CreatedAt: now,
		UpdateTime: now,
	}
	e.settle(order, current)
	e.recordOrder(symbol, order)
	return core.OrderResult{Success: true, Order: *order}, nil
}

func (e *Exchange) PlaceMarketSell(ctx context.Context, symbol string, baseQuantity decimal.Decimal) (core.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, ok := e.prices[symbol]
	if !ok {
		return core.OrderResult{}, apperrors.ErrInvalidSymbol
	}

	now := e.clock.Now()
	order := &core.Order{
		OrderID:   e.nextOrderID(),
		Symbol:    symbol,
		Side:      core.SideSell,
		Type:      "MARKET",
		OrigQty:   baseQuantity,
		CreatedAt: now,
		UpdateTime: now,
	}
	e.settle(order, current)
	e.recordOrder(symbol, order)
	return core.OrderResult{Success: true, Order: *order}, nil
}

// settle marks order filled at fillPrice, charging TakerFeeRate on the
// quote leg and crediting/debiting simulated balances.
func (e *Exchange) settle(order *core.Order, fillPrice decimal.Decimal) {
	order.Status = core.OrderStatusFilled
	order.ExecutedQty = order.OrigQty
	order.Price = fillPrice
	notional := order.OrigQty.Mul(fillPrice)
	fee := notional.Mul(TakerFeeRate)
	order.CumulativeQuoteQty = notional

	info := e.symbols[order.Symbol]
	base, quote := info.BaseAsset, info.QuoteAsset

	switch order.Side {
	case core.SideBuy:
		e.balances[quote] = e.balances[quote].Sub(notional).Sub(fee)
		e.balances[base] = e.balances[base].Add(order.ExecutedQty)
	case core.SideSell:
		e.balances[base] = e.balances[base].Sub(order.ExecutedQty)
		e.balances[quote] = e.balances[quote].Add(notional).Sub(fee)
	}
}

func (e *Exchange) GetOpenOrders(ctx context.Context, symbol string) ([]core.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []core.Order
	for _, o := range e.orders[symbol] {
		if o.Status == core.OrderStatusNew || o.Status == core.OrderStatusPartiallyFilled {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (e *Exchange) GetOrderStatus(ctx context.Context, symbol string, orderID string) (core.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[symbol][orderID]
	if !ok {
		return core.Order{}, apperrors.ErrOrderNotFound
	}
	return *o, nil
}

func (e *Exchange) CancelOrder(ctx context.Context, symbol string, orderID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[symbol][orderID]
	if !ok {
		return false, apperrors.ErrOrderNotFound
	}
	if o.Status == core.OrderStatusFilled || o.Status == core.OrderStatusCanceled {
		return false, nil
	}
	o.Status = core.OrderStatusCanceled
	o.UpdateTime = e.clock.Now()
	return true, nil
}

// SimulatePartialFill marks order as PARTIALLY_FILLED with the given
// executed quantity, for tests that exercise the partial-fill-then-
// cancel path (spec §8 scenario 2) without a full settlement.
func (e *Exchange) SimulatePartialFill(symbol, orderID string, executedQty decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[symbol][orderID]
	if !ok {
		return
	}
	o.Status = core.OrderStatusPartiallyFilled
	o.ExecutedQty = executedQty
	o.UpdateTime = e.clock.Now()
}

// AdvanceAndFillResting re-checks every resting limit order against
// the current simulated price and settles any that now cross — the
// simulator's equivalent of a price tick arriving on the exchange.
func (e *Exchange) AdvanceAndFillResting(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	current, ok := e.prices[symbol]
	if !ok {
		return
	}
	for _, o := range e.orders[symbol] {
		if o.Status != core.OrderStatusNew {
			continue
		}
		crosses := (o.Side == core.SideBuy && current.LessThanOrEqual(o.Price)) ||
			(o.Side == core.SideSell && current.GreaterThanOrEqual(o.Price))
		if crosses {
			e.settle(o, o.Price)
		}
	}
}
