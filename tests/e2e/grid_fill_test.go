package e2e

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridbot/internal/bot"
	"gridbot/internal/core"
	"gridbot/internal/risk"
	"gridbot/internal/strategy"
)

func newGridStrategyCtor(lower, upper decimal.Decimal, gridCount int, investment decimal.Decimal) func(core.SymbolInfo) (bot.GridStrategy, error) {
	return func(info core.SymbolInfo) (bot.GridStrategy, error) {
		return strategy.New(strategy.Config{
			Symbol:          "BTCUSDT",
			LowerPrice:      lower,
			UpperPrice:      upper,
			GridCount:       gridCount,
			TotalInvestment: investment,
			SymbolInfo:      info,
		})
	}
}

// Scenario 1: happy path single fill (spec §8.1). Grid spans
// [48000, 49000, 50000, 51000, 52000] at current price 50000; the
// bot places BUYs below price, one of them fills, and a same-quantity
// SELL follow-up plus a trailing stop-loss appear.
func TestHappyPathSingleFill(t *testing.T) {
	ctx := context.Background()
	ex := newSeededExchange(t, decimal.NewFromInt(50000))
	reg := newRegistry(t)
	guard := risk.NewGuard(reg, nil, nil, newLogger(t))

	b := bot.New(bot.Config{
		Symbol:             "BTCUSDT",
		Investment:         decimal.NewFromInt(4000),
		GridCount:          4,
		BuyStopLossPercent: decimal.NewFromFloat(0.05),
	}, ex, guard, reg, nil, nil, newLogger(t))
	spy := &spyTradeRecorder{}
	b.SetTradeRecorder(spy)
	require.NoError(t, b.Initialize(ctx, newGridStrategyCtor(decimal.NewFromInt(48000), decimal.NewFromInt(52000), 4, decimal.NewFromInt(4000))))

	b.PlaceInitialOrders(ctx, decimal.NewFromInt(50000), decimal.NewFromInt(10000))

	open, err := ex.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	var filledOrderID string
	var filledQty decimal.Decimal
	for _, o := range open {
		if o.Side == core.SideBuy && o.Price.Equal(decimal.NewFromInt(49000)) {
			filledOrderID = o.OrderID
			filledQty = o.OrigQty
		}
	}
	require.NotEmpty(t, filledOrderID, "expected a resting BUY at 49000")

	// Exchange reports the 49000 BUY as FILLED next tick.
	ex.SetPrice("BTCUSDT", decimal.NewFromInt(49000))
	ex.AdvanceAndFillResting("BTCUSDT")

	result, err := b.Tick(ctx, decimal.NewFromInt(10000))
	require.NoError(t, err)
	assert.Equal(t, bot.TickContinue, result)

	open, err = ex.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	var sellFound bool
	for _, o := range open {
		if o.OrderID == filledOrderID {
			t.Fatalf("filled 49000 BUY should no longer be open")
		}
		if o.Side == core.SideSell && o.Price.Equal(decimal.NewFromInt(50000)) && o.OrigQty.Equal(filledQty) {
			sellFound = true
		}
	}
	assert.True(t, sellFound, "expected a 50000 SELL at the filled quantity")

	require.Len(t, spy.trades, 1)
	assert.Equal(t, "BUY", spy.trades[0].Side)
	assert.True(t, spy.trades[0].Price.Equal(decimal.NewFromInt(49000)))
}

// Scenario 2: partial fill then cancel (spec §8.2). A resting BUY is
// canceled with a nonzero executed quantity; expect a stop created for
// the executed amount and no SELL follow-up (the cancel path never
// calls OnBuyFilled).
func TestPartialFillThenCancel(t *testing.T) {
	ctx := context.Background()
	ex := newSeededExchange(t, decimal.NewFromInt(50000))
	reg := newRegistry(t)
	guard := risk.NewGuard(reg, nil, nil, newLogger(t))

	b := bot.New(bot.Config{
		Symbol:             "BTCUSDT",
		Investment:         decimal.NewFromInt(4000),
		GridCount:          4,
		BuyStopLossPercent: decimal.NewFromFloat(0.05),
	}, ex, guard, reg, nil, nil, newLogger(t))
	spy := &spyTradeRecorder{}
	b.SetTradeRecorder(spy)
	require.NoError(t, b.Initialize(ctx, newGridStrategyCtor(decimal.NewFromInt(48000), decimal.NewFromInt(52000), 4, decimal.NewFromInt(4000))))

	b.PlaceInitialOrders(ctx, decimal.NewFromInt(50000), decimal.NewFromInt(10000))

	open, err := ex.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotEmpty(t, open)
	target := open[0]
	partialQty := target.OrigQty.Div(decimal.NewFromInt(2))

	// Simulate the exchange reporting a partial fill, then a cancel.
	ex.SimulatePartialFill("BTCUSDT", target.OrderID, partialQty)
	_, err = ex.CancelOrder(ctx, "BTCUSDT", target.OrderID)
	require.NoError(t, err)

	result, err := b.Tick(ctx, decimal.NewFromInt(10000))
	require.NoError(t, err)
	assert.Equal(t, bot.TickContinue, result)

	open, err = ex.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	for _, o := range open {
		assert.NotEqual(t, target.OrderID, o.OrderID)
		if o.Side == core.SideSell {
			t.Fatalf("a canceled buy must never produce a SELL follow-up")
		}
	}

	require.Len(t, spy.trades, 1)
	assert.True(t, spy.trades[0].Quantity.Equal(partialQty))
}
