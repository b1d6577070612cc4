package bot_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"gridbot/internal/bot"
	"gridbot/internal/clock"
	"gridbot/internal/core"
	"gridbot/internal/exchange/paper"
	"gridbot/internal/logging"
	"gridbot/internal/risk"
	"gridbot/internal/store"
	"gridbot/internal/strategy"
)

func newPaperExchange(t *testing.T) *paper.Exchange {
	t.Helper()
	ex := paper.New(clock.NewFake(time.Now()))
	ex.SetSymbolInfo("BTCUSDT", core.SymbolInfo{
		BaseAsset:     "BTC",
		QuoteAsset:    "USDT",
		MinQty:        decimal.NewFromFloat(0.0001),
		StepSize:      decimal.NewFromFloat(0.0001),
		MinNotional:   decimal.NewFromInt(10),
		TickSize:      decimal.NewFromFloat(0.01),
		PriceDecimals: 2,
		QtyDecimals:   4,
	})
	ex.SetPrice("BTCUSDT", decimal.NewFromInt(50000))
	ex.SetBalance("USDT", decimal.NewFromInt(10000))
	ex.SetBalance("BTC", decimal.Zero)
	return ex
}

func newTestLogger(t *testing.T) core.ILogger {
	t.Helper()
	l, err := logging.NewZapLogger("error", zapcore.AddSync(io.Discard))
	require.NoError(t, err)
	return l
}

func newStrategyCtor() func(core.SymbolInfo) (bot.GridStrategy, error) {
	return func(info core.SymbolInfo) (bot.GridStrategy, error) {
		return strategy.New(strategy.Config{
			Symbol:          "BTCUSDT",
			LowerPrice:      decimal.NewFromInt(45000),
			UpperPrice:      decimal.NewFromInt(55000),
			GridCount:       10,
			TotalInvestment: decimal.NewFromInt(5000),
			SymbolInfo:      info,
		})
	}
}

func TestGridBot_InitializeRejectsInsufficientBalance(t *testing.T) {
	ex := newPaperExchange(t)
	ex.SetBalance("USDT", decimal.NewFromInt(100))

	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	reg := risk.New(clock.NewFake(time.Now()), fs, newTestLogger(t))
	guard := risk.NewGuard(reg, nil, nil, newTestLogger(t))

	b := bot.New(bot.Config{Symbol: "BTCUSDT", Investment: decimal.NewFromInt(5000), GridCount: 10}, ex, guard, reg, nil, fs, newTestLogger(t))
	err = b.Initialize(context.Background(), newStrategyCtor())

	assert.Error(t, err)
}

func TestGridBot_InitializeAndPlaceInitialOrders(t *testing.T) {
	ex := newPaperExchange(t)
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	reg := risk.New(clock.NewFake(time.Now()), fs, newTestLogger(t))
	guard := risk.NewGuard(reg, nil, nil, newTestLogger(t))

	b := bot.New(bot.Config{Symbol: "BTCUSDT", Investment: decimal.NewFromInt(5000), GridCount: 10}, ex, guard, reg, nil, fs, newTestLogger(t))
	ctx := context.Background()
	require.NoError(t, b.Initialize(ctx, newStrategyCtor()))

	b.PlaceInitialOrders(ctx, decimal.NewFromInt(50000), decimal.NewFromInt(10000))

	open, err := ex.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.NotEmpty(t, open)
	for _, o := range open {
		assert.Equal(t, core.SideBuy, o.Side)
		assert.True(t, o.Price.LessThan(decimal.NewFromInt(50000)))
	}
}

func TestGridBot_TickReconcilesFilledBuyIntoFollowUpSell(t *testing.T) {
	ex := newPaperExchange(t)
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	reg := risk.New(clock.NewFake(time.Now()), fs, newTestLogger(t))
	guard := risk.NewGuard(reg, nil, nil, newTestLogger(t))

	b := bot.New(bot.Config{Symbol: "BTCUSDT", Investment: decimal.NewFromInt(5000), GridCount: 10, BuyStopLossPercent: decimal.NewFromFloat(0.05)}, ex, guard, reg, nil, fs, newTestLogger(t))
	ctx := context.Background()
	require.NoError(t, b.Initialize(ctx, newStrategyCtor()))
	b.PlaceInitialOrders(ctx, decimal.NewFromInt(50000), decimal.NewFromInt(10000))

	// Drive the price down through the nearest buy level so it fills.
	ex.SetPrice("BTCUSDT", decimal.NewFromInt(48500))
	ex.AdvanceAndFillResting("BTCUSDT")

	result, err := b.Tick(ctx, decimal.NewFromInt(10000))
	require.NoError(t, err)
	assert.Equal(t, bot.TickContinue, result)

	open, err := ex.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	foundSell := false
	for _, o := range open {
		if o.Side == core.SideSell {
			foundSell = true
		}
	}
	assert.True(t, foundSell, "expected a follow-up sell order to be placed after a buy fill")
}

func TestGridBot_LoadStateFreshWhenNoPriorState(t *testing.T) {
	ex := newPaperExchange(t)
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	reg := risk.New(clock.NewFake(time.Now()), fs, newTestLogger(t))
	guard := risk.NewGuard(reg, nil, nil, newTestLogger(t))

	b := bot.New(bot.Config{Symbol: "BTCUSDT", Investment: decimal.NewFromInt(5000), GridCount: 10}, ex, guard, reg, nil, fs, newTestLogger(t))
	result, err := b.LoadState(context.Background())

	require.NoError(t, err)
	assert.Equal(t, bot.LoadFresh, result)
}

func TestGridBot_StopSetsStopFlagObservedByTick(t *testing.T) {
	ex := newPaperExchange(t)
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	reg := risk.New(clock.NewFake(time.Now()), fs, newTestLogger(t))
	guard := risk.NewGuard(reg, nil, nil, newTestLogger(t))

	b := bot.New(bot.Config{Symbol: "BTCUSDT", Investment: decimal.NewFromInt(5000), GridCount: 10}, ex, guard, reg, nil, fs, newTestLogger(t))
	require.NoError(t, b.Initialize(context.Background(), newStrategyCtor()))

	b.Stop()
	result, err := b.Tick(context.Background(), decimal.NewFromInt(10000))

	require.NoError(t, err)
	assert.Equal(t, bot.TickStop, result)
}
