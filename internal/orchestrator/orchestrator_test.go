package orchestrator_test

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
	"gridbot/internal/orchestrator"
	"gridbot/internal/risk"
	"gridbot/internal/store"
)

func newTestOrchestrator(t *testing.T) (*orchestrator.Orchestrator, *paper.Exchange, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(time.Now())
	ex := paper.New(fc)
	ex.SetSymbolInfo("BTCUSDT", core.SymbolInfo{
		BaseAsset: "BTC", QuoteAsset: "USDT",
		MinQty: decimal.NewFromFloat(0.0001), StepSize: decimal.NewFromFloat(0.0001),
		MinNotional: decimal.NewFromInt(10), TickSize: decimal.NewFromFloat(0.01),
	})
	ex.SetPrice("BTCUSDT", decimal.NewFromInt(50000))
	ex.SetBalance("USDT", decimal.NewFromInt(20000))
	ex.SetBalance("BTC", decimal.Zero)

	l, err := logging.NewZapLogger("error", zapcore.AddSync(io.Discard))
	require.NoError(t, err)

	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	reg := risk.New(fc, fs, l)
	guard := risk.NewGuard(reg, nil, nil, l)

	gridCfg := func(symbol string) bot.Config {
		return bot.Config{
			Symbol: symbol, Investment: decimal.NewFromInt(5000), GridCount: 10,
			LowerPrice: decimal.NewFromInt(45000), UpperPrice: decimal.NewFromInt(55000),
			BuyStopLossPercent: decimal.NewFromFloat(0.05),
		}
	}

	o := orchestrator.New(ex, reg, guard, nil, fs, l, gridCfg)
	o.AddSymbol(fc, "BTCUSDT", core.ModeHold, decimal.NewFromInt(5000))
	return o, ex, fc
}

func TestOrchestrator_HoldEntersPositionOnFirstTick(t *testing.T) {
	o, ex, _ := newTestOrchestrator(t)
	ctx := context.Background()

	err := o.Tick(ctx, decimal.NewFromInt(20000))
	require.NoError(t, err)

	state, ok := o.SymbolState("BTCUSDT")
	require.True(t, ok)
	assert.True(t, state.HoldQuantity.IsPositive())
	assert.NotEmpty(t, state.HoldStopID)

	balance, err := ex.GetAccountBalance(ctx, "BTC")
	require.NoError(t, err)
	assert.True(t, balance.IsPositive())
}

func TestOrchestrator_HoldDoesNothingOnceAlreadyHolding(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()
	require.NoError(t, o.Tick(ctx, decimal.NewFromInt(20000)))

	first, _ := o.SymbolState("BTCUSDT")
	require.NoError(t, o.Tick(ctx, decimal.NewFromInt(20000)))
	second, _ := o.SymbolState("BTCUSDT")

	assert.True(t, first.HoldQuantity.Equal(second.HoldQuantity))
}

func TestOrchestrator_ApplyModeTransitionHoldToGridResetsHoldFields(t *testing.T) {
	o, _, fc := newTestOrchestrator(t)
	ctx := context.Background()
	require.NoError(t, o.Tick(ctx, decimal.NewFromInt(20000)))

	o.ApplyModeTransition(ctx, "BTCUSDT", core.ModeHold, core.ModeGrid)

	state, ok := o.SymbolState("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, core.ModeGrid, state.Mode)
	assert.True(t, state.HoldQuantity.IsZero())
	_ = fc
}

func TestOrchestrator_HoldToCashStartsCashExitTimer(t *testing.T) {
	o, ex, _ := newTestOrchestrator(t)
	ctx := context.Background()
	require.NoError(t, o.Tick(ctx, decimal.NewFromInt(20000)))

	o.ApplyModeTransition(ctx, "BTCUSDT", core.ModeHold, core.ModeCash)
	require.NoError(t, o.Tick(ctx, decimal.NewFromInt(20000)))

	state, ok := o.SymbolState("BTCUSDT")
	require.True(t, ok)
	assert.False(t, state.CashExitStartedAt.IsZero())
	_ = ex
}

func TestOrchestrator_RebalanceSkipsBelowDriftThreshold(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	proposals := o.Rebalance(context.Background(),
		map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(1000)},
		map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(980)},
	)

	assert.Empty(t, proposals)
}

func TestOrchestrator_RebalanceProposesAboveDriftThreshold(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	proposals := o.Rebalance(context.Background(),
		map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(1000)},
		map[string]decimal.Decimal{"BTCUSDT": decimal.NewFromInt(500)},
	)

	require.Len(t, proposals, 1)
	assert.Equal(t, "INCREASE", proposals[0].Action)
}
