package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridbot/internal/bot"
	"gridbot/internal/clock"
	"gridbot/internal/core"
	"gridbot/internal/orchestrator"
	"gridbot/internal/risk"
)

// Scenario 6: stop trigger with a failed sell, then success (spec
// §8.6). A TRAILING stop at entry 50000, 5%, rides the price up to
// 52000 (tightening the stop to 49400) then down to 49300, which
// triggers it. The first market-sell attempt fails with insufficient
// balance; the executor re-queries balance and retries, and the
// second attempt succeeds, closing the stop at roughly -1.4% PnL.
func TestStopTriggerFailedThenSuccessfulSell(t *testing.T) {
	ctx := context.Background()
	base := newSeededExchange(t, decimal.NewFromInt(50000))
	base.SetBalance("BTC", decimal.NewFromFloat(0.1))
	ex := &flakyMarketSellExchange{Exchange: base, failUntilAttempt: 1}

	reg := newRegistry(t)
	guard := risk.NewGuard(reg, nil, nil, newLogger(t))

	gridCfg := func(symbol string) bot.Config { return bot.Config{Symbol: symbol} }
	orch := orchestrator.New(ex, reg, guard, nil, newFileStoreBot(t), newLogger(t), gridCfg)
	orch.AddSymbol(clock.NewFake(time.Now()), "BTCUSDT", core.ModeCash, decimal.Zero)

	rec, err := reg.CreateStop(ctx, "BTCUSDT", decimal.NewFromInt(50000), decimal.NewFromFloat(0.1),
		core.StopLossTrailing, decimal.NewFromFloat(0.05), decimal.Zero)
	require.NoError(t, err)

	ex.SetPrice("BTCUSDT", decimal.NewFromInt(52000))
	require.NoError(t, orch.Tick(ctx, decimal.NewFromInt(10000)))

	current, ok := reg.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, core.StopLossActive, current.State)
	assert.True(t, current.CurrentStopPrice.Equal(decimal.NewFromInt(49400)), "trailing stop should have tightened to 52000*0.95")

	ex.SetPrice("BTCUSDT", decimal.NewFromInt(49300))
	require.NoError(t, orch.Tick(ctx, decimal.NewFromInt(10000)))

	final, ok := reg.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, core.StopLossClosed, final.State)
	assert.False(t, final.Active)
	assert.Equal(t, 2, ex.attempts, "expected one failed attempt and one successful retry")

	expectedPnL := decimal.NewFromInt(49300).Sub(decimal.NewFromInt(50000)).Div(decimal.NewFromInt(50000))
	assert.True(t, final.ResultPnLPercent.Sub(expectedPnL).Abs().LessThan(decimal.NewFromFloat(0.0001)))
}
