// Package e2e exercises the seed scenarios of spec §8 end to end,
// wiring the real strategy, bot, risk and orchestrator packages
// against the in-memory paper exchange rather than mocking any of
// them individually.
package e2e

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"gridbot/internal/clock"
	"gridbot/internal/core"
	"gridbot/internal/exchange/paper"
	"gridbot/internal/logging"
	"gridbot/internal/risk"
	"gridbot/internal/store"
	apperrors "gridbot/pkg/errors"
)

var insufficientFundsErr = apperrors.ErrInsufficientFunds

func newLogger(t *testing.T) core.ILogger {
	t.Helper()
	l, err := logging.NewZapLogger("error", zapcore.AddSync(io.Discard))
	require.NoError(t, err)
	return l
}

func btcInfo() core.SymbolInfo {
	return core.SymbolInfo{
		BaseAsset:     "BTC",
		QuoteAsset:    "USDT",
		MinQty:        decimal.NewFromFloat(0.0001),
		StepSize:      decimal.NewFromFloat(0.0001),
		MinNotional:   decimal.NewFromInt(10),
		TickSize:      decimal.NewFromFloat(0.01),
		PriceDecimals: 2,
		QtyDecimals:   4,
	}
}

func newSeededExchange(t *testing.T, price decimal.Decimal) *paper.Exchange {
	t.Helper()
	ex := paper.New(clock.NewFake(time.Now()))
	ex.SetSymbolInfo("BTCUSDT", btcInfo())
	ex.SetPrice("BTCUSDT", price)
	ex.SetBalance("USDT", decimal.NewFromInt(10000))
	ex.SetBalance("BTC", decimal.Zero)
	return ex
}

func newRegistry(t *testing.T) *risk.StopLossRegistry {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return risk.New(clock.NewFake(time.Now()), fs, newLogger(t))
}

func newFileStoreBot(t *testing.T) *store.FileStore {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return fs
}

// flakyMarketSellExchange wraps paper.Exchange and fails the first
// failUntilAttempt market sells with ErrInsufficientFunds, succeeding
// from then on, to exercise the stop-loss executor's retry path
// (spec §8 scenario 6).
type flakyMarketSellExchange struct {
	*paper.Exchange
	attempts         int
	failUntilAttempt int
}

// recordedTrade is one call captured by a spyTradeRecorder.
type recordedTrade struct {
	Symbol, Side      string
	Quantity, Price   decimal.Decimal
}

// spyTradeRecorder is a bot.TradeRecorder that captures every call for
// assertion instead of writing to a rotated log file.
type spyTradeRecorder struct {
	trades []recordedTrade
}

func (s *spyTradeRecorder) LogTrade(symbol, side string, quantity, price decimal.Decimal) {
	s.trades = append(s.trades, recordedTrade{Symbol: symbol, Side: side, Quantity: quantity, Price: price})
}

func (f *flakyMarketSellExchange) PlaceMarketSell(ctx context.Context, symbol string, baseQuantity decimal.Decimal) (core.OrderResult, error) {
	f.attempts++
	if f.attempts <= f.failUntilAttempt {
		return core.OrderResult{}, insufficientFundsErr
	}
	return f.Exchange.PlaceMarketSell(ctx, symbol, baseQuantity)
}
