package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/core"
	apperrors "gridbot/pkg/errors"
	"gridbot/pkg/retry"
)

// stopSellBackoff is the market-sell retry schedule of spec §4.8.
var stopSellBackoff = []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second}

const stopSellMaxAttempts = 3

// stopLossExecutor is the shared routine invoked whenever a stop
// fires (spec §4.8): one instance serves every symbol's triggered
// stops, re-querying balance between retries on insufficient-balance.
type stopLossExecutor struct {
	exchange core.ExchangeClient
	notifier core.Notifier
	logger   core.ILogger
}

func newStopLossExecutor(exchange core.ExchangeClient, notifier core.Notifier, logger core.ILogger) *stopLossExecutor {
	return &stopLossExecutor{exchange: exchange, notifier: notifier, logger: logger.WithField("component", "stop_loss_executor")}
}

// Execute sells up to intendedQty of symbol's base asset, flooring to
// the step size, retrying on failure. It returns whether the sell
// ultimately succeeded.
func (e *stopLossExecutor) Execute(ctx context.Context, symbol, baseAsset string, intendedQty decimal.Decimal, symbolInfo core.SymbolInfo) bool {
	qty := e.sellableQuantity(ctx, baseAsset, intendedQty, symbolInfo)
	if !qty.IsPositive() {
		e.logger.Warn("stop-loss sell aborted: zero sellable quantity", "symbol", symbol)
		return false
	}

	for attempt := 1; attempt <= stopSellMaxAttempts; attempt++ {
		result, err := e.exchange.PlaceMarketSell(ctx, symbol, qty)
		if err == nil && result.Success {
			return true
		}

		if err != nil && isInsufficientBalance(err) {
			qty = e.sellableQuantity(ctx, baseAsset, intendedQty, symbolInfo)
			if !qty.IsPositive() {
				break
			}
		}

		if attempt == stopSellMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(retry.Schedule(stopSellBackoff, attempt)):
		}
	}

	e.notifier.Send(ctx, fmt.Sprintf("CRITICAL: manual sell required for %s, automatic stop-loss execution failed", symbol), true)
	return false
}

func (e *stopLossExecutor) sellableQuantity(ctx context.Context, baseAsset string, intendedQty decimal.Decimal, symbolInfo core.SymbolInfo) decimal.Decimal {
	balance, err := e.exchange.GetAccountBalance(ctx, baseAsset)
	if err != nil {
		return decimal.Zero
	}
	qty := intendedQty
	if balance.LessThan(qty) {
		qty = balance
	}
	return floorToStep(qty, symbolInfo.StepSize)
}

func floorToStep(qty, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

func isInsufficientBalance(err error) bool {
	return errors.Is(err, apperrors.ErrInsufficientFunds)
}
