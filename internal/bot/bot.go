// Package bot implements GridBot, the per-symbol order-lifecycle owner
// of spec §4.2, adapted from the teacher's internal/trading/orchestrator
// SymbolManager shape (mutex-guarded state, panic-recovering tick loop)
// but driven synchronously by the scheduler rather than by channels.
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/core"
	"gridbot/internal/risk"
	"gridbot/pkg/retry"
)

// TickResult is the outcome of a single Tick call.
type TickResult string

const (
	TickContinue TickResult = "CONTINUE"
	TickStop     TickResult = "STOP"
)

// LoadResult describes what LoadState found on boot.
type LoadResult string

const (
	LoadFresh            LoadResult = "FRESH"
	LoadRestoredSomething LoadResult = "RESTORED_SOMETHING"
)

// FollowUpBackoff is the grid follow-up retry schedule (spec §4.2).
var FollowUpBackoff = []time.Duration{
	2 * time.Minute, 5 * time.Minute, 15 * time.Minute, 30 * time.Minute, 60 * time.Minute,
}

const (
	maxFollowUpRetries       = 5
	consecutivePriceFailures = 3
	maxConsecutiveErrors     = 5
	minBalanceHeadroom       = 1.02
)

// GridStrategy is the capability GridBot delegates level math to; kept
// as an interface so bot tests can stub it.
type GridStrategy interface {
	Levels() []core.GridLevel
	InitialOrders(currentPrice decimal.Decimal) (buys, sells []core.GridLevel)
	OnBuyFilled(price decimal.Decimal) core.FollowUpAction
	OnSellFilled(price decimal.Decimal) core.FollowUpAction
	RestoreLevels(levels []core.GridLevel)
}

// RiskGate is the subset of risk.Guard GridBot needs.
type RiskGate interface {
	CheckBuy(ctx context.Context, symbol string, qty, price, portfolioValue, currentInvested decimal.Decimal, confidence float64) risk.Decision
	CheckSell(symbol string) risk.Decision
}

// StopLossCreator is the subset of risk.StopLossRegistry GridBot needs.
type StopLossCreator interface {
	CreateStop(ctx context.Context, symbol string, entryPrice, quantity decimal.Decimal, stopType core.StopLossType, percent, trailingDistance decimal.Decimal) (*core.StopLossRecord, error)
	Update(ctx context.Context, symbolPriceMap map[string]decimal.Decimal, atrMap map[string]decimal.Decimal) ([]*core.StopLossRecord, error)
}

// TradeRecorder is the optional append-only trade log a GridBot writes
// every executed fill to (spec §8's "trade persisted" properties). A
// nil TradeRecorder disables recording rather than erroring.
type TradeRecorder interface {
	LogTrade(symbol, side string, quantity, price decimal.Decimal)
}

// Config is a GridBot's static configuration.
type Config struct {
	Symbol             string
	Investment         decimal.Decimal
	GridCount          int
	LowerPrice         decimal.Decimal
	UpperPrice         decimal.Decimal
	Testnet            bool
	BuyStopLossPercent decimal.Decimal
}

// GridBot owns the order lifecycle for one symbol.
type GridBot struct {
	mu sync.Mutex

	cfg      Config
	exchange core.ExchangeClient
	strategy GridStrategy
	guard    RiskGate
	stops    StopLossCreator
	notifier core.Notifier
	store    core.KeyValueStore
	logger   core.ILogger
	trades   TradeRecorder

	symbolInfo core.SymbolInfo
	active     map[string]*core.ActiveOrder
	pendingFollowUps []core.FollowUpAction

	circuitLastPrice decimal.Decimal
	circuitTripped   bool

	consecutivePriceFailures int
	consecutiveErrors        int
	stopped                  bool
}

// New builds a GridBot. strategy is injected because Initialize is
// responsible for constructing it (it needs symbol metadata first).
func New(cfg Config, exchange core.ExchangeClient, guard RiskGate, stops StopLossCreator, notifier core.Notifier, store core.KeyValueStore, logger core.ILogger) *GridBot {
	return &GridBot{
		cfg:      cfg,
		exchange: exchange,
		guard:    guard,
		stops:    stops,
		notifier: notifier,
		store:    store,
		logger:   logger.WithField("symbol", cfg.Symbol),
		active:   make(map[string]*core.ActiveOrder),
	}
}

// SetTradeRecorder wires the optional trade-log sink. Call before the
// first Tick; nil is a valid (no-op) value.
func (b *GridBot) SetTradeRecorder(tr TradeRecorder) {
	b.trades = tr
}

func (b *GridBot) recordTrade(side core.Side, quantity, price decimal.Decimal) {
	if b.trades == nil {
		return
	}
	b.trades.LogTrade(b.cfg.Symbol, string(side), quantity, price)
}

// Initialize verifies symbol metadata and available balance, then
// builds the GridStrategy. newStrategy is the strategy constructor
// (internal/strategy.New), injected to keep bot free of a strategy
// package import cycle concern in tests.
func (b *GridBot) Initialize(ctx context.Context, newStrategy func(symbolInfo core.SymbolInfo) (GridStrategy, error)) error {
	info, err := b.exchange.GetSymbolInfo(ctx, b.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("get symbol info: %w", err)
	}
	b.symbolInfo = info

	balance, err := b.exchange.GetAccountBalance(ctx, info.QuoteAsset)
	if err != nil {
		return fmt.Errorf("get account balance: %w", err)
	}
	required := b.cfg.Investment.Mul(decimal.NewFromFloat(minBalanceHeadroom))
	if balance.LessThan(required) {
		return fmt.Errorf("insufficient balance: have %s, need %s", balance, required)
	}

	strat, err := newStrategy(info)
	if err != nil {
		return fmt.Errorf("build grid strategy: %w", err)
	}
	b.strategy = strat

	price, err := b.exchange.GetCurrentPrice(ctx, b.cfg.Symbol)
	if err == nil {
		b.circuitLastPrice = price
	}
	return nil
}

// PlaceInitialOrders places a BUY for each level below current price
// that passes the risk gate. Orders rejected by exchange limits are
// logged and skipped, never retried here.
func (b *GridBot) PlaceInitialOrders(ctx context.Context, currentPrice, portfolioValue decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buys, _ := b.strategy.InitialOrders(currentPrice)
	for _, level := range buys {
		notional := level.Price.Mul(level.Quantity)
		decision := b.guard.CheckBuy(ctx, b.cfg.Symbol, level.Quantity, level.Price, portfolioValue, decimal.Zero, 1.0)
		if !decision.IsAllowed() {
			b.logger.Warn("initial buy vetoed by risk guard", "price", level.Price.String())
			continue
		}

		result, err := b.exchange.PlaceLimitBuy(ctx, b.cfg.Symbol, level.Quantity, level.Price)
		if err != nil || !result.Success {
			b.logger.Warn("initial buy rejected", "price", level.Price.String(), "notional", notional.String())
			continue
		}
		b.active[result.Order.OrderID] = &core.ActiveOrder{
			ExchangeOrderID: result.Order.OrderID,
			Side:            core.SideBuy,
			PriceLimit:      level.Price,
			Quantity:        level.Quantity,
			CreatedAt:       result.Order.CreatedAt,
		}
	}
}

// Tick runs one reconciliation pass (spec §4.2).
func (b *GridBot) Tick(ctx context.Context, portfolioValue decimal.Decimal) (result TickResult, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("tick panicked", "panic", r)
			result, err = b.noteError(fmt.Errorf("panic: %v", r))
		}
	}()

	if b.stopped {
		return TickStop, nil
	}

	if tickErr := b.reconcile(ctx); tickErr != nil {
		return b.noteError(tickErr)
	}

	price, priceErr := b.exchange.GetCurrentPrice(ctx, b.cfg.Symbol)
	if priceErr != nil {
		b.consecutivePriceFailures++
		if b.consecutivePriceFailures >= consecutivePriceFailures {
			b.stopped = true
			b.notify(ctx, "emergency stop: price unavailable for "+b.cfg.Symbol, true)
			if saveErr := b.SaveState(ctx); saveErr != nil {
				b.logger.Warn("save state failed", "error", saveErr.Error())
			}
			return TickStop, nil
		}
	} else {
		b.consecutivePriceFailures = 0
		if b.observeCircuit(price) {
			b.stopped = true
			b.notify(ctx, "emergency stop: circuit breaker tripped for "+b.cfg.Symbol, true)
			if saveErr := b.SaveState(ctx); saveErr != nil {
				b.logger.Warn("save state failed", "error", saveErr.Error())
			}
			return TickStop, nil
		}

		if b.stops != nil {
			triggered, stopErr := b.stops.Update(ctx, map[string]decimal.Decimal{b.cfg.Symbol: price}, nil)
			if stopErr == nil && len(triggered) > 0 {
				b.notify(ctx, fmt.Sprintf("stop-loss pending for %s at %s", b.cfg.Symbol, price.String()), true)
			}
		}
	}

	b.consecutiveErrors = 0
	if saveErr := b.SaveState(ctx); saveErr != nil {
		b.logger.Warn("save state failed", "error", saveErr.Error())
	}
	return TickContinue, nil
}

func (b *GridBot) noteError(cause error) (TickResult, error) {
	b.consecutiveErrors++
	b.logger.Error("tick error", "error", cause.Error(), "consecutive", b.consecutiveErrors)
	if b.consecutiveErrors >= maxConsecutiveErrors {
		b.stopped = true
		return TickStop, cause
	}
	return TickContinue, cause
}

// observeCircuit mirrors risk.CircuitBreaker's single-observation
// price-drop logic, kept local so GridBot does not need to share a
// risk.CircuitBreaker instance across symbols.
func (b *GridBot) observeCircuit(price decimal.Decimal) bool {
	if !price.IsPositive() {
		return false
	}
	if b.circuitLastPrice.IsPositive() {
		drop := b.circuitLastPrice.Sub(price).Div(b.circuitLastPrice)
		if drop.GreaterThanOrEqual(decimal.NewFromFloat(0.10)) {
			b.circuitTripped = true
			b.circuitLastPrice = price
			return true
		}
	}
	b.circuitLastPrice = price
	return false
}

func (b *GridBot) reconcile(ctx context.Context) error {
	open, err := b.exchange.GetOpenOrders(ctx, b.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("get open orders: %w", err)
	}
	openIDs := make(map[string]bool, len(open))
	for _, o := range open {
		openIDs[o.OrderID] = true
	}

	for id, rec := range b.active {
		if openIDs[id] {
			continue
		}
		order, err := b.exchange.GetOrderStatus(ctx, b.cfg.Symbol, id)
		if err != nil {
			continue
		}
		b.handleClosedOrder(ctx, id, rec, order)
	}

	b.retryFailedFollowUps(ctx)
	return nil
}

func (b *GridBot) handleClosedOrder(ctx context.Context, id string, rec *core.ActiveOrder, order core.Order) {
	switch order.Status {
	case core.OrderStatusPartiallyFilled:
		rec.ExecutedQty = order.ExecutedQty
	case core.OrderStatusCanceled:
		delete(b.active, id)
		if order.ExecutedQty.IsPositive() {
			b.recordTrade(rec.Side, order.ExecutedQty, rec.PriceLimit)
			b.notify(ctx, fmt.Sprintf("partial fill on cancel for %s: %s", b.cfg.Symbol, order.ExecutedQty.String()), false)
			if rec.Side == core.SideBuy && b.stops != nil {
				_, _ = b.stops.CreateStop(ctx, b.cfg.Symbol, rec.PriceLimit, order.ExecutedQty, core.StopLossFixed, b.cfg.BuyStopLossPercent, decimal.Zero)
			}
		}
	case core.OrderStatusExpired, core.OrderStatusRejected:
		delete(b.active, id)
	case core.OrderStatusFilled:
		delete(b.active, id)
		b.onFilled(ctx, rec, order)
	}
}

func (b *GridBot) onFilled(ctx context.Context, rec *core.ActiveOrder, order core.Order) {
	b.recordTrade(rec.Side, order.ExecutedQty, order.Price)
	var action core.FollowUpAction
	if rec.Side == core.SideBuy {
		if b.stops != nil {
			_, _ = b.stops.CreateStop(ctx, b.cfg.Symbol, order.Price, order.ExecutedQty, core.StopLossTrailing, b.cfg.BuyStopLossPercent, decimal.Zero)
		}
		action = b.strategy.OnBuyFilled(order.Price)
		if action.Type == core.FollowUpPlaceSell {
			action.Quantity = order.ExecutedQty
		}
	} else {
		action = b.strategy.OnSellFilled(order.Price)
	}
	if action.Type == core.FollowUpNone {
		return
	}
	b.placeFollowUp(ctx, action, 1)
}

func (b *GridBot) placeFollowUp(ctx context.Context, action core.FollowUpAction, attempt int) {
	decision := b.checkFollowUp(ctx, action)
	if !decision.IsAllowed() {
		b.notify(ctx, fmt.Sprintf("follow-up vetoed by risk guard for %s", b.cfg.Symbol), false)
		return
	}

	result, err := b.submitFollowUp(ctx, action)
	if err == nil && result.Success {
		b.active[result.Order.OrderID] = &core.ActiveOrder{
			ExchangeOrderID: result.Order.OrderID,
			Side:            sideFor(action.Type),
			PriceLimit:      action.Price,
			Quantity:        action.Quantity,
			CreatedAt:       result.Order.CreatedAt,
		}
		return
	}

	failed := fmt.Sprintf("followup-%d-%s-%s", attempt, action.Type, action.Price.String())
	b.active[failed] = &core.ActiveOrder{
		FailedFollowUp: &core.FailedFollowUp{
			IntendedAction: action,
			RetryCount:     1,
			NextRetryAt:    time.Now().Add(FollowUpBackoff[0]),
		},
	}
}

func (b *GridBot) checkFollowUp(ctx context.Context, action core.FollowUpAction) risk.Decision {
	if action.Type == core.FollowUpPlaceBuy {
		return b.guard.CheckBuy(ctx, b.cfg.Symbol, action.Quantity, action.Price, decimal.Zero, decimal.Zero, 1.0)
	}
	return b.guard.CheckSell(b.cfg.Symbol)
}

func (b *GridBot) submitFollowUp(ctx context.Context, action core.FollowUpAction) (core.OrderResult, error) {
	if action.Type == core.FollowUpPlaceBuy {
		return b.exchange.PlaceLimitBuy(ctx, b.cfg.Symbol, action.Quantity, action.Price)
	}
	return b.exchange.PlaceLimitSell(ctx, b.cfg.Symbol, action.Quantity, action.Price)
}

func (b *GridBot) retryFailedFollowUps(ctx context.Context) {
	now := time.Now()
	for id, rec := range b.active {
		if rec.FailedFollowUp == nil || rec.FailedFollowUp.NextRetryAt.After(now) {
			continue
		}
		fu := rec.FailedFollowUp
		result, err := b.submitFollowUp(ctx, fu.IntendedAction)
		if err == nil && result.Success {
			delete(b.active, id)
			b.active[result.Order.OrderID] = &core.ActiveOrder{
				ExchangeOrderID: result.Order.OrderID,
				Side:            sideFor(fu.IntendedAction.Type),
				PriceLimit:      fu.IntendedAction.Price,
				Quantity:        fu.IntendedAction.Quantity,
				CreatedAt:       result.Order.CreatedAt,
			}
			continue
		}

		fu.RetryCount++
		if fu.RetryCount >= maxFollowUpRetries {
			b.notify(ctx, fmt.Sprintf("CRITICAL: follow-up exhausted retries for %s, manual reconciliation required", b.cfg.Symbol), true)
			delete(b.active, id)
			continue
		}
		fu.NextRetryAt = now.Add(retry.Schedule(FollowUpBackoff, fu.RetryCount+1))
	}
}

func (b *GridBot) notify(ctx context.Context, message string, urgent bool) {
	if b.notifier == nil {
		return
	}
	b.notifier.Send(ctx, message, urgent)
}

// Stop sets a flag; the scheduler observes it via Tick's return value.
func (b *GridBot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
}

func sideFor(t core.FollowUpActionType) core.Side {
	if t == core.FollowUpPlaceBuy {
		return core.SideBuy
	}
	return core.SideSell
}

func (b *GridBot) statePath() string {
	return fmt.Sprintf("bots/%s.json", b.cfg.Symbol)
}

// SaveState writes an atomic snapshot of active orders.
func (b *GridBot) SaveState(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	snapshot := core.PersistedBotState{
		Version:      core.CurrentBotStateVersion,
		Timestamp:    time.Now(),
		Symbol:       b.cfg.Symbol,
		ActiveOrders: make(map[string]core.PersistedActiveOrder, len(b.active)),
		Config: core.BotConfigSnapshot{
			Symbol:     b.cfg.Symbol,
			Investment: b.cfg.Investment,
			GridCount:  b.cfg.GridCount,
			Testnet:    b.cfg.Testnet,
		},
	}
	for id, rec := range b.active {
		snapshot.ActiveOrders[id] = toPersisted(rec)
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal bot state: %w", err)
	}
	return b.store.Save(ctx, b.statePath(), data)
}

// LoadState restores active orders from durable storage and
// reconciles them against the exchange (spec §4.5). Malformed state is
// discarded, not propagated, so the bot always ends up in a usable
// state.
func (b *GridBot) LoadState(ctx context.Context) (LoadResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.store == nil {
		return LoadFresh, nil
	}
	data, err := b.store.Load(ctx, b.statePath())
	if err != nil {
		return LoadFresh, nil
	}

	var snapshot core.PersistedBotState
	if jsonErr := json.Unmarshal(data, &snapshot); jsonErr != nil {
		b.logger.Warn("persisted state corrupted, starting fresh", "error", jsonErr.Error())
		return LoadFresh, nil
	}
	if snapshot.Version != core.CurrentBotStateVersion {
		b.logger.Warn("persisted state has unrecognised schema version, starting fresh", "version", snapshot.Version)
		return LoadFresh, nil
	}
	if snapshot.Config.Symbol != b.cfg.Symbol || !snapshot.Config.Investment.Equal(b.cfg.Investment) {
		b.cancelOrphans(ctx, snapshot.Symbol)
		return LoadFresh, nil
	}

	restoredSomething := false
	for id, persisted := range snapshot.ActiveOrders {
		order, err := b.exchange.GetOrderStatus(ctx, b.cfg.Symbol, id)
		if err != nil {
			continue
		}
		switch order.Status {
		case core.OrderStatusNew:
			rec := fromPersisted(persisted)
			b.active[id] = &rec
			restoredSomething = true
		case core.OrderStatusFilled:
			b.recordTrade(persisted.Side, order.ExecutedQty, order.Price)
			if persisted.Side == core.SideBuy && b.stops != nil {
				_, _ = b.stops.CreateStop(ctx, b.cfg.Symbol, order.Price, order.ExecutedQty, core.StopLossTrailing, b.cfg.BuyStopLossPercent, decimal.Zero)
			}
			b.pendingFollowUps = append(b.pendingFollowUps, b.queuedFollowUp(persisted, order))
			b.notify(ctx, fmt.Sprintf("downtime fill detected for %s", b.cfg.Symbol), false)
		case core.OrderStatusCanceled:
			if order.ExecutedQty.IsPositive() && persisted.Side == core.SideBuy && b.stops != nil {
				_, _ = b.stops.CreateStop(ctx, b.cfg.Symbol, persisted.PriceLimit, order.ExecutedQty, core.StopLossFixed, b.cfg.BuyStopLossPercent, decimal.Zero)
			}
		case core.OrderStatusPartiallyFilled:
			rec := fromPersisted(persisted)
			rec.ExecutedQty = order.ExecutedQty
			b.active[id] = &rec
			restoredSomething = true
		}
	}

	if restoredSomething {
		return LoadRestoredSomething, nil
	}
	return LoadFresh, nil
}

// queuedFollowUp asks the strategy for the next grid level so a
// downtime fill produces the same follow-up it would have produced
// live (spec §4.5 step 4), falling back to the raw fill when no
// strategy is attached yet.
func (b *GridBot) queuedFollowUp(persisted core.PersistedActiveOrder, order core.Order) core.FollowUpAction {
	if b.strategy != nil {
		if persisted.Side == core.SideBuy {
			return b.strategy.OnBuyFilled(order.Price)
		}
		return b.strategy.OnSellFilled(order.Price)
	}
	if persisted.Side == core.SideBuy {
		return core.FollowUpAction{Type: core.FollowUpPlaceSell, Price: order.Price, Quantity: order.ExecutedQty}
	}
	return core.FollowUpAction{Type: core.FollowUpPlaceBuy, Price: order.Price, Quantity: order.ExecutedQty}
}

// DrainPendingFollowUps places every queued downtime-fill follow-up,
// gated through the risk guard, once the GridStrategy is available
// (spec §4.5 step 4). Call after Initialize.
func (b *GridBot) DrainPendingFollowUps(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, action := range b.pendingFollowUps {
		b.placeFollowUp(ctx, action, 1)
	}
	b.pendingFollowUps = nil
}

func (b *GridBot) cancelOrphans(ctx context.Context, symbol string) {
	open, err := b.exchange.GetOpenOrders(ctx, symbol)
	if err != nil {
		return
	}
	for _, o := range open {
		_, _ = b.exchange.CancelOrder(ctx, symbol, o.OrderID)
	}
}

func toPersisted(rec *core.ActiveOrder) core.PersistedActiveOrder {
	p := core.PersistedActiveOrder{
		ExchangeOrderID: rec.ExchangeOrderID,
		Side:            rec.Side,
		PriceLimit:      rec.PriceLimit,
		Quantity:        rec.Quantity,
		CreatedAt:       rec.CreatedAt,
		ExecutedQty:     rec.ExecutedQty,
	}
	if rec.FailedFollowUp != nil {
		p.IntendedAction = &rec.FailedFollowUp.IntendedAction
		p.RetryCount = rec.FailedFollowUp.RetryCount
		p.NextRetryAt = rec.FailedFollowUp.NextRetryAt
	}
	return p
}

func fromPersisted(p core.PersistedActiveOrder) core.ActiveOrder {
	rec := core.ActiveOrder{
		ExchangeOrderID: p.ExchangeOrderID,
		Side:            p.Side,
		PriceLimit:      p.PriceLimit,
		Quantity:        p.Quantity,
		CreatedAt:       p.CreatedAt,
		ExecutedQty:     p.ExecutedQty,
	}
	if p.IntendedAction != nil {
		rec.FailedFollowUp = &core.FailedFollowUp{
			IntendedAction: *p.IntendedAction,
			RetryCount:     p.RetryCount,
			NextRetryAt:    p.NextRetryAt,
		}
	}
	return rec
}
