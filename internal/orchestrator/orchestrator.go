// Package orchestrator implements HybridOrchestrator, the top-level
// per-symbol HOLD/GRID/CASH dispatcher of spec §4.7, grounded on the
// teacher's internal/trading/orchestrator (mutex-guarded symbol map,
// panic-recovering tick) but replacing channel-driven SymbolManagers
// with a synchronous, scheduler-driven tick loop.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/bot"
	"gridbot/internal/core"
	"gridbot/internal/mode"
	"gridbot/internal/risk"
	"gridbot/internal/strategy"
	"gridbot/pkg/concurrency"
)

const (
	// HoldTrailingPercent is the default trailing-stop distance for a
	// HOLD position (spec §4.7).
	HoldTrailingPercent = 0.07
	// CashExitTightPercent is the tightened stop applied on entering CASH.
	CashExitTightPercent = 0.03
	// CashExitTimeout forces a market-sell once elapsed in CASH.
	CashExitTimeout = 2 * time.Hour
	// RebalanceDriftPercent is the minimum drift that triggers a rebalance proposal.
	RebalanceDriftPercent = 0.05
	// MinPositionUSD is the floor below which rebalance proposals are skipped.
	MinPositionUSD = 10
	maxConsecutiveErrors = 5
)

// OpportunityScanner is the external collaborator consulted during
// rebalance to add or drop traded symbols (spec §4.7). Out of core
// scope: a no-op implementation is a valid default deployment.
type OpportunityScanner interface {
	ScanSymbols(ctx context.Context) ([]string, error)
}

// symbolUnit bundles everything the orchestrator owns per symbol.
type symbolUnit struct {
	state core.SymbolState
	modeM *mode.Manager
	grid  *bot.GridBot
}

// Orchestrator is the HybridOrchestrator of spec §4.7.
type Orchestrator struct {
	mu sync.Mutex

	exchange core.ExchangeClient
	stops    *risk.StopLossRegistry
	guard    *risk.Guard
	executor *stopLossExecutor
	notifier core.Notifier
	store    core.KeyValueStore
	logger   core.ILogger
	scanner  OpportunityScanner

	gridCfg func(symbol string) bot.Config
	stopFanIn *concurrency.WorkerPool
	trades  bot.TradeRecorder
	regime  core.RegimeSource

	symbols map[string]*symbolUnit

	lastRebalance     time.Time
	consecutiveErrors int
}

// New builds an Orchestrator with no symbols registered; call AddSymbol
// for each traded pair before the first Tick.
func New(exchange core.ExchangeClient, stops *risk.StopLossRegistry, guard *risk.Guard, notifier core.Notifier, store core.KeyValueStore, logger core.ILogger, gridCfg func(symbol string) bot.Config) *Orchestrator {
	log := logger.WithField("component", "orchestrator")
	return &Orchestrator{
		exchange: exchange,
		stops:    stops,
		guard:    guard,
		executor: newStopLossExecutor(exchange, notifier, logger),
		notifier: notifier,
		store:    store,
		logger:   log,
		gridCfg:  gridCfg,
		stopFanIn: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:       "stop_loss_fanin",
			MaxWorkers: 4,
		}, log),
		symbols: make(map[string]*symbolUnit),
	}
}

// SetOpportunityScanner wires the optional rebalance-time symbol scanner.
func (o *Orchestrator) SetOpportunityScanner(s OpportunityScanner) { o.scanner = s }

// SetTradeRecorder wires the optional append-only trade log every
// per-symbol GridBot records its fills to. Call before the first Tick.
func (o *Orchestrator) SetTradeRecorder(tr bot.TradeRecorder) { o.trades = tr }

// SetRegimeSource wires the out-of-core regime sidecar EvaluateModeTransitions
// consults (spec §4.6). A nil source (the default) makes
// EvaluateModeTransitions a no-op, pinning every symbol to its starting
// mode.
func (o *Orchestrator) SetRegimeSource(r core.RegimeSource) { o.regime = r }

// AddSymbol registers symbol in startMode with an allocated capital
// envelope.
func (o *Orchestrator) AddSymbol(clock core.Clock, symbol string, startMode core.TradingMode, allocatedCapital decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.symbols[symbol] = &symbolUnit{
		state: core.SymbolState{Symbol: symbol, Mode: startMode, AllocatedCapital: allocatedCapital},
		modeM: mode.New(clock, startMode),
	}
}

// Tick runs one full pass: per-symbol dispatch, then a single
// portfolio-wide stop-loss registry update (spec §4.7).
func (o *Orchestrator) Tick(ctx context.Context, portfolioValue decimal.Decimal) (err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("orchestrator tick panicked", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
		o.noteResultLocked(err)
	}()

	prices := make(map[string]decimal.Decimal, len(o.symbols))
	for symbol, unit := range o.symbols {
		price, priceErr := o.exchange.GetCurrentPrice(ctx, symbol)
		if priceErr != nil {
			o.logger.Warn("price unavailable, skipping symbol this tick", "symbol", symbol, "error", priceErr.Error())
			continue
		}
		prices[symbol] = price
		o.dispatch(ctx, unit, price, portfolioValue)
	}

	o.runStopLossPass(ctx, prices)
	return nil
}

func (o *Orchestrator) noteResultLocked(err error) {
	if err != nil {
		o.consecutiveErrors++
		return
	}
	o.consecutiveErrors = 0
}

// ShouldShutDown reports whether the consecutive-error ceiling has
// been reached (spec §4.7 "Error ceiling").
func (o *Orchestrator) ShouldShutDown() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.consecutiveErrors >= maxConsecutiveErrors
}

func (o *Orchestrator) dispatch(ctx context.Context, unit *symbolUnit, price, portfolioValue decimal.Decimal) {
	switch unit.state.Mode {
	case core.ModeHold:
		o.tickHold(ctx, unit, price)
	case core.ModeGrid:
		o.tickGrid(ctx, unit, portfolioValue)
	case core.ModeCash:
		o.tickCash(ctx, unit, price)
	}
}

func (o *Orchestrator) tickHold(ctx context.Context, unit *symbolUnit, price decimal.Decimal) {
	if unit.state.HoldQuantity.IsPositive() {
		return
	}

	result, err := o.exchange.PlaceMarketBuy(ctx, unit.state.Symbol, unit.state.AllocatedCapital)
	if err != nil || !result.Success || !result.Order.ExecutedQty.IsPositive() {
		o.logger.Warn("hold entry buy failed", "symbol", unit.state.Symbol)
		return
	}

	avgFill := result.Order.CumulativeQuoteQty.Div(result.Order.ExecutedQty)
	unit.state.HoldEntryPrice = avgFill
	unit.state.HoldQuantity = result.Order.ExecutedQty

	rec, err := o.stops.CreateStop(ctx, unit.state.Symbol, avgFill, result.Order.ExecutedQty, core.StopLossTrailing, decimal.NewFromFloat(HoldTrailingPercent), decimal.Zero)
	if err == nil {
		unit.state.HoldStopID = rec.ID
	}
}

func (o *Orchestrator) tickGrid(ctx context.Context, unit *symbolUnit, portfolioValue decimal.Decimal) {
	if unit.grid == nil {
		cfg := o.gridCfg(unit.state.Symbol)
		unit.grid = bot.New(cfg, o.exchange, o.guard, o.stops, o.notifier, o.store, o.logger)
		unit.grid.SetTradeRecorder(o.trades)
		if err := unit.grid.Initialize(ctx, func(info core.SymbolInfo) (bot.GridStrategy, error) {
			return strategy.New(strategy.Config{
				Symbol:          cfg.Symbol,
				LowerPrice:      cfg.LowerPrice,
				UpperPrice:      cfg.UpperPrice,
				GridCount:       cfg.GridCount,
				TotalInvestment: cfg.Investment,
				SymbolInfo:      info,
			})
		}); err != nil {
			o.logger.Error("grid bot initialize failed", "symbol", unit.state.Symbol, "error", err.Error())
			unit.grid = nil
			return
		}
		if loaded, _ := unit.grid.LoadState(ctx); loaded == bot.LoadFresh {
			price, err := o.exchange.GetCurrentPrice(ctx, unit.state.Symbol)
			if err == nil {
				unit.grid.PlaceInitialOrders(ctx, price, portfolioValue)
			}
		} else {
			unit.grid.DrainPendingFollowUps(ctx)
		}
	}

	if _, err := unit.grid.Tick(ctx, portfolioValue); err != nil {
		o.logger.Warn("grid bot tick error", "symbol", unit.state.Symbol, "error", err.Error())
	}
}

func (o *Orchestrator) tickCash(ctx context.Context, unit *symbolUnit, price decimal.Decimal) {
	o.cancelOpenOrders(ctx, unit.state.Symbol)

	if !unit.state.HoldQuantity.IsPositive() {
		return
	}

	if unit.state.CashExitStartedAt.IsZero() {
		unit.state.CashExitStartedAt = time.Now()
		if unit.state.HoldStopID != "" {
			// Tighten: cancel and recreate at the tighter percent.
			_ = o.stops.CancelStop(ctx, unit.state.HoldStopID)
			rec, err := o.stops.CreateStop(ctx, unit.state.Symbol, unit.state.HoldEntryPrice, unit.state.HoldQuantity, core.StopLossTrailing, decimal.NewFromFloat(CashExitTightPercent), decimal.Zero)
			if err == nil {
				unit.state.HoldStopID = rec.ID
			}
		}
		return
	}

	if time.Since(unit.state.CashExitStartedAt) >= CashExitTimeout {
		result, err := o.exchange.PlaceMarketSell(ctx, unit.state.Symbol, unit.state.HoldQuantity)
		if err == nil && result.Success {
			unit.state.HoldQuantity = decimal.Zero
			unit.state.HoldEntryPrice = decimal.Zero
			unit.state.HoldStopID = ""
			unit.state.CashExitStartedAt = time.Time{}
		}
	}
}

func (o *Orchestrator) cancelOpenOrders(ctx context.Context, symbol string) {
	open, err := o.exchange.GetOpenOrders(ctx, symbol)
	if err != nil {
		return
	}
	for _, ord := range open {
		_, _ = o.exchange.CancelOrder(ctx, symbol, ord.OrderID)
	}
}

// runStopLossPass resolves every stop triggered this tick through a
// single fan-in worker pool (spec §9: "Fan-in of stop-triggered sells
// goes through a single queue consumed by a worker"), but still blocks
// until every resolution completes so each trigger is confirmed or
// reactivated within the same tick (spec §5).
func (o *Orchestrator) runStopLossPass(ctx context.Context, prices map[string]decimal.Decimal) {
	triggered, err := o.stops.Update(ctx, prices, nil)
	if err != nil || len(triggered) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, rec := range triggered {
		rec := rec
		wg.Add(1)
		_ = o.stopFanIn.Submit(func() {
			defer wg.Done()
			o.resolveStopTrigger(ctx, rec)
		})
	}
	wg.Wait()
}

func (o *Orchestrator) resolveStopTrigger(ctx context.Context, rec *core.StopLossRecord) {
	info, err := o.exchange.GetSymbolInfo(ctx, rec.Symbol)
	if err != nil {
		_, _ = o.stops.Reactivate(ctx, rec.ID)
		return
	}
	if o.executor.Execute(ctx, rec.Symbol, info.BaseAsset, rec.Quantity, info) {
		_, _ = o.stops.ConfirmTrigger(ctx, rec.ID)
	} else {
		_, _ = o.stops.Reactivate(ctx, rec.ID)
	}
}

// EvaluateModeTransitions consults the configured RegimeSource for
// every registered symbol, feeds the result through that symbol's
// ModeManager hysteresis, and applies any approved switch via
// ApplyModeTransition (spec §4.6/§4.7). Call on its own schedule,
// separate from Tick, since regime detection is a slower-moving,
// out-of-core signal. A nil RegimeSource makes this a no-op.
func (o *Orchestrator) EvaluateModeTransitions(ctx context.Context) {
	if o.regime == nil {
		return
	}

	o.mu.Lock()
	units := make(map[string]*symbolUnit, len(o.symbols))
	for symbol, unit := range o.symbols {
		units[symbol] = unit
	}
	o.mu.Unlock()

	for symbol, unit := range units {
		regimeStr, probability, since, err := o.regime.CurrentRegime(ctx, symbol)
		if err != nil {
			o.logger.Warn("regime source unavailable, leaving mode unchanged", "symbol", symbol, "error", err.Error())
			continue
		}
		regime := core.Regime(regimeStr)
		unit.modeM.UpdateRegimeInfo(regime, probability)

		durationDays := time.Since(since).Hours() / 24
		from := unit.state.Mode
		recommended, reason := unit.modeM.Evaluate(regime, probability, durationDays)
		if recommended == from {
			continue
		}
		if !unit.modeM.RequestSwitch(recommended, reason) {
			continue
		}
		o.logger.Info("mode transition approved", "symbol", symbol, "from", from, "to", recommended, "reason", reason)
		o.ApplyModeTransition(ctx, symbol, from, recommended)
	}
}

// ApplyModeTransition performs the transition-table side effects of
// spec §4.7's From\To matrix for one symbol.
func (o *Orchestrator) ApplyModeTransition(ctx context.Context, symbol string, from, to core.TradingMode) {
	o.mu.Lock()
	unit, ok := o.symbols[symbol]
	o.mu.Unlock()
	if !ok {
		return
	}

	switch {
	case from == core.ModeHold && to == core.ModeGrid:
		o.cancelHoldStop(ctx, unit)
		o.resetHoldFields(unit)
	case from == core.ModeHold && to == core.ModeCash:
		o.tightenStop(ctx, unit, decimal.NewFromFloat(CashExitTightPercent))
		unit.state.CashExitStartedAt = time.Now()
	case from == core.ModeGrid && to == core.ModeHold:
		o.cancelOpenOrders(ctx, symbol)
		o.convertGridInventoryToHold(ctx, unit)
		unit.grid = nil
	case from == core.ModeGrid && to == core.ModeCash:
		o.cancelOpenOrders(ctx, symbol)
		if unit.state.HoldQuantity.IsPositive() {
			unit.state.CashExitStartedAt = time.Now()
		}
		unit.grid = nil
	case from == core.ModeCash && to == core.ModeHold:
		unit.state.CashExitStartedAt = time.Time{}
	case from == core.ModeCash && to == core.ModeGrid:
		unit.state.CashExitStartedAt = time.Time{}
		unit.grid = nil
	}
	unit.state.Mode = to
}

func (o *Orchestrator) cancelHoldStop(ctx context.Context, unit *symbolUnit) {
	if unit.state.HoldStopID == "" {
		return
	}
	_ = o.stops.CancelStop(ctx, unit.state.HoldStopID)
}

func (o *Orchestrator) resetHoldFields(unit *symbolUnit) {
	unit.state.HoldEntryPrice = decimal.Zero
	unit.state.HoldQuantity = decimal.Zero
	unit.state.HoldStopID = ""
}

func (o *Orchestrator) tightenStop(ctx context.Context, unit *symbolUnit, percent decimal.Decimal) {
	if unit.state.HoldStopID == "" || !unit.state.HoldQuantity.IsPositive() {
		return
	}
	_ = o.stops.CancelStop(ctx, unit.state.HoldStopID)
	rec, err := o.stops.CreateStop(ctx, unit.state.Symbol, unit.state.HoldEntryPrice, unit.state.HoldQuantity, core.StopLossTrailing, percent, decimal.Zero)
	if err == nil {
		unit.state.HoldStopID = rec.ID
	}
}

func (o *Orchestrator) convertGridInventoryToHold(ctx context.Context, unit *symbolUnit) {
	balance, err := o.exchange.GetAccountBalance(ctx, baseAssetOf(unit.state.Symbol))
	if err != nil || !balance.IsPositive() {
		return
	}
	price, err := o.exchange.GetCurrentPrice(ctx, unit.state.Symbol)
	if err != nil {
		return
	}
	unit.state.HoldEntryPrice = price
	unit.state.HoldQuantity = balance
	rec, err := o.stops.CreateStop(ctx, unit.state.Symbol, price, balance, core.StopLossTrailing, decimal.NewFromFloat(HoldTrailingPercent), decimal.Zero)
	if err == nil {
		unit.state.HoldStopID = rec.ID
	}
}

func baseAssetOf(symbol string) string {
	// Symbols are BASEQUOTE with no separator (e.g. BTCUSDT); the quote
	// asset is always one of a small known set. This mirrors the
	// exchange adapters' own convention rather than re-deriving it from
	// SymbolInfo, which requires a network round trip the caller may
	// not want on every lookup.
	for _, quote := range []string{"USDT", "USDC", "BUSD", "BTC"} {
		if len(symbol) > len(quote) && symbol[len(symbol)-len(quote):] == quote {
			return symbol[:len(symbol)-len(quote)]
		}
	}
	return symbol
}

// RebalanceProposal describes a suggested capital adjustment for one symbol.
type RebalanceProposal struct {
	Symbol string
	Action string // INCREASE or DECREASE
	Amount decimal.Decimal
}

// Rebalance proposes INCREASE/DECREASE adjustments for symbols whose
// actual allocation has drifted from its target by at least
// RebalanceDriftPercent (spec §4.7). targetAllocations maps symbol to
// its target USD allocation; actualValues maps symbol to its current
// position value.
func (o *Orchestrator) Rebalance(ctx context.Context, targetAllocations, actualValues map[string]decimal.Decimal) []RebalanceProposal {
	o.mu.Lock()
	defer o.mu.Unlock()

	var proposals []RebalanceProposal
	for symbol, target := range targetAllocations {
		if target.LessThan(decimal.NewFromInt(MinPositionUSD)) {
			continue
		}
		actual := actualValues[symbol]
		drift := target.Sub(actual).Abs().Div(target)
		if drift.LessThan(decimal.NewFromFloat(RebalanceDriftPercent)) {
			continue
		}
		action := "INCREASE"
		if actual.GreaterThan(target) {
			action = "DECREASE"
		}
		proposals = append(proposals, RebalanceProposal{Symbol: symbol, Action: action, Amount: target.Sub(actual).Abs()})
	}
	o.lastRebalance = time.Now()
	return proposals
}

// SaveState writes an atomic snapshot of every symbol's state.
func (o *Orchestrator) SaveState(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	snapshot := core.PersistedOrchestratorState{
		Version:       core.CurrentOrchestratorStateVersion,
		Timestamp:     time.Now(),
		Symbols:       make(map[string]core.PersistedSymbolState, len(o.symbols)),
		LastRebalance: o.lastRebalance,
	}
	for symbol, unit := range o.symbols {
		snapshot.Symbols[symbol] = core.PersistedSymbolState{
			Mode:              unit.state.Mode,
			HoldEntryPrice:    unit.state.HoldEntryPrice,
			HoldQuantity:      unit.state.HoldQuantity,
			HoldStopID:        unit.state.HoldStopID,
			AllocatedCapital:  unit.state.AllocatedCapital,
			CashExitStartedAt: unit.state.CashExitStartedAt,
		}
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal orchestrator state: %w", err)
	}
	return o.store.Save(ctx, "orchestrator/state.json", data)
}

// Shutdown drains the stop-loss fan-in pool. Call once, after the final
// tick has returned.
func (o *Orchestrator) Shutdown() {
	o.stopFanIn.Stop()
}

// SymbolState returns a copy of symbol's current bookkeeping, for tests
// and observability.
func (o *Orchestrator) SymbolState(symbol string) (core.SymbolState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	unit, ok := o.symbols[symbol]
	if !ok {
		return core.SymbolState{}, false
	}
	return unit.state, true
}
