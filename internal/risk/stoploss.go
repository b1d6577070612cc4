// Package risk implements StopLossRegistry, CircuitBreaker and the
// pre-trade RiskGuard of spec §4.3 and §4.4, grounded on the teacher's
// internal/risk package but adapted from the teacher's margin-PnL
// drawdown model to the spec's portfolio-drawdown and stop-loss
// lifecycle semantics.
package risk

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gridbot/internal/core"
	apperrors "gridbot/pkg/errors"
)

// MaxDailyDrawdownPercent is the default portfolio drawdown halt
// threshold (spec §4.4: 10%).
var MaxDailyDrawdownPercent = decimal.NewFromFloat(0.10)

// StopLossRegistry owns the lifecycle of every stop-loss record across
// all symbols, plus the portfolio drawdown guard. It persists to a
// durable store on every mutation.
type StopLossRegistry struct {
	mu      sync.Mutex
	clock   core.Clock
	store   core.KeyValueStore
	logger  core.ILogger
	records map[string]*core.StopLossRecord

	dailyStartValue decimal.Decimal
	dailyStartedAt  time.Time
	portfolioHalted bool
}

// New builds a StopLossRegistry with no records loaded; call LoadActive
// to restore persisted records on boot.
func New(clock core.Clock, store core.KeyValueStore, logger core.ILogger) *StopLossRegistry {
	return &StopLossRegistry{
		clock:   clock,
		store:   store,
		logger:  logger.WithField("component", "stop_loss_registry"),
		records: make(map[string]*core.StopLossRecord),
	}
}

// CreateStop creates and persists a new stop-loss record for symbol.
// For TRAILING stops, trailingDistance defaults to percent when zero.
func (r *StopLossRegistry) CreateStop(ctx context.Context, symbol string, entryPrice, quantity decimal.Decimal, stopType core.StopLossType, percent, trailingDistance decimal.Decimal) (*core.StopLossRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stopType == core.StopLossTrailing && trailingDistance.IsZero() {
		trailingDistance = percent
	}

	rec := &core.StopLossRecord{
		ID:               uuid.NewString(),
		Symbol:           symbol,
		EntryPrice:       entryPrice,
		Quantity:         quantity,
		Type:             stopType,
		Percent:          percent,
		TrailingDistance: trailingDistance,
		HighestSeenPrice: entryPrice,
		State:            core.StopLossCreated,
		Active:           true,
		CreatedAt:        r.clock.Now(),
	}
	rec.CurrentStopPrice = r.initialStopPrice(rec)
	rec.State = core.StopLossActive

	r.records[rec.ID] = rec
	if err := r.persist(ctx); err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *StopLossRegistry) initialStopPrice(rec *core.StopLossRecord) decimal.Decimal {
	switch rec.Type {
	case core.StopLossBreakEven:
		// Starts below entry; only moves to entry once profit threshold is met.
		return rec.EntryPrice.Mul(decimal.NewFromInt(1).Sub(rec.Percent))
	default:
		return rec.EntryPrice.Mul(decimal.NewFromInt(1).Sub(rec.Percent))
	}
}

// Update refreshes every active (non-TRIGGER_PENDING) record against
// the current price for its symbol, and returns the records that
// newly crossed into TRIGGER_PENDING this call.
func (r *StopLossRegistry) Update(ctx context.Context, symbolPriceMap map[string]decimal.Decimal, atrMap map[string]decimal.Decimal) ([]*core.StopLossRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var triggered []*core.StopLossRecord
	changed := false
	for _, rec := range r.records {
		if !rec.Active || rec.State != core.StopLossActive {
			continue
		}
		price, ok := symbolPriceMap[rec.Symbol]
		if !ok {
			continue
		}

		if price.GreaterThan(rec.HighestSeenPrice) {
			rec.HighestSeenPrice = price
			changed = true
		}

		prevStop := rec.CurrentStopPrice
		r.recomputeStop(rec, atrMap[rec.Symbol])
		if !rec.CurrentStopPrice.Equal(prevStop) {
			changed = true
		}

		if price.LessThanOrEqual(rec.CurrentStopPrice) {
			rec.State = core.StopLossTriggerPending
			rec.TriggerTimestamp = r.clock.Now()
			rec.TriggerPrice = price
			triggered = append(triggered, rec)
			changed = true
		}
	}

	if changed {
		if err := r.persist(ctx); err != nil {
			return triggered, err
		}
	}
	return triggered, nil
}

// recomputeStop updates CurrentStopPrice in place, never decreasing it
// for TRAILING stops (invariant c of spec §4.3).
func (r *StopLossRegistry) recomputeStop(rec *core.StopLossRecord, atr decimal.Decimal) {
	switch rec.Type {
	case core.StopLossFixed:
		// Fixed: stop price never moves after creation.
	case core.StopLossTrailing:
		candidate := rec.HighestSeenPrice.Mul(decimal.NewFromInt(1).Sub(rec.TrailingDistance))
		if candidate.GreaterThan(rec.CurrentStopPrice) {
			rec.CurrentStopPrice = candidate
		}
	case core.StopLossATR:
		if atr.IsPositive() {
			candidate := rec.HighestSeenPrice.Sub(atr.Mul(rec.Percent))
			if candidate.GreaterThan(rec.CurrentStopPrice) {
				rec.CurrentStopPrice = candidate
			}
		}
	case core.StopLossBreakEven:
		profitPct := rec.HighestSeenPrice.Sub(rec.EntryPrice).Div(rec.EntryPrice)
		if profitPct.GreaterThanOrEqual(rec.Percent) && rec.EntryPrice.GreaterThan(rec.CurrentStopPrice) {
			rec.CurrentStopPrice = rec.EntryPrice
		}
	}
}

// ConfirmTrigger deactivates rec after a successful market sell and
// computes its realized PnL percent.
func (r *StopLossRegistry) ConfirmTrigger(ctx context.Context, id string) (*core.StopLossRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, apperrors.ErrOrderNotFound
	}
	rec.Active = false
	rec.State = core.StopLossClosed
	rec.ResultPnLPercent = rec.TriggerPrice.Sub(rec.EntryPrice).Div(rec.EntryPrice)

	if err := r.persist(ctx); err != nil {
		return rec, err
	}
	return rec, nil
}

// Reactivate returns rec to ACTIVE after a failed market sell,
// clearing the trigger fields so Update can re-evaluate it.
func (r *StopLossRegistry) Reactivate(ctx context.Context, id string) (*core.StopLossRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, apperrors.ErrOrderNotFound
	}
	rec.State = core.StopLossActive
	rec.TriggerTimestamp = time.Time{}
	rec.TriggerPrice = decimal.Zero

	if err := r.persist(ctx); err != nil {
		return rec, err
	}
	return rec, nil
}

// CancelStop unconditionally deactivates id.
func (r *StopLossRegistry) CancelStop(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return apperrors.ErrOrderNotFound
	}
	rec.Active = false
	rec.State = core.StopLossClosed
	return r.persist(ctx)
}

// Get returns a copy of the record with id, if it exists.
func (r *StopLossRegistry) Get(id string) (core.StopLossRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return core.StopLossRecord{}, false
	}
	return *rec, true
}

// CheckPortfolioDrawdown records the first observed portfolio value of
// the current UTC day and halts trading once the intraday drawdown
// reaches or exceeds MaxDailyDrawdownPercent.
func (r *StopLossRegistry) CheckPortfolioDrawdown(currentValue decimal.Decimal) (shouldHalt bool, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now().UTC()
	if r.dailyStartedAt.IsZero() || !sameUTCDay(now, r.dailyStartedAt) {
		r.dailyStartValue = currentValue
		r.dailyStartedAt = now
		r.portfolioHalted = false
	}

	if r.dailyStartValue.IsZero() {
		return r.portfolioHalted, ""
	}

	drawdown := currentValue.Sub(r.dailyStartValue).Div(r.dailyStartValue)
	if drawdown.LessThanOrEqual(MaxDailyDrawdownPercent.Neg()) {
		r.portfolioHalted = true
		return true, "daily drawdown exceeded"
	}
	return r.portfolioHalted, ""
}

// IsPortfolioHalted reports the sticky halt flag consulted by RiskGuard.
func (r *StopLossRegistry) IsPortfolioHalted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.portfolioHalted
}

// ResetDaily clears the drawdown halt and reseeds the daily start
// value, driven by the scheduler at UTC midnight.
func (r *StopLossRegistry) ResetDaily(startValue decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dailyStartValue = startValue
	r.dailyStartedAt = r.clock.Now().UTC()
	r.portfolioHalted = false
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
