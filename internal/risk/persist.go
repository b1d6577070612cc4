package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/core"
)

const stopLossRegistryPath = "risk/stop_loss_registry.json"

// persistedRegistry is the on-disk shape of the whole registry: a flat
// list of records plus the portfolio-drawdown bookkeeping needed to
// resume CheckPortfolioDrawdown correctly across restarts.
type persistedRegistry struct {
	Records         []core.StopLossRecord `json:"records"`
	DailyStartValue string                 `json:"daily_start_value"`
	DailyStartedAt  string                 `json:"daily_started_at"`
	PortfolioHalted bool                   `json:"portfolio_halted"`
}

// persist must be called with r.mu held.
func (r *StopLossRegistry) persist(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	snapshot := persistedRegistry{
		DailyStartValue: r.dailyStartValue.String(),
		DailyStartedAt:  r.dailyStartedAt.Format(time.RFC3339),
		PortfolioHalted: r.portfolioHalted,
	}
	for _, rec := range r.records {
		snapshot.Records = append(snapshot.Records, *rec)
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal stop loss registry: %w", err)
	}
	if err := r.store.Save(ctx, stopLossRegistryPath, data); err != nil {
		return fmt.Errorf("persist stop loss registry: %w", err)
	}
	return nil
}

// LoadActive restores every record from durable storage, marking the
// registry ready to resume Update calls. A missing persisted file is
// not an error — the registry simply starts empty.
func (r *StopLossRegistry) LoadActive(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store == nil {
		return nil
	}

	data, err := r.store.Load(ctx, stopLossRegistryPath)
	if err != nil {
		return nil
	}

	var snapshot persistedRegistry
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("unmarshal stop loss registry: %w", err)
	}

	r.records = make(map[string]*core.StopLossRecord, len(snapshot.Records))
	for i := range snapshot.Records {
		rec := snapshot.Records[i]
		r.records[rec.ID] = &rec
	}
	r.portfolioHalted = snapshot.PortfolioHalted
	if snapshot.DailyStartValue != "" {
		if v, err := decimal.NewFromString(snapshot.DailyStartValue); err == nil {
			r.dailyStartValue = v
		}
	}
	if snapshot.DailyStartedAt != "" {
		if t, err := time.Parse(time.RFC3339, snapshot.DailyStartedAt); err == nil {
			r.dailyStartedAt = t
		}
	}
	return nil
}
