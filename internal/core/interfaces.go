// Package core defines the shared domain types and capability interfaces
// that every trading component in gridbot depends on.
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeClient is the capability boundary to the trading venue. All
// methods are blocking and honor ctx cancellation. Implementations are
// expected to be internally concurrency-safe.
type ExchangeClient interface {
	GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetAccountBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	GetSymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)

	PlaceLimitBuy(ctx context.Context, symbol string, qty, price decimal.Decimal) (OrderResult, error)
	PlaceLimitSell(ctx context.Context, symbol string, qty, price decimal.Decimal) (OrderResult, error)
	PlaceMarketBuy(ctx context.Context, symbol string, quoteQuantity decimal.Decimal) (OrderResult, error)
	PlaceMarketSell(ctx context.Context, symbol string, baseQuantity decimal.Decimal) (OrderResult, error)

	GetOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	GetOrderStatus(ctx context.Context, symbol string, orderID string) (Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID string) (bool, error)
}

// Clock abstracts wall and monotonic time so tests can control both.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// KeyValueStore provides atomic read/write of opaque blobs keyed by a
// path. Implementations must guarantee that any observer sees either
// the previous or the new content, never a partial write.
type KeyValueStore interface {
	Save(ctx context.Context, path string, data []byte) error
	Load(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// Notifier sends best-effort outbound messages. Delivery failures must
// never propagate to the caller.
type Notifier interface {
	Send(ctx context.Context, message string, urgent bool) bool
}

// ILogger is the structured logging interface used throughout the
// core; concrete loggers live in package logging.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// PositionSizer is a pluggable pre-trade position-size cap (CVaR-based
// in the default deployment). A sizer failure must degrade gracefully
// (caller allows the order through and logs).
type PositionSizer interface {
	MaxPosition(ctx context.Context, symbol string, portfolioValue decimal.Decimal, signalConfidence float64) (decimal.Decimal, error)
}

// AllocationConstraints is a pluggable allocation-envelope cap
// enforcing a cash-reserve floor.
type AllocationConstraints interface {
	AvailableCapital(ctx context.Context, totalCapital, currentInvested decimal.Decimal) (decimal.Decimal, error)
}

// RegimeSource is read by ModeManager; it is written by out-of-core
// sidecar jobs (regime detection, sentiment, macro — spec §1 Out of
// scope) and is consulted, never computed, by the core.
type RegimeSource interface {
	CurrentRegime(ctx context.Context, symbol string) (regime string, probability float64, since time.Time, err error)
}
