package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/core"
)

// CircuitBreakerPercent is the default single-tick price-drop trigger
// (spec §4.4: 10%).
var CircuitBreakerPercent = decimal.NewFromFloat(0.10)

// CircuitBreaker is per-bot: it remembers the last accepted price
// observation and emergency-stops once the next observation drops by
// CircuitBreakerPercent or more. Adapted from the teacher's
// consecutive-loss/PnL-drawdown tripping to the spec's single-
// observation price-drop trigger.
type CircuitBreaker struct {
	mu        sync.Mutex
	clock     core.Clock
	lastPrice decimal.Decimal
	tripped   bool
	trippedAt time.Time
}

// NewCircuitBreaker builds a closed CircuitBreaker.
func NewCircuitBreaker(clock core.Clock) *CircuitBreaker {
	return &CircuitBreaker{clock: clock}
}

// Observe records a new price observation. Zero or negative prices are
// ignored: they never trip the breaker and never update the reference
// price (spec §4.4). Returns true if this observation tripped the
// breaker.
func (cb *CircuitBreaker) Observe(price decimal.Decimal) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !price.IsPositive() {
		return false
	}

	if cb.lastPrice.IsPositive() {
		drop := cb.lastPrice.Sub(price).Div(cb.lastPrice)
		if drop.GreaterThanOrEqual(CircuitBreakerPercent) {
			cb.tripped = true
			cb.trippedAt = cb.clock.Now()
			cb.lastPrice = price
			return true
		}
	}

	cb.lastPrice = price
	return false
}

// IsTripped reports whether the breaker is currently open.
func (cb *CircuitBreaker) IsTripped() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.tripped
}

// Reset manually closes the breaker and clears the reference price, so
// the next Observe establishes a fresh baseline rather than comparing
// against a stale pre-trip price.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.tripped = false
	cb.lastPrice = decimal.Zero
	cb.trippedAt = time.Time{}
}

// TrippedAt returns when the breaker last tripped, the zero time if it
// never has.
func (cb *CircuitBreaker) TrippedAt() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.trippedAt
}
