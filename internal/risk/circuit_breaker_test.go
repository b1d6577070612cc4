package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"gridbot/internal/clock"
)

func TestCircuitBreaker_TripsOnLargeSingleDrop(t *testing.T) {
	cb := NewCircuitBreaker(clock.NewFake(time.Now()))

	assert.False(t, cb.IsTripped())
	cb.Observe(decimal.NewFromInt(100))
	tripped := cb.Observe(decimal.NewFromInt(89)) // 11% drop

	assert.True(t, tripped)
	assert.True(t, cb.IsTripped())
}

func TestCircuitBreaker_DoesNotTripOnSmallDrop(t *testing.T) {
	cb := NewCircuitBreaker(clock.NewFake(time.Now()))

	cb.Observe(decimal.NewFromInt(100))
	tripped := cb.Observe(decimal.NewFromInt(95)) // 5% drop

	assert.False(t, tripped)
	assert.False(t, cb.IsTripped())
}

func TestCircuitBreaker_IgnoresNonPositiveObservations(t *testing.T) {
	cb := NewCircuitBreaker(clock.NewFake(time.Now()))

	cb.Observe(decimal.NewFromInt(100))
	cb.Observe(decimal.Zero)
	cb.Observe(decimal.NewFromInt(-5))
	tripped := cb.Observe(decimal.NewFromInt(95))

	assert.False(t, tripped)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(clock.NewFake(time.Now()))
	cb.Observe(decimal.NewFromInt(100))
	cb.Observe(decimal.NewFromInt(50))
	assert.True(t, cb.IsTripped())

	cb.Reset()
	assert.False(t, cb.IsTripped())
}
