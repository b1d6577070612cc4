package e2e

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridbot/internal/bot"
	"gridbot/internal/risk"
	"gridbot/internal/store"
)

type spyNotifier struct {
	messages []string
	urgent   []bool
}

func (s *spyNotifier) Send(ctx context.Context, message string, urgent bool) bool {
	s.messages = append(s.messages, message)
	s.urgent = append(s.urgent, urgent)
	return true
}

// Scenario 4: flash-crash circuit breaker (spec §8.4). Last-known
// price 50000, next observed price 44500 (a de facto 11% drop).
// Expect an emergency stop (TickStop), an urgent notification, and
// state saved so the halt survives a restart.
func TestFlashCrashCircuitBreaker(t *testing.T) {
	ctx := context.Background()
	ex := newSeededExchange(t, decimal.NewFromInt(50000))
	reg := newRegistry(t)
	guard := risk.NewGuard(reg, nil, nil, newLogger(t))
	notifier := &spyNotifier{}
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)

	b := bot.New(bot.Config{
		Symbol:     "BTCUSDT",
		Investment: decimal.NewFromInt(4000),
		GridCount:  4,
	}, ex, guard, reg, notifier, fs, newLogger(t))
	require.NoError(t, b.Initialize(ctx, newGridStrategyCtor(decimal.NewFromInt(48000), decimal.NewFromInt(52000), 4, decimal.NewFromInt(4000))))

	// Initialize observed 50000 as the circuit breaker's baseline; now
	// the price crashes to 44500, an 11% drop.
	ex.SetPrice("BTCUSDT", decimal.NewFromInt(44500))

	result, err := b.Tick(ctx, decimal.NewFromInt(10000))
	require.NoError(t, err)
	assert.Equal(t, bot.TickStop, result, "a >=10% single-tick drop must trip the emergency stop")

	require.NotEmpty(t, notifier.messages)
	foundUrgent := false
	for _, u := range notifier.urgent {
		if u {
			foundUrgent = true
		}
	}
	assert.True(t, foundUrgent, "the circuit-breaker trip must be notified urgently")

	// The stopped bot must keep refusing ticks without re-tripping.
	result, err = b.Tick(ctx, decimal.NewFromInt(10000))
	require.NoError(t, err)
	assert.Equal(t, bot.TickStop, result)

	_, err = fs.Load(ctx, "bots/BTCUSDT.json")
	assert.NoError(t, err, "the emergency stop must persist state before returning")
}
