package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	strings.Builder
}

func (b *syncBuffer) Sync() error { return nil }

func TestZapLogger_InfoIncludesFields(t *testing.T) {
	buf := &syncBuffer{}
	l, err := NewZapLogger("INFO", zapcore.AddSync(buf))
	require.NoError(t, err)

	l.Info("order placed", "symbol", "BTCUSDT", "side", "BUY")
	require.NoError(t, l.Sync())

	assert.Contains(t, buf.String(), "order placed")
	assert.Contains(t, buf.String(), "BTCUSDT")
}

func TestZapLogger_DebugSuppressedAtInfoLevel(t *testing.T) {
	buf := &syncBuffer{}
	l, err := NewZapLogger("INFO", zapcore.AddSync(buf))
	require.NoError(t, err)

	l.Debug("should not appear")
	require.NoError(t, l.Sync())

	assert.Empty(t, buf.String())
}

func TestZapLogger_WithFieldPersistsAcrossCalls(t *testing.T) {
	buf := &syncBuffer{}
	l, err := NewZapLogger("DEBUG", zapcore.AddSync(buf))
	require.NoError(t, err)

	scoped := l.WithField("symbol", "ETHUSDT")
	scoped.Info("tick")
	require.NoError(t, scoped.(*ZapLogger).Sync())

	line := strings.TrimSpace(buf.String())
	assert.Contains(t, line, "ETHUSDT")
	assert.Contains(t, line, "tick")
}

func TestParseLevel_InvalidFallsBackToError(t *testing.T) {
	_, err := ParseLevel("bogus")
	assert.Error(t, err)
}

func TestParseLevel_EmptyDefaultsToInfo(t *testing.T) {
	level, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, InfoLevel, level)
}
