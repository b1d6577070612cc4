package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridbot/internal/core"
)

type mockChannel struct {
	name string
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *mockChannel) Name() string { return m.name }

func (m *mockChannel) Send(ctx context.Context, message string, urgent bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, message)
	return m.err
}

func (m *mockChannel) getSent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	copy(out, m.sent)
	return out
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, fields ...interface{})                {}
func (noopLogger) Info(msg string, fields ...interface{})                 {}
func (noopLogger) Warn(msg string, fields ...interface{})                 {}
func (noopLogger) Error(msg string, fields ...interface{})                {}
func (l noopLogger) WithField(k string, v interface{}) core.ILogger       { return l }
func (l noopLogger) WithFields(f map[string]interface{}) core.ILogger     { return l }

func TestManager_SendFansOutToAllChannels(t *testing.T) {
	m := New(noopLogger{})
	ch1 := &mockChannel{name: "ch1"}
	ch2 := &mockChannel{name: "ch2"}
	m.AddChannel(ch1)
	m.AddChannel(ch2)

	ok := m.Send(context.Background(), "grid bot started", false)

	require.True(t, ok)
	assert.Equal(t, []string{"grid bot started"}, ch1.getSent())
	assert.Equal(t, []string{"grid bot started"}, ch2.getSent())
}

func TestManager_SendWithNoChannelsIsNoop(t *testing.T) {
	m := New(noopLogger{})
	assert.True(t, m.Send(context.Background(), "hello", false))
}

func TestManager_SendReturnsTrueEvenWhenChannelFails(t *testing.T) {
	m := New(noopLogger{})
	m.AddChannel(&mockChannel{name: "flaky", err: errors.New("boom")})

	assert.True(t, m.Send(context.Background(), "urgent stop", true))
}

func TestSlackChannel_EmptyWebhookIsNoop(t *testing.T) {
	ch := NewSlackChannel("")
	assert.NoError(t, ch.Send(context.Background(), "msg", false))
}

func TestTelegramChannel_MissingCredentialsIsNoop(t *testing.T) {
	ch := NewTelegramChannel("", "")
	assert.NoError(t, ch.Send(context.Background(), "msg", false))
}
