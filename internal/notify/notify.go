// Package notify implements core.Notifier: a fan-out manager over one
// or more outbound channels, grounded on the teacher's AlertManager.
// Delivery failures never propagate to the caller — spec §6 requires
// Notifier.Send to be best-effort.
package notify

import (
	"context"
	"sync"
	"time"

	"gridbot/internal/core"
)

// Channel is one outbound transport (Slack, Telegram, ...).
type Channel interface {
	Name() string
	Send(ctx context.Context, message string, urgent bool) error
}

// Manager fans a Send out to every registered channel concurrently,
// bounding each channel with a timeout so a hung transport cannot
// delay the others or the caller beyond that timeout.
type Manager struct {
	channels []Channel
	logger   core.ILogger
	timeout  time.Duration
}

// New builds a Manager with no channels registered; use AddChannel to
// wire transports in. With zero channels, Send is a documented no-op
// that still returns true — the "absent credentials downgrade to
// disabled" behaviour of spec §6 is achieved by never adding a channel
// rather than by a sentinel NoopChannel.
func New(logger core.ILogger) *Manager {
	return &Manager{
		logger:  logger.WithField("component", "notify"),
		timeout: 10 * time.Second,
	}
}

// AddChannel registers an outbound transport.
func (m *Manager) AddChannel(ch Channel) {
	m.channels = append(m.channels, ch)
	m.logger.Info("notify channel registered", "name", ch.Name())
}

// Send delivers message to every registered channel. It always returns
// true to the caller: per-channel failures are logged, never returned,
// so a notifier outage can never block the trading path.
func (m *Manager) Send(ctx context.Context, message string, urgent bool) bool {
	if len(m.channels) == 0 {
		return true
	}

	var wg sync.WaitGroup
	for _, ch := range m.channels {
		wg.Add(1)
		go func(c Channel) {
			defer wg.Done()
			timeoutCtx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()
			if err := c.Send(timeoutCtx, message, urgent); err != nil {
				m.logger.Error("notify channel failed", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
	wg.Wait()
	return true
}
