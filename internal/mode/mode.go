// Package mode implements ModeManager, the regime-to-mode hysteresis
// engine of spec §4.6. Grounded on the stoploss/circuit-breaker shape
// in package risk (mutex-guarded state, injected clock, plain structs
// rather than a generic state-machine library).
package mode

import (
	"sync"
	"time"

	"gridbot/internal/core"
)

const (
	// MinRegimeProbability is the default hysteresis probability floor.
	MinRegimeProbability = 0.70
	// MinRegimeDurationDays is the default hysteresis duration floor.
	MinRegimeDurationDays = 2
	// TransitionCooldown is the default time between accepted transitions.
	TransitionCooldown = 24 * time.Hour
	// EmergencyBearProbability bypasses duration/probability thresholds.
	EmergencyBearProbability = 0.85
	// MaxTransitions48h is the flap-lock trigger count.
	MaxTransitions48h = 2
	// FlapLockDuration is how long a flap lock holds once triggered.
	FlapLockDuration = 7 * 24 * time.Hour
)

// regimeModeMap is the static regime -> mode table (spec §4.6).
var regimeModeMap = map[core.Regime]core.TradingMode{
	core.RegimeBull:     core.ModeHold,
	core.RegimeSideways: core.ModeGrid,
	core.RegimeBear:     core.ModeCash,
}

// Manager owns one symbol's mode hysteresis state.
type Manager struct {
	mu     sync.Mutex
	clock  core.Clock
	state  core.ModeState
	events []core.TransitionEvent
}

// New builds a Manager starting in mode initial.
func New(clock core.Clock, initial core.TradingMode) *Manager {
	now := clock.Now()
	return &Manager{
		clock: clock,
		state: core.ModeState{
			CurrentMode: initial,
			ModeSince:   now,
			LastRegime:  core.RegimeUnknown,
			RegimeSince: now,
		},
	}
}

// Evaluate is pure: it proposes a mode given regime/probability/
// duration without mutating any state.
func (m *Manager) Evaluate(regime core.Regime, probability float64, durationDays float64) (recommended core.TradingMode, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evaluateLocked(regime, probability, durationDays)
}

func (m *Manager) evaluateLocked(regime core.Regime, probability float64, durationDays float64) (core.TradingMode, string) {
	if m.flapLockedLocked() {
		return core.ModeGrid, "flap lock active"
	}

	target, known := regimeModeMap[regime]
	if !known {
		return m.state.CurrentMode, "regime unknown or in transition, holding current mode"
	}
	if target == m.state.CurrentMode {
		return target, "regime already matches current mode"
	}

	if regime == core.RegimeBear && probability >= EmergencyBearProbability {
		return target, "emergency bear override"
	}

	if probability < MinRegimeProbability {
		return m.state.CurrentMode, "regime probability below threshold"
	}
	if durationDays < MinRegimeDurationDays {
		return m.state.CurrentMode, "regime duration below threshold"
	}
	if m.clock.Since(m.state.LastTransitionAt) < TransitionCooldown && !m.state.LastTransitionAt.IsZero() {
		return m.state.CurrentMode, "transition cooldown active"
	}

	return target, "regime-driven transition"
}

func (m *Manager) flapLockedLocked() bool {
	return m.clock.Now().Before(m.state.FlapLockedUntil)
}

// RequestSwitch mutates state to targetMode unless it already is the
// current mode. It does not re-apply the hysteresis rules; the caller
// checks those with a prior Evaluate call. It always records the
// transition when it mutates.
func (m *Manager) RequestSwitch(targetMode core.TradingMode, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if targetMode == m.state.CurrentMode {
		return false
	}

	now := m.clock.Now()
	m.events = append(m.events, core.TransitionEvent{
		From:        m.state.CurrentMode,
		To:          targetMode,
		Timestamp:   now,
		Regime:      m.state.LastRegime,
		Probability: m.state.RegimeProbability,
		Reason:      reason,
	})

	m.state.PreviousMode = m.state.CurrentMode
	m.state.CurrentMode = targetMode
	m.state.ModeSince = now
	m.state.LastTransitionAt = now

	m.countTransitionsLocked(now)
	return true
}

func (m *Manager) countTransitionsLocked(now time.Time) {
	var in24h, in48h int
	for _, e := range m.events {
		age := now.Sub(e.Timestamp)
		if age <= 24*time.Hour {
			in24h++
		}
		if age <= 48*time.Hour {
			in48h++
		}
	}
	m.state.Transitions24h = in24h
	m.state.Transitions48h = in48h

	if in48h >= MaxTransitions48h {
		m.state.FlapLockedUntil = now.Add(FlapLockDuration)
	}
}

// UpdateRegimeInfo touches only regime-tracking fields; it never
// changes CurrentMode.
func (m *Manager) UpdateRegimeInfo(regime core.Regime, probability float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if regime != m.state.LastRegime {
		m.state.RegimeSince = m.clock.Now()
	}
	m.state.LastRegime = regime
	m.state.RegimeProbability = probability
}

// State returns a copy of the manager's current tracking state.
func (m *Manager) State() core.ModeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Events returns a copy of the recorded transition history.
func (m *Manager) Events() []core.TransitionEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.TransitionEvent, len(m.events))
	copy(out, m.events)
	return out
}

// RestoreState replaces the manager's tracking state wholesale, used
// when rehydrating from persisted orchestrator state on boot.
func (m *Manager) RestoreState(state core.ModeState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}
