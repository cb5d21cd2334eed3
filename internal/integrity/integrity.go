// Package integrity implements the Data-Integrity Monitor (§4.7): it
// tracks tick-gap size, connection continuity, and game cleanliness, and
// flips into a triggered state when a configured threshold is crossed,
// gating the Recording State Machine until one full clean game recovers.
//
// Grounded in counter/threshold bookkeeping style on the teacher's
// periodic cursor-compared-to-threshold checks (internal/persist
// retention pruning, internal/archive.Archiver's cycle loop).
package integrity

import (
	"sync"

	"github.com/vectra-player/core/internal/config"
)

// TriggerKind identifies what crossed the configured threshold.
type TriggerKind string

const (
	TriggerTickGap         TriggerKind = "TICK_GAP"
	TriggerUncleanGames    TriggerKind = "UNCLEAN_GAMES"
	TriggerConnectionLost  TriggerKind = "CONNECTION_LOST"
)

// OnThresholdExceeded is invoked when the monitor transitions into the
// triggered state. OnRecovery is invoked when it exits.
type Callbacks struct {
	OnThresholdExceeded func(kind TriggerKind, details string)
	OnRecovery          func()
}

// Monitor tracks the signals described in §4.7.
type Monitor struct {
	mu sync.Mutex

	kind      config.IntegrityThresholdKind
	threshold int

	triggered bool

	uncleanStreak int
	currentGameClean bool
	connected     bool

	cb Callbacks
}

// New constructs a Monitor for the configured threshold kind/value.
func New(kind config.IntegrityThresholdKind, threshold int, cb Callbacks) *Monitor {
	return &Monitor{kind: kind, threshold: threshold, connected: true, currentGameClean: true, cb: cb}
}

// Triggered reports whether the monitor is currently in the triggered
// state (the Recorder must discard the current game while this holds).
func (m *Monitor) Triggered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triggered
}

// OnTickGap reports an observed inter-tick gap (in ticks). If it exceeds
// the configured TICKS threshold, the current game is marked unclean and
// — when the threshold kind is TICKS — the monitor triggers immediately.
func (m *Monitor) OnTickGap(gapTicks int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gapTicks > m.threshold {
		m.currentGameClean = false
		if m.kind == config.ThresholdTicks {
			m.trigger(TriggerTickGap, "tick gap exceeded configured threshold")
		}
	}
}

// OnConnectionLost marks the current game unclean and always triggers
// immediately, regardless of threshold kind.
func (m *Monitor) OnConnectionLost() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.currentGameClean = false
	m.trigger(TriggerConnectionLost, "connection lost mid-session")
}

// OnConnectionRestored clears the disconnected flag without itself
// recovering the triggered state — recovery requires a full clean game.
func (m *Monitor) OnConnectionRestored() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
}

// OnGameEnded reports that a game completed. clean must reflect whether
// the game ran without an unclean marker (connection stable, monotonic
// ticks with no gap exceeding threshold, ordinary rug-pair terminator).
// When the threshold kind is GAMES, consecutive unclean games accumulate
// toward the configured threshold.
func (m *Monitor) OnGameEnded(clean bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if clean {
		m.uncleanStreak = 0
		if m.triggered {
			m.recover()
		}
	} else {
		m.uncleanStreak++
		if m.kind == config.ThresholdGames && m.uncleanStreak >= m.threshold {
			m.trigger(TriggerUncleanGames, "consecutive unclean games reached configured threshold")
		}
	}
	m.currentGameClean = true
}

// CurrentGameClean reports whether the game in progress has stayed clean
// so far.
func (m *Monitor) CurrentGameClean() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentGameClean
}

func (m *Monitor) trigger(kind TriggerKind, details string) {
	if m.triggered {
		return
	}
	m.triggered = true
	if m.cb.OnThresholdExceeded != nil {
		m.cb.OnThresholdExceeded(kind, details)
	}
}

func (m *Monitor) recover() {
	m.triggered = false
	if m.cb.OnRecovery != nil {
		m.cb.OnRecovery()
	}
}
