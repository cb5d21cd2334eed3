// Package live implements the Live-State Provider & Degradation Manager
// (§4.10): a single atomic view of operating health that consumers poll
// instead of reacting to individual transient events, plus the
// NORMAL/DEGRADED/MINIMAL/OFFLINE mode ladder with hysteresis.
//
// The severity-ladder/hysteresis shape is grounded on the teacher's
// internal/engine.StressController: an intensity value computed each
// cycle, compared against fixed thresholds to pick a phase, with a
// minimum dwell time before the next transition is considered — the
// sine+random-walk intensity generator is replaced here with the rate of
// observed feed degradation signals (spikes/errors/disconnects), and the
// dwell time becomes the spec's explicit hysteresis window.
package live

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/vectra-player/core/internal/bus"
	"github.com/vectra-player/core/internal/feed"
	"github.com/vectra-player/core/internal/gamestate"
	"github.com/vectra-player/core/internal/reconcile"
)

// OperatingMode is the coarse health indicator surfaced to consumers.
type OperatingMode string

const (
	Normal   OperatingMode = "NORMAL"
	Degraded OperatingMode = "DEGRADED"
	Minimal  OperatingMode = "MINIMAL"
	Offline  OperatingMode = "OFFLINE"
)

// severity orders modes worst-to-best for hysteresis comparisons.
var severity = map[OperatingMode]int{
	Offline:  3,
	Minimal:  2,
	Degraded: 1,
	Normal:   0,
}

// Thresholds configures the mode ladder (SPEC_FULL.md §5 defaults, pinned
// since spec.md left them abstract).
type Thresholds struct {
	SpikeRateThreshold float64       // fraction of signals that were latency spikes
	ErrorRateThreshold float64       // fraction of signals that errored
	DisconnectWindow   time.Duration // W
	DisconnectLimit    int           // disconnects within W before DEGRADED->MINIMAL
	OfflineAfter       time.Duration // D: no signal for this long -> OFFLINE
	Hysteresis         time.Duration // H: clean dwell before stepping back down one level
}

// DefaultThresholds matches SPEC_FULL.md §5 item 5.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SpikeRateThreshold: 0.05,
		ErrorRateThreshold: 0.05,
		DisconnectWindow:   60 * time.Second,
		DisconnectLimit:    3,
		OfflineAfter:       15 * time.Second,
		Hysteresis:         10 * time.Second,
	}
}

// Snapshot is the single atomic view consumers poll (§4.10).
type Snapshot struct {
	OperatingMode OperatingMode
	Connected     bool
	LastSignalAt  time.Time
	SpikeRate     float64
	ErrorRate     float64
	ServerState   reconcile.ServerState
	GameState     gamestate.Snapshot
}

// Manager tracks feed health counters and GameState/ServerState to
// compute the operating mode ladder and publish Snapshot to readers.
type Manager struct {
	thresholds Thresholds
	bus        *bus.Bus
	game       *gamestate.GameState
	reconciler *reconcile.Reconciler

	mu            sync.Mutex
	mode          OperatingMode
	connected     bool
	lastSignalAt  time.Time
	disconnectsAt []time.Time
	prevSignals   uint64
	prevSpikes    uint64
	prevErrors    uint64
	cleanSince    time.Time

	current atomic.Pointer[Snapshot]
	now     func() time.Time
}

// New constructs a Manager starting in NORMAL mode.
func New(thresholds Thresholds, game *gamestate.GameState, reconciler *reconcile.Reconciler, b *bus.Bus) *Manager {
	m := &Manager{
		thresholds: thresholds,
		bus:        b,
		game:       game,
		reconciler: reconciler,
		mode:       Normal,
		connected:  true,
		now:        time.Now,
	}
	m.cleanSince = m.now()
	m.publish()
	return m
}

// OnSignal records that a feed signal was received at t, refreshing the
// time-since-last-signal clock the OFFLINE transition depends on.
func (m *Manager) OnSignal(t time.Time) {
	m.mu.Lock()
	m.lastSignalAt = t
	m.mu.Unlock()
}

// OnDisconnected records a disconnect event for the DEGRADED->MINIMAL
// window count and marks the feed as not connected.
func (m *Manager) OnDisconnected(t time.Time) {
	m.mu.Lock()
	m.connected = false
	m.disconnectsAt = append(m.disconnectsAt, t)
	m.mu.Unlock()
}

// OnReconnected marks the feed connected again. It does not by itself
// clear MINIMAL/DEGRADED — Evaluate's hysteresis handles recovery.
func (m *Manager) OnReconnected() {
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
}

// Evaluate recomputes the operating mode from the feed's cumulative
// counters and the clock, applying the hysteresis rule: the mode may
// jump straight to a worse state but steps back toward NORMAL only one
// level at a time, and only after Hysteresis has elapsed since the last
// bad observation. Call this periodically (e.g. every second) from the
// host's event loop.
func (m *Manager) Evaluate(counters feed.Counters) Snapshot {
	now := m.now()

	m.mu.Lock()
	deltaSignals := counters.TotalSignals - m.prevSignals
	deltaSpikes := counters.LatencySpikes - m.prevSpikes
	deltaErrors := counters.Errors - m.prevErrors
	m.prevSignals = counters.TotalSignals
	m.prevSpikes = counters.LatencySpikes
	m.prevErrors = counters.Errors

	var spikeRate, errorRate float64
	if deltaSignals > 0 {
		spikeRate = float64(deltaSpikes) / float64(deltaSignals)
		errorRate = float64(deltaErrors) / float64(deltaSignals)
	}

	cutoff := now.Add(-m.thresholds.DisconnectWindow)
	m.disconnectsAt = pruneOlderThan(m.disconnectsAt, cutoff)
	disconnectCount := len(m.disconnectsAt)

	sinceLastSignal := time.Duration(0)
	if !m.lastSignalAt.IsZero() {
		sinceLastSignal = now.Sub(m.lastSignalAt)
	}

	target := Normal
	switch {
	case sinceLastSignal >= m.thresholds.OfflineAfter && m.lastSignalAt.IsZero() == false:
		target = Offline
	case disconnectCount >= m.thresholds.DisconnectLimit:
		target = Minimal
	case spikeRate > m.thresholds.SpikeRateThreshold || errorRate > m.thresholds.ErrorRateThreshold:
		target = Degraded
	}

	prevMode := m.mode
	if severity[target] > severity[m.mode] {
		m.mode = target
		m.cleanSince = now
	} else if severity[target] < severity[m.mode] {
		if now.Sub(m.cleanSince) >= m.thresholds.Hysteresis {
			m.mode = stepDown(m.mode)
			m.cleanSince = now
		}
	} else {
		m.cleanSince = now
	}
	modeChanged := m.mode != prevMode

	snap := Snapshot{
		OperatingMode: m.mode,
		Connected:     m.connected,
		LastSignalAt:  m.lastSignalAt,
		SpikeRate:     spikeRate,
		ErrorRate:     errorRate,
	}
	if m.reconciler != nil {
		snap.ServerState = m.reconciler.State()
	}
	if m.game != nil {
		snap.GameState = m.game.Snapshot()
	}
	m.mu.Unlock()

	m.current.Store(&snap)
	if modeChanged && m.bus != nil {
		m.bus.Publish(bus.OperatingModeChanged, snap)
	}
	return snap
}

// Snapshot returns the most recently computed view.
func (m *Manager) Snapshot() Snapshot {
	if s := m.current.Load(); s != nil {
		return *s
	}
	return Snapshot{OperatingMode: Normal}
}

func (m *Manager) publish() {
	m.mu.Lock()
	snap := Snapshot{OperatingMode: m.mode, Connected: m.connected}
	m.mu.Unlock()
	m.current.Store(&snap)
}

func stepDown(mode OperatingMode) OperatingMode {
	switch mode {
	case Offline:
		return Minimal
	case Minimal:
		return Degraded
	case Degraded:
		return Normal
	default:
		return Normal
	}
}

func pruneOlderThan(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
