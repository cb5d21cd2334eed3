package live

import (
	"testing"
	"time"

	"github.com/vectra-player/core/internal/feed"
)

func newManagerAt(t0 time.Time) (*Manager, *fakeClock) {
	clk := &fakeClock{t: t0}
	m := New(Thresholds{
		SpikeRateThreshold: 0.05,
		ErrorRateThreshold: 0.05,
		DisconnectWindow:   60 * time.Second,
		DisconnectLimit:    3,
		OfflineAfter:       15 * time.Second,
		Hysteresis:         10 * time.Second,
	}, nil, nil, nil)
	m.now = clk.Now
	return m, clk
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestManagerStartsNormal(t *testing.T) {
	m, _ := newManagerAt(time.Unix(0, 0))
	if got := m.Snapshot().OperatingMode; got != Normal {
		t.Fatalf("expected NORMAL at start, got %s", got)
	}
}

func TestManagerDegradesOnSpikeRate(t *testing.T) {
	m, clk := newManagerAt(time.Unix(0, 0))
	m.OnSignal(clk.t)

	snap := m.Evaluate(feed.Counters{TotalSignals: 100, LatencySpikes: 10})
	if snap.OperatingMode != Degraded {
		t.Fatalf("expected DEGRADED on 10%% spike rate, got %s", snap.OperatingMode)
	}
}

func TestManagerDropsToMinimalOnDisconnects(t *testing.T) {
	m, clk := newManagerAt(time.Unix(0, 0))
	m.OnSignal(clk.t)

	for i := 0; i < 3; i++ {
		m.OnDisconnected(clk.t)
		clk.Advance(time.Second)
	}

	snap := m.Evaluate(feed.Counters{TotalSignals: 10})
	if snap.OperatingMode != Minimal {
		t.Fatalf("expected MINIMAL after 3 disconnects within window, got %s", snap.OperatingMode)
	}
}

func TestManagerGoesOfflineAfterSilence(t *testing.T) {
	m, clk := newManagerAt(time.Unix(0, 0))
	m.OnSignal(clk.t)
	clk.Advance(16 * time.Second)

	snap := m.Evaluate(feed.Counters{TotalSignals: 10})
	if snap.OperatingMode != Offline {
		t.Fatalf("expected OFFLINE after 16s silence, got %s", snap.OperatingMode)
	}
}

func TestManagerStepsDownOneLevelAtATimeAfterHysteresis(t *testing.T) {
	m, clk := newManagerAt(time.Unix(0, 0))
	m.OnSignal(clk.t)
	clk.Advance(16 * time.Second)

	if snap := m.Evaluate(feed.Counters{TotalSignals: 10}); snap.OperatingMode != Offline {
		t.Fatalf("expected OFFLINE, got %s", snap.OperatingMode)
	}

	// Signal resumes; clean traffic is observed immediately, but the mode
	// should not drop straight back to NORMAL before the hysteresis window
	// of sustained clean operation has elapsed.
	clk.Advance(time.Second)
	m.OnSignal(clk.t)
	if snap := m.Evaluate(feed.Counters{TotalSignals: 20, LatencySpikes: 0, Errors: 0}); snap.OperatingMode != Offline {
		t.Fatalf("expected to stay OFFLINE before hysteresis elapses, got %s", snap.OperatingMode)
	}

	// After the hysteresis window of sustained clean traffic, step down
	// exactly one level, to MINIMAL, not straight to NORMAL.
	clk.Advance(11 * time.Second)
	m.OnSignal(clk.t)
	snap := m.Evaluate(feed.Counters{TotalSignals: 30, LatencySpikes: 0, Errors: 0})
	if snap.OperatingMode != Minimal {
		t.Fatalf("expected to step down to MINIMAL after hysteresis, got %s", snap.OperatingMode)
	}
}
