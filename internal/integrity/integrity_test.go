package integrity

import (
	"testing"

	"github.com/vectra-player/core/internal/config"
)

func TestTickGapTriggersWhenKindIsTicks(t *testing.T) {
	var triggered bool
	m := New(config.ThresholdTicks, 5, Callbacks{
		OnThresholdExceeded: func(kind TriggerKind, details string) { triggered = true },
	})

	m.OnTickGap(3)
	if m.Triggered() {
		t.Fatalf("small gap should not trigger")
	}

	m.OnTickGap(10)
	if !triggered || !m.Triggered() {
		t.Fatalf("gap over threshold should trigger")
	}
}

func TestTickGapDoesNotTriggerWhenKindIsGames(t *testing.T) {
	m := New(config.ThresholdGames, 2, Callbacks{})
	m.OnTickGap(1000)
	if m.Triggered() {
		t.Fatalf("tick gap must not trigger under GAMES threshold kind")
	}
	if m.CurrentGameClean() {
		t.Fatalf("expected current game marked unclean")
	}
}

func TestConsecutiveUncleanGamesTriggerUnderGamesKind(t *testing.T) {
	var triggerCount int
	m := New(config.ThresholdGames, 2, Callbacks{
		OnThresholdExceeded: func(kind TriggerKind, details string) { triggerCount++ },
	})

	m.OnGameEnded(false)
	if m.Triggered() {
		t.Fatalf("should not trigger after a single unclean game with threshold 2")
	}
	m.OnGameEnded(false)
	if !m.Triggered() {
		t.Fatalf("should trigger after reaching the configured unclean-game threshold")
	}
	if triggerCount != 1 {
		t.Fatalf("expected exactly one trigger callback, got %d", triggerCount)
	}
}

func TestCleanGameRecoversTriggeredState(t *testing.T) {
	var recovered bool
	m := New(config.ThresholdGames, 1, Callbacks{
		OnRecovery: func() { recovered = true },
	})

	m.OnGameEnded(false)
	if !m.Triggered() {
		t.Fatalf("expected trigger")
	}
	m.OnGameEnded(true)
	if m.Triggered() {
		t.Fatalf("expected recovery after one clean game")
	}
	if !recovered {
		t.Fatalf("expected OnRecovery callback")
	}
}

func TestConnectionLossAlwaysTriggersRegardlessOfKind(t *testing.T) {
	m := New(config.ThresholdGames, 100, Callbacks{})
	m.OnConnectionLost()
	if !m.Triggered() {
		t.Fatalf("connection loss must trigger regardless of threshold kind")
	}
	if m.CurrentGameClean() {
		t.Fatalf("expected current game marked unclean")
	}
}

func TestTriggerIsLatchedNotDoubleFired(t *testing.T) {
	var count int
	m := New(config.ThresholdTicks, 1, Callbacks{
		OnThresholdExceeded: func(kind TriggerKind, details string) { count++ },
	})
	m.OnTickGap(5)
	m.OnTickGap(5)
	if count != 1 {
		t.Fatalf("expected a single latched trigger, got %d", count)
	}
}
