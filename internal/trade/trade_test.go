package trade

import (
	"errors"
	"testing"

	"github.com/vectra-player/core/internal/config"
	"github.com/vectra-player/core/internal/gamestate"
	"github.com/vectra-player/core/internal/money"
	"github.com/vectra-player/core/internal/phase"
)

func d(s string) money.D { return money.MustFromString(s) }

func newTestManager() (*Manager, *gamestate.GameState) {
	gs := gamestate.New(d("0.100"), d("5.0"), nil)
	cfg := &config.Config{MinBet: d("0.001"), MaxBet: d("1.0")}
	return New(gs, nil, nil, cfg), gs
}

func TestExecuteBuyRejectsBlockedPhase(t *testing.T) {
	m, _ := newTestManager()
	sig := Signal{Phase: phase.Cooldown, CurrentTick: 1, Price: d("1.000")}
	if _, err := m.ExecuteBuy(sig, d("0.010")); !errors.Is(err, ErrBlockedPhase) {
		t.Fatalf("expected ErrBlockedPhase, got %v", err)
	}
}

func TestExecuteBuyRejectsAmountBelowMin(t *testing.T) {
	m, _ := newTestManager()
	sig := Signal{Phase: phase.ActiveGameplay, CurrentTick: 1, Price: d("1.000")}
	if _, err := m.ExecuteBuy(sig, d("0.0001")); !errors.Is(err, ErrAmountTooLow) {
		t.Fatalf("expected ErrAmountTooLow, got %v", err)
	}
}

func TestExecuteBuyThenFullSell(t *testing.T) {
	m, gs := newTestManager()
	sig := Signal{Phase: phase.ActiveGameplay, CurrentTick: 1, Price: d("1.000")}
	if _, err := m.ExecuteBuy(sig, d("0.010")); err != nil {
		t.Fatalf("buy: %v", err)
	}

	sig.Price = d("2.000")
	res, err := m.ExecuteSell(sig)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if res.Partial {
		t.Fatalf("expected a full sell, got partial")
	}
	if gs.Snapshot().Position.Open {
		t.Fatalf("expected position closed")
	}
}

func TestExecuteSellPartialUsesConfiguredPercentage(t *testing.T) {
	m, gs := newTestManager()
	sig := Signal{Phase: phase.ActiveGameplay, CurrentTick: 1, Price: d("1.000")}
	_, _ = m.ExecuteBuy(sig, d("0.010"))
	if err := gs.SetSellPercentage(d("0.50")); err != nil {
		t.Fatalf("set pct: %v", err)
	}

	sig.Price = d("2.000")
	res, err := m.ExecuteSell(sig)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !res.Partial {
		t.Fatalf("expected partial sell")
	}
	if !res.RemainingAmount.Equal(d("0.005")) {
		t.Fatalf("expected remaining 0.005, got %s", res.RemainingAmount)
	}
}
