package gamestate

import (
	"testing"

	"github.com/vectra-player/core/internal/money"
)

func d(s string) money.D { return money.MustFromString(s) }

func newTestState() *GameState {
	return New(d("0.100"), d("5.0"), nil)
}

func TestOpenPositionEscrowsBalance(t *testing.T) {
	g := newTestState()
	if err := g.OpenPosition(d("1.000"), d("0.010"), 1); err != nil {
		t.Fatalf("open: %v", err)
	}
	snap := g.Snapshot()
	if !snap.Balance.Equal(d("0.090")) {
		t.Fatalf("expected balance 0.090, got %s", snap.Balance)
	}
	if err := g.OpenPosition(d("1.000"), d("0.010"), 2); err != ErrAlreadyHasPosition {
		t.Fatalf("expected ErrAlreadyHasPosition, got %v", err)
	}
}

func TestPartialSellS3(t *testing.T) {
	g := newTestState()
	if err := g.OpenPosition(d("1.000"), d("0.010"), 1); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := g.SetSellPercentage(d("0.50")); err != nil {
		t.Fatalf("set percentage: %v", err)
	}

	reduced, proceeds, pnlAmount, pnlPercent, err := g.ReducePosition(d("2.000"), d("0.50"))
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if !reduced.Equal(d("0.005")) {
		t.Fatalf("expected reduced amount 0.005, got %s", reduced)
	}
	if !proceeds.Equal(d("0.010")) {
		t.Fatalf("expected proceeds 0.010, got %s", proceeds)
	}
	if !pnlAmount.Equal(d("0.005")) {
		t.Fatalf("expected pnlAmount 0.005, got %s", pnlAmount)
	}
	if !pnlPercent.Equal(d("100")) {
		t.Fatalf("expected pnlPercent 100, got %s", pnlPercent)
	}

	snap := g.Snapshot()
	if !snap.Balance.Equal(d("0.100")) {
		t.Fatalf("expected balance back to 0.100, got %s", snap.Balance)
	}
	if !snap.Position.Amount.Equal(d("0.005")) {
		t.Fatalf("expected remaining position amount 0.005, got %s", snap.Position.Amount)
	}
}

func TestReducePositionRejectsFullPercentage(t *testing.T) {
	g := newTestState()
	_ = g.OpenPosition(d("1.000"), d("0.010"), 1)
	if _, _, _, _, err := g.ReducePosition(d("2.000"), d("1.00")); err != ErrMustUseClose {
		t.Fatalf("expected ErrMustUseClose, got %v", err)
	}
}

func TestReducePositionRejectsUnlistedPercentage(t *testing.T) {
	g := newTestState()
	_ = g.OpenPosition(d("1.000"), d("0.010"), 1)
	if _, _, _, _, err := g.ReducePosition(d("2.000"), d("0.33")); err != ErrInvalidPercentage {
		t.Fatalf("expected ErrInvalidPercentage, got %v", err)
	}
}

func TestSidebetWinS4(t *testing.T) {
	g := newTestState()
	if err := g.PlaceSidebet(d("0.010"), 50, 40); err != nil {
		t.Fatalf("place: %v", err)
	}
	if err := g.PlaceSidebet(d("0.010"), 50, 40); err != ErrSidebetExists {
		t.Fatalf("expected ErrSidebetExists, got %v", err)
	}

	payout, pnlAmount, pnlPercent, err := g.ResolveSidebet(80, true)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !payout.Equal(d("0.050")) {
		t.Fatalf("expected payout 0.050, got %s", payout)
	}
	if !pnlAmount.Equal(d("0.040")) {
		t.Fatalf("expected net pnl 0.040 (4x), got %s", pnlAmount)
	}
	if !pnlPercent.Equal(d("400")) {
		t.Fatalf("expected pnlPercent 400, got %s", pnlPercent)
	}

	snap := g.Snapshot()
	// initial 0.100 - escrow 0.010 + payout 0.050 = 0.140
	if !snap.Balance.Equal(d("0.140")) {
		t.Fatalf("expected balance 0.140, got %s", snap.Balance)
	}
}

func TestSidebetLoss(t *testing.T) {
	g := newTestState()
	_ = g.PlaceSidebet(d("0.010"), 50, 40)
	payout, pnlAmount, pnlPercent, err := g.ResolveSidebet(90, false)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !payout.Equal(money.Zero) {
		t.Fatalf("expected no payout on loss, got %s", payout)
	}
	if !pnlAmount.Equal(d("-0.010")) {
		t.Fatalf("expected pnlAmount -0.010, got %s", pnlAmount)
	}
	if !pnlPercent.Equal(d("-100")) {
		t.Fatalf("expected pnlPercent -100, got %s", pnlPercent)
	}
}

func TestSetSellPercentageRejectsUnlistedValue(t *testing.T) {
	g := newTestState()
	if err := g.SetSellPercentage(d("0.75")); err != ErrInvalidPercentage {
		t.Fatalf("expected ErrInvalidPercentage, got %v", err)
	}
}
