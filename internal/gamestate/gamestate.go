// Package gamestate implements the thread-safe Game State container
// (§4.4): balance, position, sidebet, current tick/price, all serialized
// by a single (non-reentrant) sync.Mutex so mutator order is causally
// consistent with the events GameState emits on the bus.
//
// Grounded in shape on the teacher's mutex-guarded, snapshot-by-value
// components (internal/orderbook.Book, internal/engine.MarketEngine);
// the exact mutator numbers (partial-sell fractions, sidebet multiple)
// are pinned by _examples/original_source/src/tests/test_core/test_partial_sell.py
// and src/config.py.
package gamestate

import (
	"errors"
	"sync"

	"github.com/vectra-player/core/internal/bus"
	"github.com/vectra-player/core/internal/money"
	"github.com/vectra-player/core/internal/phase"
)

var (
	ErrAlreadyHasPosition = errors.New("gamestate: position already open")
	ErrNoOpenPosition     = errors.New("gamestate: no open position")
	ErrInvalidPercentage  = errors.New("gamestate: percentage not in the allowed set")
	ErrMustUseClose       = errors.New("gamestate: percentage 1.0 must use ClosePosition")
	ErrSidebetExists      = errors.New("gamestate: unresolved sidebet already exists")
	ErrNoSidebet          = errors.New("gamestate: no unresolved sidebet")
	ErrInsufficientFunds  = errors.New("gamestate: insufficient balance")
)

// Position mirrors the §3 Position entity.
type Position struct {
	EntryPrice money.D
	Amount     money.D
	EntryTick  uint64
	Open       bool
}

// Sidebet mirrors the §3 Sidebet entity.
type Sidebet struct {
	Amount      money.D
	StartTick   uint64
	TargetTicks uint32
	Resolved    bool
	Won         bool
}

// Snapshot is an immutable, read-only copy of GameState, safe to hand to
// readers without holding the lock.
type Snapshot struct {
	Balance        money.D
	CurrentTick    uint64
	CurrentPrice   money.D
	Phase          phase.Phase
	Position       Position
	HasSidebet     bool
	Sidebet        Sidebet
	SellPercentage money.D
}

// Patch is a partial mutation applied by Update.
type Patch struct {
	Tick  *uint64
	Price *money.D
	Phase *phase.Phase
}

// GameState is the process-wide, single mutable instance.
type GameState struct {
	mu sync.Mutex

	balance        money.D
	currentTick    uint64
	currentPrice   money.D
	currentPhase   phase.Phase
	position       Position
	sidebet        *Sidebet
	sellPercentage money.D

	sidebetMultiplier money.D
	bus               *bus.Bus
}

// New constructs GameState with the given starting balance and sidebet
// gross payout multiplier (5x per original_source/src/config.py).
func New(initialBalance money.D, sidebetMultiplier money.D, b *bus.Bus) *GameState {
	return &GameState{
		balance:           initialBalance,
		sellPercentage:    money.MustFromString("1.00"),
		sidebetMultiplier: sidebetMultiplier,
		bus:               b,
	}
}

// Update applies a partial mutation, emitting TICK_UPDATED and/or
// PHASE_CHANGED as appropriate.
func (g *GameState) Update(p Patch) {
	g.mu.Lock()
	var tickChanged, phaseChanged bool
	if p.Tick != nil && *p.Tick != g.currentTick {
		g.currentTick = *p.Tick
		tickChanged = true
	}
	if p.Price != nil {
		g.currentPrice = *p.Price
		tickChanged = true
	}
	if p.Phase != nil && *p.Phase != g.currentPhase {
		g.currentPhase = *p.Phase
		phaseChanged = true
	}
	snap := g.snapshotLocked()
	g.mu.Unlock()

	if tickChanged && g.bus != nil {
		g.bus.Publish(bus.TickUpdated, snap)
	}
	if phaseChanged && g.bus != nil {
		g.bus.Publish(bus.PhaseChanged, snap)
	}
}

// OpenPosition opens a new position, escrowing amount from the balance.
func (g *GameState) OpenPosition(entryPrice, amount money.D, entryTick uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.position.Open {
		return ErrAlreadyHasPosition
	}
	if amount.GreaterThan(g.balance) {
		return ErrInsufficientFunds
	}
	g.balance = g.balance.Sub(amount)
	g.position = Position{EntryPrice: entryPrice, Amount: amount, EntryTick: entryTick, Open: true}

	if g.bus != nil {
		g.bus.Publish(bus.PositionOpened, g.snapshotLocked())
	}
	return nil
}

// ReducePosition proportionally closes percent of the open position at
// exitPrice, crediting proceeds to the balance. percent must be one of
// {0.10, 0.25, 0.50}; 1.0 must go through ClosePosition.
//
// Returns the reduced (sold) amount, the proceeds credited, and the
// realized P&L of the reduced portion: pnlAmount = proceeds - reduced,
// pnlPercent = (exitPrice/entryPrice - 1) * 100. This is the cost-basis
// formula Property 5 pins; it is what S3's stated balance transition
// (0.100 - 0.010 + 0.010 = 0.100) already implies.
func (g *GameState) ReducePosition(exitPrice, percent money.D) (reduced, proceeds, pnlAmount, pnlPercent money.D, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.position.Open {
		return money.Zero, money.Zero, money.Zero, money.Zero, ErrNoOpenPosition
	}
	if percent.Equal(money.MustFromString("1.00")) {
		return money.Zero, money.Zero, money.Zero, money.Zero, ErrMustUseClose
	}
	if !isAllowedPartialPercentage(percent) {
		return money.Zero, money.Zero, money.Zero, money.Zero, ErrInvalidPercentage
	}

	reduced = g.position.Amount.Mul(percent)
	ratio := exitPrice.Div(g.position.EntryPrice)
	proceeds = reduced.Mul(ratio)
	pnlAmount = proceeds.Sub(reduced)
	pnlPercent = ratio.Sub(money.MustFromString("1")).Mul(money.MustFromString("100"))

	g.position.Amount = g.position.Amount.Sub(reduced)
	g.balance = g.balance.Add(proceeds)

	if g.bus != nil {
		g.bus.Publish(bus.PositionReduced, g.snapshotLocked())
	}
	return reduced, proceeds, pnlAmount, pnlPercent, nil
}

// ClosePosition closes the remainder of the open position at exitPrice.
func (g *GameState) ClosePosition(exitPrice money.D, exitTick uint64) (proceeds, pnlAmount, pnlPercent money.D, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.position.Open {
		return money.Zero, money.Zero, money.Zero, ErrNoOpenPosition
	}

	remaining := g.position.Amount
	ratio := exitPrice.Div(g.position.EntryPrice)
	proceeds = remaining.Mul(ratio)
	pnlAmount = proceeds.Sub(remaining)
	pnlPercent = ratio.Sub(money.MustFromString("1")).Mul(money.MustFromString("100"))

	g.balance = g.balance.Add(proceeds)
	g.position = Position{}

	if g.bus != nil {
		g.bus.Publish(bus.PositionClosed, g.snapshotLocked())
	}
	return proceeds, pnlAmount, pnlPercent, nil
}

// Liquidate closes the position with zero proceeds and reports the amount
// lost. No component in this module calls it; it is not tied to the
// configured rug-liquidation price.
func (g *GameState) Liquidate(exitTick uint64) (lostAmount money.D, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.position.Open {
		return money.Zero, ErrNoOpenPosition
	}
	lostAmount = g.position.Amount
	g.position = Position{}

	if g.bus != nil {
		g.bus.Publish(bus.PositionClosed, g.snapshotLocked())
	}
	return lostAmount, nil
}

// PlaceSidebet escrows amount and opens a new unresolved sidebet.
func (g *GameState) PlaceSidebet(amount money.D, startTick uint64, targetTicks uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sidebet != nil && !g.sidebet.Resolved {
		return ErrSidebetExists
	}
	if amount.GreaterThan(g.balance) {
		return ErrInsufficientFunds
	}
	g.balance = g.balance.Sub(amount)
	g.sidebet = &Sidebet{Amount: amount, StartTick: startTick, TargetTicks: targetTicks}

	if g.bus != nil {
		g.bus.Publish(bus.SidebetPlaced, g.snapshotLocked())
	}
	return nil
}

// ResolveSidebet resolves the outstanding sidebet. On a win the gross
// payout (sidebetMultiplier × amount, 5x by default) is credited to the
// balance; pnlAmount/pnlPercent report the *net* result (4x / 400%) since
// the stake was already escrowed at placement. On a loss nothing is
// credited; pnlAmount == -amount, pnlPercent == -100.
func (g *GameState) ResolveSidebet(resolveTick uint64, won bool) (payout, pnlAmount, pnlPercent money.D, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sidebet == nil || g.sidebet.Resolved {
		return money.Zero, money.Zero, money.Zero, ErrNoSidebet
	}

	amount := g.sidebet.Amount
	g.sidebet.Resolved = true
	g.sidebet.Won = won

	one := money.MustFromString("1")
	hundred := money.MustFromString("100")
	netMultiplier := g.sidebetMultiplier.Sub(one)

	if won {
		payout = amount.Mul(g.sidebetMultiplier)
		g.balance = g.balance.Add(payout)
		pnlAmount = amount.Mul(netMultiplier)
		pnlPercent = netMultiplier.Mul(hundred)
	} else {
		payout = money.Zero
		pnlAmount = amount.Neg()
		pnlPercent = hundred.Neg()
	}

	if g.bus != nil {
		g.bus.Publish(bus.SidebetResolved, g.snapshotLocked())
	}
	return payout, pnlAmount, pnlPercent, nil
}

// SetSellPercentage validates pct against the fixed allowed set and
// emits SELL_PERCENTAGE_CHANGED with the before/after payload shape
// pinned by test_partial_sell.py.
func (g *GameState) SetSellPercentage(pct money.D) error {
	if !isAllowedSellPercentage(pct) {
		return ErrInvalidPercentage
	}

	g.mu.Lock()
	old := g.sellPercentage
	g.sellPercentage = pct
	g.mu.Unlock()

	if g.bus != nil {
		g.bus.Publish(bus.SellPercentageChanged, map[string]money.D{"old": old, "new": pct})
	}
	return nil
}

// Snapshot returns an immutable, point-in-time copy of GameState.
func (g *GameState) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

func (g *GameState) snapshotLocked() Snapshot {
	s := Snapshot{
		Balance:        g.balance,
		CurrentTick:    g.currentTick,
		CurrentPrice:   g.currentPrice,
		Phase:          g.currentPhase,
		Position:       g.position,
		SellPercentage: g.sellPercentage,
	}
	if g.sidebet != nil {
		s.HasSidebet = true
		s.Sidebet = *g.sidebet
	}
	return s
}

var allowedPartialPercentages = []string{"0.10", "0.25", "0.50"}
var allowedSellPercentages = []string{"0.10", "0.25", "0.50", "1.00"}

func isAllowedPartialPercentage(pct money.D) bool {
	for _, s := range allowedPartialPercentages {
		if pct.Equal(money.MustFromString(s)) {
			return true
		}
	}
	return false
}

func isAllowedSellPercentage(pct money.D) bool {
	for _, s := range allowedSellPercentages {
		if pct.Equal(money.MustFromString(s)) {
			return true
		}
	}
	return false
}
