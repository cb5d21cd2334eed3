// Package trade implements the Trade Manager (§4.5): a stateless
// orchestrator that validates a requested action against the current
// phase and GameState, drives the execution bridge first so the UI and
// backend observe trades in a deterministic order, then mutates GameState
// and publishes the corresponding typed bus event.
package trade

import (
	"errors"
	"fmt"

	"github.com/vectra-player/core/internal/bridge"
	"github.com/vectra-player/core/internal/bus"
	"github.com/vectra-player/core/internal/config"
	"github.com/vectra-player/core/internal/gamestate"
	"github.com/vectra-player/core/internal/money"
	"github.com/vectra-player/core/internal/phase"
)

var (
	ErrBlockedPhase  = errors.New("trade: phase blocks trading")
	ErrAmountTooLow  = errors.New("trade: amount below minimum bet")
	ErrAmountTooHigh = errors.New("trade: amount exceeds maximum bet")
)

// Result is returned by every Manager method on success, matching the
// §4.5 response shape.
type Result struct {
	Success         bool
	Price           money.D
	Partial         bool
	Percentage      money.D
	RemainingAmount money.D
	PnLAmount       money.D
	PnLPercent      money.D
}

// Signal is the subset of the current GameSignal the Trade Manager needs
// to validate an action.
type Signal struct {
	Phase       phase.Phase
	CurrentTick uint64
	Price       money.D
}

// Manager is the stateless trade orchestrator.
type Manager struct {
	state  *gamestate.GameState
	bus    *bus.Bus
	bridge bridge.Bridge
	minBet money.D
	maxBet money.D
}

// New constructs a Manager. bridge may be a no-op implementation
// (internal/bridge.NoOp) when no external execution surface is attached.
func New(state *gamestate.GameState, b *bus.Bus, br bridge.Bridge, cfg *config.Config) *Manager {
	return &Manager{state: state, bus: b, bridge: br, minBet: cfg.MinBet, maxBet: cfg.MaxBet}
}

func (m *Manager) checkPhaseAndAmount(sig Signal, amount money.D) error {
	if config.IsBlockedPhase(string(sig.Phase)) {
		return fmt.Errorf("%w: %s", ErrBlockedPhase, sig.Phase)
	}
	if amount.LessThan(m.minBet) {
		return fmt.Errorf("%w: %s < %s", ErrAmountTooLow, amount, m.minBet)
	}
	if amount.GreaterThan(m.maxBet) {
		return fmt.Errorf("%w: %s > %s", ErrAmountTooHigh, amount, m.maxBet)
	}
	return nil
}

// ExecuteBuy validates and opens a position of the given amount at the
// signal's current price.
func (m *Manager) ExecuteBuy(sig Signal, amount money.D) (Result, error) {
	if err := m.checkPhaseAndAmount(sig, amount); err != nil {
		return Result{}, err
	}

	if m.bridge != nil {
		if err := m.bridge.ClickBuy(amount); err != nil {
			return Result{}, fmt.Errorf("trade: bridge click_buy: %w", err)
		}
	}

	if err := m.state.OpenPosition(sig.Price, amount, sig.CurrentTick); err != nil {
		return Result{}, err
	}

	res := Result{Success: true, Price: sig.Price}
	if m.bus != nil {
		m.bus.Publish(bus.TradeBuy, res)
	}
	return res, nil
}

// ExecuteSell sells according to GameState.sell_percentage: fully closes
// at 1.0, otherwise partially reduces the position.
func (m *Manager) ExecuteSell(sig Signal) (Result, error) {
	if config.IsBlockedPhase(string(sig.Phase)) {
		return Result{}, fmt.Errorf("%w: %s", ErrBlockedPhase, sig.Phase)
	}

	pct := m.state.Snapshot().SellPercentage
	full := pct.Equal(money.MustFromString("1.00"))

	if m.bridge != nil {
		if err := m.bridge.ClickSell(pct); err != nil {
			return Result{}, fmt.Errorf("trade: bridge click_sell: %w", err)
		}
	}

	var res Result
	if full {
		proceeds, pnlAmount, pnlPercent, err := m.state.ClosePosition(sig.Price, sig.CurrentTick)
		if err != nil {
			return Result{}, err
		}
		res = Result{Success: true, Price: sig.Price, RemainingAmount: money.Zero, PnLAmount: pnlAmount, PnLPercent: pnlPercent}
		_ = proceeds
	} else {
		_, _, pnlAmount, pnlPercent, err := m.state.ReducePosition(sig.Price, pct)
		if err != nil {
			return Result{}, err
		}
		remaining := m.state.Snapshot().Position.Amount
		res = Result{Success: true, Price: sig.Price, Partial: true, Percentage: pct, RemainingAmount: remaining, PnLAmount: pnlAmount, PnLPercent: pnlPercent}
	}

	if m.bus != nil {
		m.bus.Publish(bus.TradeSell, res)
	}
	return res, nil
}

// ExecuteSidebet validates and places a sidebet of the given amount.
func (m *Manager) ExecuteSidebet(sig Signal, amount money.D, targetTicks uint32) (Result, error) {
	if err := m.checkPhaseAndAmount(sig, amount); err != nil {
		return Result{}, err
	}

	if m.bridge != nil {
		if err := m.bridge.ClickSidebet(amount); err != nil {
			return Result{}, fmt.Errorf("trade: bridge click_sidebet: %w", err)
		}
	}

	if err := m.state.PlaceSidebet(amount, sig.CurrentTick, targetTicks); err != nil {
		return Result{}, err
	}

	res := Result{Success: true, Price: sig.Price}
	if m.bus != nil {
		m.bus.Publish(bus.TradeSidebet, res)
	}
	return res, nil
}
