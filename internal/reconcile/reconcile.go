// Package reconcile implements the Server-Truth Reconciler (§4.9):
// tracking player identity and authoritative server balance/position from
// authenticated upstream messages, and comparing them to locally computed
// GameState within a configured tolerance.
//
// The tolerance-comparison shape follows the teacher's
// internal/engine.MarketEngine.Tick "snap to tick size, floor at one
// tick" idiom — clamp/compare against a bound rather than exact
// equality — adapted here from a rounding rule to a drift-tolerance rule.
package reconcile

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/vectra-player/core/internal/bus"
	"github.com/vectra-player/core/internal/gamestate"
	"github.com/vectra-player/core/internal/money"
	"github.com/vectra-player/core/internal/store"
)

// checkpointTimeout bounds each durable checkpoint save/load so a slow or
// unreachable MongoDB never backs up the bus dispatcher that drives
// OnUsernameStatus/OnPlayerUpdate.
const checkpointTimeout = 5 * time.Second

// ServerState mirrors §3 ServerState: the values authored by the
// upstream server, authoritative for display on disagreement.
type ServerState struct {
	Balance       money.D
	PositionQty   money.D
	AvgCost       money.D
	CumulativePnL money.D
	TotalInvested money.D
	PlayerID      string
	Username      string
	HasIdentity   bool
}

// UsernameStatus mirrors the §6 usernameStatus authenticated payload.
type UsernameStatus struct {
	ID          string
	Username    string
	HasUsername bool
}

// PlayerUpdate mirrors the §6 playerUpdate authenticated payload.
type PlayerUpdate struct {
	Cash          money.D
	CumulativePnL money.D
	PositionQty   money.D
	AvgCost       money.D
	TotalInvested money.D
}

// Drift is published as bus.DriftDetected when server and local state
// disagree beyond tolerance.
type Drift struct {
	Field  string
	Local  money.D
	Server money.D
	Delta  money.D
}

// Tolerances configures how far local and server values may diverge
// before a drift warning is raised.
type Tolerances struct {
	Balance     money.D
	PositionQty money.D
}

// Reconciler holds the shared ServerState and compares it against
// GameState on every authenticated update.
type Reconciler struct {
	mu    sync.Mutex
	state ServerState
	tol   Tolerances

	bus        *bus.Bus
	game       *gamestate.GameState
	checkpoint *store.Checkpoint
}

// New constructs a Reconciler. game may be nil if only identity/server
// tracking is needed (e.g. in tests); drift comparison is skipped then.
// checkpoint may be nil to disable the durable ServerState checkpoint
// (e.g. in tests); when set, the Reconciler loads the last checkpointed
// ServerState for a player on first identity and saves on every
// playerUpdate, so reconciliation survives a restart.
func New(tol Tolerances, game *gamestate.GameState, b *bus.Bus, checkpoint *store.Checkpoint) *Reconciler {
	return &Reconciler{tol: tol, game: game, bus: b, checkpoint: checkpoint}
}

// OnUsernameStatus updates player identity from an authenticated
// usernameStatus message. The first time identity is established for a
// session, it also attempts to restore the last durable checkpoint for
// that player (§4.9/§4 DOMAIN STACK "durable checkpoint of ServerState
// ... so reconciliation survives a restart").
func (r *Reconciler) OnUsernameStatus(u UsernameStatus) {
	r.mu.Lock()
	firstIdentity := !r.state.HasIdentity
	r.state.PlayerID = u.ID
	r.state.HasIdentity = true
	if u.HasUsername {
		r.state.Username = u.Username
	}
	snap := r.state
	r.mu.Unlock()

	if firstIdentity && r.checkpoint != nil {
		go r.restoreCheckpoint(u.ID)
	}

	if r.bus != nil {
		r.bus.Publish(bus.ServerStateUpdated, snap)
	}
}

// restoreCheckpoint loads the last durably checkpointed ServerState for
// playerID and seeds it into the shared state, unless a fresher
// playerUpdate has already arrived in the meantime.
func (r *Reconciler) restoreCheckpoint(playerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), checkpointTimeout)
	defer cancel()

	doc, ok, err := r.checkpoint.LoadServerState(ctx, playerID)
	if err != nil {
		log.Printf("reconcile: load checkpoint for player=%s failed: %v", playerID, err)
		return
	}
	if !ok {
		return
	}

	balance, errB := money.DecimalFromString(doc.Balance)
	positionQty, errP := money.DecimalFromString(doc.PositionQty)
	avgCost, errA := money.DecimalFromString(doc.AvgCost)
	cumulativePnL, errC := money.DecimalFromString(doc.CumulativePnL)
	totalInvested, errT := money.DecimalFromString(doc.TotalInvested)
	if errB != nil || errP != nil || errA != nil || errC != nil || errT != nil {
		log.Printf("reconcile: checkpoint for player=%s has malformed decimal fields, skipping restore", playerID)
		return
	}

	r.mu.Lock()
	restored := r.state.Balance.IsZero() && r.state.PositionQty.IsZero() && r.state.TotalInvested.IsZero()
	if restored {
		r.state.Balance = balance
		r.state.PositionQty = positionQty
		r.state.AvgCost = avgCost
		r.state.CumulativePnL = cumulativePnL
		r.state.TotalInvested = totalInvested
	}
	snap := r.state
	r.mu.Unlock()

	if !restored {
		return
	}
	log.Printf("reconcile: restored server-state checkpoint for player=%s", playerID)
	if r.bus != nil {
		r.bus.Publish(bus.ServerStateUpdated, snap)
	}
}

// OnPlayerUpdate updates server-truth balance/position from an
// authenticated playerUpdate message and compares it against the current
// GameState, raising bus.DriftDetected when any tracked field disagrees
// beyond its configured tolerance. The local view remains authoritative
// for pre-trade validation (§4.9 "to avoid latency-coupled false
// rejects") — this only surfaces a warning, it never mutates GameState.
func (r *Reconciler) OnPlayerUpdate(u PlayerUpdate) []Drift {
	r.mu.Lock()
	r.state.Balance = u.Cash
	r.state.PositionQty = u.PositionQty
	r.state.AvgCost = u.AvgCost
	r.state.CumulativePnL = u.CumulativePnL
	r.state.TotalInvested = u.TotalInvested
	playerID := r.state.PlayerID
	snap := r.state
	r.mu.Unlock()

	if r.checkpoint != nil && playerID != "" {
		go r.saveCheckpoint(playerID, snap)
	}

	if r.bus != nil {
		r.bus.Publish(bus.ServerStateUpdated, snap)
	}

	drifts := r.compare(snap)
	if len(drifts) > 0 && r.bus != nil {
		for _, d := range drifts {
			r.bus.Publish(bus.DriftDetected, d)
		}
	}
	return drifts
}

// saveCheckpoint durably persists snap for playerID so a restart can
// restore it via restoreCheckpoint.
func (r *Reconciler) saveCheckpoint(playerID string, snap ServerState) {
	ctx, cancel := context.WithTimeout(context.Background(), checkpointTimeout)
	defer cancel()

	doc := store.ServerStateDoc{
		PlayerID:      playerID,
		Username:      snap.Username,
		Balance:       store.MoneyToString(snap.Balance),
		PositionQty:   store.MoneyToString(snap.PositionQty),
		AvgCost:       store.MoneyToString(snap.AvgCost),
		CumulativePnL: store.MoneyToString(snap.CumulativePnL),
		TotalInvested: store.MoneyToString(snap.TotalInvested),
	}
	if err := r.checkpoint.SaveServerState(ctx, doc); err != nil {
		log.Printf("reconcile: save checkpoint for player=%s failed: %v", playerID, err)
	}
}

func (r *Reconciler) compare(server ServerState) []Drift {
	if r.game == nil {
		return nil
	}
	local := r.game.Snapshot()

	var drifts []Drift
	if delta := absDiff(local.Balance, server.Balance); delta.GreaterThan(r.tol.Balance) {
		drifts = append(drifts, Drift{Field: "balance", Local: local.Balance, Server: server.Balance, Delta: delta})
	}

	localPosQty := money.Zero
	if local.Position.Open {
		localPosQty = local.Position.Amount
	}
	if delta := absDiff(localPosQty, server.PositionQty); delta.GreaterThan(r.tol.PositionQty) {
		drifts = append(drifts, Drift{Field: "position_qty", Local: localPosQty, Server: server.PositionQty, Delta: delta})
	}

	return drifts
}

// State returns a snapshot of the shared ServerState.
func (r *Reconciler) State() ServerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func absDiff(a, b money.D) money.D {
	d := a.Sub(b)
	if d.IsNegative() {
		return d.Neg()
	}
	return d
}
