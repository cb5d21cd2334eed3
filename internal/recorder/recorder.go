// Package recorder implements the Recording State Machine (§4.6):
// IDLE -> MONITORING -> RECORDING -> FINISHING_GAME, gated by game
// lifecycle events and the Data-Integrity Monitor's triggered state.
//
// Grounded on the teacher's internal/session state handling
// (session/manager.go's explicit state transitions driven by inbound
// events) generalized from a connection lifecycle to a recording
// lifecycle.
package recorder

import (
	"sync"

	"github.com/vectra-player/core/internal/integrity"
)

// State is one of the four Recorder states.
type State string

const (
	Idle           State = "IDLE"
	Monitoring     State = "MONITORING"
	Recording      State = "RECORDING"
	FinishingGame  State = "FINISHING_GAME"
)

// Callbacks notify the host of completed-game and session-completion
// events so the Event Store can be told to seal or discard a game file.
type Callbacks struct {
	// OnGameRecorded fires when a game completes cleanly and should be
	// persisted; gamesRecorded is the new cumulative count.
	OnGameRecorded func(gamesRecorded int)
	// OnGameDiscarded fires when RECORDING is abandoned due to an
	// integrity issue; the in-flight game file must not be sealed.
	OnGameDiscarded func()
	// OnSessionComplete fires when the session ends, either by explicit
	// stop or by reaching the configured game limit.
	OnSessionComplete func(gamesRecorded int)
}

// Recorder implements the §4.6 state machine. It holds no event-store
// or bus reference directly; the host wires Callbacks to those.
type Recorder struct {
	mu sync.Mutex

	state         State
	gamesRecorded int
	gameLimit     int // 0 means unlimited

	cb Callbacks
}

// New constructs a Recorder in the IDLE state. gameLimit of 0 means no
// limit (session runs until explicitly stopped).
func New(gameLimit int, cb Callbacks) *Recorder {
	return &Recorder{state: Idle, gameLimit: gameLimit, cb: cb}
}

// State returns the current state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// GamesRecorded returns the cumulative count of cleanly recorded games
// in the current session.
func (r *Recorder) GamesRecorded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gamesRecorded
}

// StartSession transitions IDLE -> MONITORING. No-op from any other state.
func (r *Recorder) StartSession() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Idle {
		return
	}
	r.gamesRecorded = 0
	r.state = Monitoring
}

// GameStart transitions MONITORING -> RECORDING. No-op from any other state.
func (r *Recorder) GameStart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Monitoring {
		return
	}
	r.state = Recording
}

// GameEnd transitions RECORDING -> MONITORING (incrementing games_recorded)
// or FINISHING_GAME -> IDLE (ending the session). It is a no-op from MONITORING
// or IDLE.
func (r *Recorder) GameEnd() {
	r.mu.Lock()
	switch r.state {
	case Recording:
		r.gamesRecorded++
		count := r.gamesRecorded
		r.state = Monitoring
		limitReached := r.gameLimit > 0 && count >= r.gameLimit
		var onRecorded func(int)
		var onComplete func(int)
		if r.cb.OnGameRecorded != nil {
			onRecorded = r.cb.OnGameRecorded
		}
		if limitReached {
			r.state = Idle
			if r.cb.OnSessionComplete != nil {
				onComplete = r.cb.OnSessionComplete
			}
		}
		r.mu.Unlock()
		if onRecorded != nil {
			onRecorded(count)
		}
		if onComplete != nil {
			onComplete(count)
		}
		return
	case FinishingGame:
		count := r.gamesRecorded
		r.state = Idle
		var onComplete func(int)
		if r.cb.OnSessionComplete != nil {
			onComplete = r.cb.OnSessionComplete
		}
		r.mu.Unlock()
		if onComplete != nil {
			onComplete(count)
		}
		return
	default:
		r.mu.Unlock()
		return
	}
}

// DataIntegrityIssue transitions RECORDING -> MONITORING without
// incrementing games_recorded, discarding the in-flight game. No-op from
// any other state.
func (r *Recorder) DataIntegrityIssue() {
	r.mu.Lock()
	if r.state != Recording {
		r.mu.Unlock()
		return
	}
	r.state = Monitoring
	var onDiscarded func()
	if r.cb.OnGameDiscarded != nil {
		onDiscarded = r.cb.OnGameDiscarded
	}
	r.mu.Unlock()
	if onDiscarded != nil {
		onDiscarded()
	}
}

// StopSession transitions to FINISHING_GAME if currently RECORDING (the
// in-flight game is allowed to complete first), else directly to IDLE.
func (r *Recorder) StopSession() {
	r.mu.Lock()
	if r.state == Recording {
		r.state = FinishingGame
		r.mu.Unlock()
		return
	}
	count := r.gamesRecorded
	r.state = Idle
	var onComplete func(int)
	if r.cb.OnSessionComplete != nil {
		onComplete = r.cb.OnSessionComplete
	}
	r.mu.Unlock()
	if onComplete != nil {
		onComplete(count)
	}
}

// IntegrityGate wires an integrity.Monitor's trigger callback directly to
// DataIntegrityIssue, matching §4.7's "while triggered, the Recorder must
// discard the current game" contract. OnRecovery is left unset.
func IntegrityGate(r *Recorder) integrity.Callbacks {
	return integrity.Callbacks{
		OnThresholdExceeded: func(kind integrity.TriggerKind, details string) {
			r.DataIntegrityIssue()
		},
	}
}
