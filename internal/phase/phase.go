// Package phase implements the pure Phase State Machine: deriving a game
// lifecycle label from a single broadcast signal's boolean fields, with no
// I/O and no wall-clock dependency — every input, including timestamps,
// arrives as a field of Fields so the classifier stays deterministic
// and unit-testable.
package phase

// Phase is a game lifecycle label.
type Phase string

const (
	Presale        Phase = "PRESALE"
	ActiveGameplay Phase = "ACTIVE_GAMEPLAY"
	RugEvent1      Phase = "RUG_EVENT_1"
	RugEvent2      Phase = "RUG_EVENT_2"
	Cooldown       Phase = "COOLDOWN"
	Unknown        Phase = "UNKNOWN"
)

// Fields are the broadcast attributes the classifier reads. GameID scopes
// pairing/rug state to the current round; TimestampMs is the receive
// instant the Feed Ingestor stamped on the frame (§4.3 point 1), used to
// evaluate the rug-pair window without calling into wall-clock time here.
type Fields struct {
	GameID            string
	Active            bool
	Rugged            bool
	CooldownTimer     uint32
	Tick              uint64
	AllowPreRoundBuys bool
	TimestampMs       uint64
}

// State threads pairing and transition context between successive calls
// to Classify. Callers hold one State per logical feed (normally one,
// process-wide) and pass the returned value into the next call.
type State struct {
	GameID           string
	Phase            Phase
	RugEvent1AtMs    uint64
	haveRugEvent1    bool
	RugPairWindowMs  uint64
	OrphanedRugPairs uint64
}

// NewState creates initial classifier state with the given rug-pairing
// window (spec §9 open question 1 — exposed as configuration rather than
// a hardcoded constant).
func NewState(rugPairWindowMs uint64) State {
	return State{Phase: Unknown, RugPairWindowMs: rugPairWindowMs}
}

// Result is the classifier's output for a single signal.
type Result struct {
	Phase     Phase
	IsValid   bool
	PrevPhase Phase
}

// allowedTransitions enumerates the unsurprising prev→next phase pairs.
// A transition outside this table still propagates (the dispatcher must
// not stall on it) but is marked invalid, per the §4.2 contract.
var allowedTransitions = map[Phase]map[Phase]bool{
	Unknown:        {Presale: true, ActiveGameplay: true, Cooldown: true, Unknown: true},
	Presale:        {Presale: true, ActiveGameplay: true},
	ActiveGameplay: {ActiveGameplay: true, RugEvent1: true},
	RugEvent1:      {RugEvent2: true, Cooldown: true},
	RugEvent2:      {Cooldown: true, RugEvent2: true},
	Cooldown:       {Cooldown: true, Presale: true, ActiveGameplay: true},
}

// Classify derives the phase for fields given the prior state. It returns
// the classification Result and the State to pass into the next call.
func Classify(f Fields, prev State) (Result, State) {
	next := prev
	if f.GameID != prev.GameID {
		next = State{GameID: f.GameID, Phase: Unknown, RugPairWindowMs: prev.RugPairWindowMs, OrphanedRugPairs: prev.OrphanedRugPairs}
	}

	prevPhase := next.Phase
	var rawPhase Phase
	var classified bool

	switch {
	case !f.Active && !f.Rugged && f.CooldownTimer == 0 && (f.Tick == 0 || f.AllowPreRoundBuys):
		rawPhase, classified = Presale, true

	case f.Rugged:
		if prevPhase != RugEvent1 && prevPhase != RugEvent2 {
			rawPhase = RugEvent1
			next.RugEvent1AtMs = f.TimestampMs
			next.haveRugEvent1 = true
		} else {
			rawPhase = RugEvent2
			if !next.haveRugEvent1 || gapMs(f.TimestampMs, next.RugEvent1AtMs) > next.RugPairWindowMs {
				next.OrphanedRugPairs++
			}
		}
		classified = true

	case f.Active && !f.Rugged:
		rawPhase, classified = ActiveGameplay, true

	case !f.Active && f.CooldownTimer > 0:
		rawPhase, classified = Cooldown, true
		next.haveRugEvent1 = false

	default:
		rawPhase, classified = Unknown, false
	}

	next.Phase = rawPhase

	isValid := classified
	if isValid {
		if allowed, ok := allowedTransitions[prevPhase]; !ok || !allowed[rawPhase] {
			isValid = false
		}
	}

	return Result{Phase: rawPhase, IsValid: isValid, PrevPhase: prevPhase}, next
}

func gapMs(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// Reset clears pairing and lifecycle state, used by the Feed Ingestor's
// reconnect path (§4.3 "On reconnect... clear pairing state").
func (s State) Reset() State {
	return State{RugPairWindowMs: s.RugPairWindowMs, OrphanedRugPairs: s.OrphanedRugPairs}
}
