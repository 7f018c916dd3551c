package reasoning

import "fmt"

// State is one of the eight canonical workspace states. The order below is
// total; automated transitions only ever move forward through it.
type State string

const (
	StateReceived           State = "RECEIVED"
	StateFactsExtracted     State = "FACTS_EXTRACTED"
	StateContextIdentified  State = "CONTEXT_IDENTIFIED"
	StateObligationsDeduced State = "OBLIGATIONS_DEDUCED"
	StateMissingIdentified  State = "MISSING_IDENTIFIED"
	StateRiskEvaluated      State = "RISK_EVALUATED"
	StateActionProposed     State = "ACTION_PROPOSED"
	StateReadyForHuman      State = "READY_FOR_HUMAN"
)

// StateOrder is the canonical progression, first to last.
var StateOrder = []State{
	StateReceived,
	StateFactsExtracted,
	StateContextIdentified,
	StateObligationsDeduced,
	StateMissingIdentified,
	StateRiskEvaluated,
	StateActionProposed,
	StateReadyForHuman,
}

var stateRank = func() map[State]int {
	m := make(map[State]int, len(StateOrder))
	for i, s := range StateOrder {
		m[s] = i
	}
	return m
}()

// Rank returns the position of s in the canonical order, or -1 if unknown.
func (s State) Rank() int {
	r, ok := stateRank[s]
	if !ok {
		return -1
	}
	return r
}

// Valid reports whether s is one of the canonical states.
func (s State) Valid() bool { return s.Rank() >= 0 }

// Terminal reports whether s is the terminal state.
func (s State) Terminal() bool { return s == StateReadyForHuman }

// Next returns the state immediately after s in the canonical order.
func (s State) Next() (State, bool) {
	r := s.Rank()
	if r < 0 || r+1 >= len(StateOrder) {
		return "", false
	}
	return StateOrder[r+1], true
}

// Guard is a named predicate that must hold before a transition commits. It
// is evaluated against the workspace and the ledger as it would look after
// the inference proposal is applied.
type Guard struct {
	Name  string
	Check func(ws *Workspace, led *Ledger) (bool, string)
}

// guards maps each from-state to the guard protecting the transition to its
// successor. READY_FOR_HUMAN has no entry; it is exited only by Validate.
var guards = map[State]Guard{
	StateReceived: {
		Name: "facts_extracted",
		Check: func(ws *Workspace, led *Ledger) (bool, string) {
			if len(led.Facts) == 0 {
				return false, "no facts extracted"
			}
			return true, ""
		},
	},
	StateFactsExtracted: {
		Name: "context_identified",
		Check: func(ws *Workspace, led *Ledger) (bool, string) {
			if len(led.Contexts) == 0 {
				return false, "no context hypothesis created"
			}
			return true, ""
		},
	},
	StateContextIdentified: {
		Name: "obligations_deduced",
		Check: func(ws *Workspace, led *Ledger) (bool, string) {
			if len(led.Obligations) == 0 && !ws.NoObligations {
				return false, "no obligation deduced and no explicit no-obligations marker"
			}
			return true, ""
		},
	},
	StateObligationsDeduced: {
		Name: "gap_analysis_completed",
		Check: func(ws *Workspace, led *Ledger) (bool, string) {
			// Zero missing elements is a valid outcome; the analysis
			// itself must have run.
			if !ws.GapAnalysisDone {
				return false, "gap analysis not completed"
			}
			return true, ""
		},
	},
	StateMissingIdentified: {
		Name: "blocking_gaps_resolved",
		Check: func(ws *Workspace, led *Ledger) (bool, string) {
			if n := led.BlockingUnresolved(); n > 0 {
				return false, fmt.Sprintf("%d blocking missing element(s) unresolved", n)
			}
			return true, ""
		},
	},
	StateRiskEvaluated: {
		Name: "risks_evaluated",
		Check: func(ws *Workspace, led *Ledger) (bool, string) {
			if len(led.Risks) == 0 && !ws.NoRisk {
				return false, "no risk evaluated and no explicit no-risk marker"
			}
			return true, ""
		},
	},
	StateActionProposed: {
		Name: "actions_proposed",
		Check: func(ws *Workspace, led *Ledger) (bool, string) {
			if len(led.Actions) == 0 && !ws.NoActionNeeded {
				return false, "no action proposed and no explicit no-action marker"
			}
			// Inference may surface new blocking gaps after the gap
			// analysis state; the terminal handoff re-checks the gate so a
			// workspace never reaches READY_FOR_HUMAN with one open.
			if n := led.BlockingUnresolved(); n > 0 {
				return false, fmt.Sprintf("%d blocking missing element(s) unresolved", n)
			}
			return true, ""
		},
	},
}

// NextTransition returns the target state and guard for the single permitted
// forward transition out of from. ok is false at the terminal state.
func NextTransition(from State) (to State, g Guard, ok bool) {
	g, ok = guards[from]
	if !ok {
		return "", Guard{}, false
	}
	to, _ = from.Next()
	return to, g, true
}

// AllowedTransition reports whether from -> to is sanctioned: either the
// single forward step or the fast-path MISSING_IDENTIFIED -> READY_FOR_HUMAN
// taken when the last blocking gap clears. Direct writes performing any other
// jump are protocol violations.
func AllowedTransition(from, to State) bool {
	if next, ok := from.Next(); ok && next == to {
		return true
	}
	return from == StateMissingIdentified && to == StateReadyForHuman
}
