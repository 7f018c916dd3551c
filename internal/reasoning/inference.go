package reasoning

import "context"

// StepInput is everything the inference collaborator sees for one step: the
// workspace, its current ledger and the transition being attempted.
type StepInput struct {
	Workspace Workspace `json:"workspace"`
	Ledger    Ledger    `json:"ledger"`
	Target    State     `json:"target"`
}

// Proposal is the inference output for one step: new ledger entries plus the
// explicit markers the guards accept in place of entries. IDs and timestamps
// are assigned by the executor; the provider only supplies content.
type Proposal struct {
	Facts       []Fact              `json:"facts,omitempty"`
	Contexts    []ContextHypothesis `json:"contexts,omitempty"`
	Obligations []Obligation        `json:"obligations,omitempty"`
	Missing     []MissingElement    `json:"missing,omitempty"`
	Risks       []Risk              `json:"risks,omitempty"`
	Actions     []ProposedAction    `json:"actions,omitempty"`

	NoObligations   bool `json:"no_obligations,omitempty"`
	GapAnalysisDone bool `json:"gap_analysis_done,omitempty"`
	NoRisk          bool `json:"no_risk,omitempty"`
	NoActionNeeded  bool `json:"no_action_needed,omitempty"`

	Uncertainty float64 `json:"uncertainty"`
	Quality     float64 `json:"quality"`
	Explanation string  `json:"explanation"`
}

// Size returns the number of proposed ledger entries.
func (p Proposal) Size() int {
	return len(p.Facts) + len(p.Contexts) + len(p.Obligations) + len(p.Missing) + len(p.Risks) + len(p.Actions)
}

// Provider is the pluggable inference collaborator. Implementations must
// honour ctx cancellation; the executor bounds every call with a timeout and
// treats failures as guard failures, never as fatal errors.
type Provider interface {
	ProposeStep(ctx context.Context, in StepInput) (Proposal, error)
}
