package reasoning

import "time"

// TriggeredBySystem marks transitions initiated by the engine itself rather
// than a user, e.g. the fast-path taken when the last blocking gap clears.
const TriggeredBySystem = "SYSTEM"

// Certainty levels for a ContextHypothesis.
const (
	CertaintyHypothesis = "HYPOTHESIS"
	CertaintyLikely     = "LIKELY"
	CertaintyConfirmed  = "CONFIRMED"
)

// Actor identifies who is performing an operation. Every core operation takes
// an explicit Actor; there is no ambient session state. TenantID is the
// isolation boundary and is never crossed.
type Actor struct {
	TenantID string `json:"tenant_id"`
	ActorID  string `json:"actor_id"`
}

// Workspace is the root aggregate tracking one case through the state machine.
type Workspace struct {
	ID               string     `json:"id"`
	TenantID         string     `json:"tenant_id"`
	Title            string     `json:"title"`
	CurrentState     State      `json:"current_state"`
	UncertaintyLevel float64    `json:"uncertainty_level"`
	ReasoningQuality float64    `json:"reasoning_quality"`
	Locked           bool       `json:"locked"`
	NoObligations    bool       `json:"no_obligations"`
	GapAnalysisDone  bool       `json:"gap_analysis_done"`
	NoRisk           bool       `json:"no_risk"`
	NoActionNeeded   bool       `json:"no_action_needed"`
	Version          int64      `json:"version"`
	StateChangedAt   time.Time  `json:"state_changed_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	ValidatedBy      string     `json:"validated_by,omitempty"`
	ValidatedAt      *time.Time `json:"validated_at,omitempty"`
	ValidationNote   string     `json:"validation_note,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}

// Fact is an atomic extracted statement. Facts are never edited; a new fact
// supersedes an old one by referencing it.
type Fact struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Text        string    `json:"text"`
	Confidence  float64   `json:"confidence"`
	SourceRef   string    `json:"source_ref,omitempty"`
	Supersedes  string    `json:"supersedes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ContextHypothesis is a candidate framing for the case. Unlike the rest of
// the ledger it is mutable: confirm raises certainty, reject deletes the row
// (the trace keeps the deleted content).
type ContextHypothesis struct {
	ID             string    `json:"id"`
	WorkspaceID    string    `json:"workspace_id"`
	Description    string    `json:"description"`
	CertaintyLevel string    `json:"certainty_level"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Obligation is a deduced requirement. Never deleted.
type Obligation struct {
	ID                string     `json:"id"`
	WorkspaceID       string     `json:"workspace_id"`
	Description       string     `json:"description"`
	Deadline          *time.Time `json:"deadline,omitempty"`
	DependsOnFacts    []string   `json:"depends_on_facts,omitempty"`
	DependsOnContexts []string   `json:"depends_on_contexts,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// MissingElement is an information gap. A blocking, unresolved element keeps
// the workspace from ever becoming human-ready.
type MissingElement struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	Kind        string     `json:"kind"`
	Description string     `json:"description"`
	Blocking    bool       `json:"blocking"`
	Resolved    bool       `json:"resolved"`
	ResolvedBy  string     `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	Resolution  string     `json:"resolution,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Risk carries a score used for ordering only; it never gates a transition.
type Risk struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Description string    `json:"description"`
	RiskScore   float64   `json:"risk_score"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProposedAction is a suggested next step. Executing one appends a trace but
// does not move the state machine.
type ProposedAction struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	Content     string     `json:"content"`
	Kind        string     `json:"kind"`
	Executed    bool       `json:"executed"`
	ExecutedBy  string     `json:"executed_by,omitempty"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
	Result      string     `json:"result,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ReasoningTrace is one immutable entry of the audit backbone. Entries are
// hash-chained per workspace: EntryHash covers PrevHash and the entry body.
type ReasoningTrace struct {
	ID          string        `json:"id"`
	WorkspaceID string        `json:"workspace_id"`
	Step        string        `json:"step"`
	Explanation string        `json:"explanation"`
	Metadata    TraceMetadata `json:"metadata"`
	CreatedBy   string        `json:"created_by"`
	PrevHash    string        `json:"prev_hash"`
	EntryHash   string        `json:"entry_hash"`
	CreatedAt   time.Time     `json:"created_at"`
}

// ReasoningTransition records one from->to move, system- or user-triggered.
type ReasoningTransition struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	FromState   State     `json:"from_state"`
	ToState     State     `json:"to_state"`
	TriggeredBy string    `json:"triggered_by"`
	Reason      string    `json:"reason"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// Trace step labels.
const (
	StepIntake             = "WORKSPACE_CREATED"
	StepTransition         = "STATE_TRANSITION"
	StepGuardFailed        = "GUARD_FAILED"
	StepInferenceTimeout   = "INFERENCE_TIMEOUT"
	StepMissingResolved    = "MISSING_RESOLVED"
	StepFastPath           = "FAST_PATH_TRANSITION"
	StepContextConfirmed   = "CONTEXT_CONFIRMED"
	StepContextRejected    = "CONTEXT_REJECTED"
	StepActionExecuted     = "ACTION_EXECUTED"
	StepWorkspaceValidated = "WORKSPACE_VALIDATED"
)

// TraceMetadata is a tagged union: Kind names the populated arm. It replaces
// the loose JSON blob the trace would otherwise carry.
type TraceMetadata struct {
	Kind       string          `json:"kind"`
	Step       *StepMeta       `json:"step,omitempty"`
	Resolution *ResolutionMeta `json:"resolution,omitempty"`
	Context    *ContextMeta    `json:"context,omitempty"`
	Action     *ActionMeta     `json:"action,omitempty"`
	Validation *ValidationMeta `json:"validation,omitempty"`
}

// Metadata kinds.
const (
	MetaKindStep       = "step"
	MetaKindResolution = "resolution"
	MetaKindContext    = "context"
	MetaKindAction     = "action"
	MetaKindValidation = "validation"
)

// StepMeta describes one executor step, successful or not.
type StepMeta struct {
	FromState   State   `json:"from_state"`
	ToState     State   `json:"to_state,omitempty"`
	Guard       string  `json:"guard,omitempty"`
	GuardReason string  `json:"guard_reason,omitempty"`
	Uncertainty float64 `json:"uncertainty"`
	NewFacts    int     `json:"new_facts,omitempty"`
	NewContexts int     `json:"new_contexts,omitempty"`
	NewItems    int     `json:"new_items,omitempty"`
}

// ResolutionMeta records a missing-element resolution.
type ResolutionMeta struct {
	Element  MissingElement `json:"element"`
	FastPath bool           `json:"fast_path"`
}

// ContextMeta records a confirm/reject decision. For a rejection the embedded
// hypothesis is the only surviving copy of the deleted row.
type ContextMeta struct {
	Decision   string            `json:"decision"` // confirmed | rejected
	Hypothesis ContextHypothesis `json:"hypothesis"`
}

// ActionMeta records execution of a proposed action.
type ActionMeta struct {
	ActionID string `json:"action_id"`
	Result   string `json:"result,omitempty"`
}

// ValidationMeta is the executive summary snapshot frozen at lock time so the
// reasoning can be reconstructed without further queries.
type ValidationMeta struct {
	UncertaintyLevel float64 `json:"uncertainty_level"`
	ReasoningQuality float64 `json:"reasoning_quality"`
	Facts            int     `json:"facts"`
	Contexts         int     `json:"contexts"`
	Obligations      int     `json:"obligations"`
	Missing          int     `json:"missing"`
	MissingResolved  int     `json:"missing_resolved"`
	Risks            int     `json:"risks"`
	Actions          int     `json:"actions"`
	Note             string  `json:"note,omitempty"`
}

// Ledger is the full set of child collections for one workspace.
type Ledger struct {
	Facts       []Fact              `json:"facts"`
	Contexts    []ContextHypothesis `json:"contexts"`
	Obligations []Obligation        `json:"obligations"`
	Missing     []MissingElement    `json:"missing"`
	Risks       []Risk              `json:"risks"`
	Actions     []ProposedAction    `json:"actions"`
}

// BlockingUnresolved counts gaps that still gate human readiness.
func (l *Ledger) BlockingUnresolved() int {
	n := 0
	for _, m := range l.Missing {
		if m.Blocking && !m.Resolved {
			n++
		}
	}
	return n
}

// ResolvedCount counts resolved missing elements.
func (l *Ledger) ResolvedCount() int {
	n := 0
	for _, m := range l.Missing {
		if m.Resolved {
			n++
		}
	}
	return n
}

// Summary builds the validation snapshot for this ledger.
func (l *Ledger) Summary(ws Workspace, note string) ValidationMeta {
	return ValidationMeta{
		UncertaintyLevel: ws.UncertaintyLevel,
		ReasoningQuality: ws.ReasoningQuality,
		Facts:            len(l.Facts),
		Contexts:         len(l.Contexts),
		Obligations:      len(l.Obligations),
		Missing:          len(l.Missing),
		MissingResolved:  l.ResolvedCount(),
		Risks:            len(l.Risks),
		Actions:          len(l.Actions),
		Note:             note,
	}
}
