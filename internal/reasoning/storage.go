package reasoning

import (
	"context"
	"time"
)

// StepCommit is the transactional unit for one successful step: ledger
// inserts, the conditional workspace update, one transition and one trace.
// The store must apply all of it atomically or none of it, and must reject
// the update when ExpectedVersion no longer matches (per-workspace
// serialization) or the workspace is locked.
type StepCommit struct {
	WorkspaceID     string
	ExpectedVersion int64

	NewState         State
	UncertaintyLevel float64
	ReasoningQuality float64
	NoObligations    bool
	GapAnalysisDone  bool
	NoRisk           bool
	NoActionNeeded   bool

	Facts       []Fact
	Contexts    []ContextHypothesis
	Obligations []Obligation
	Missing     []MissingElement
	Risks       []Risk
	Actions     []ProposedAction

	Transition ReasoningTransition
	Trace      ReasoningTrace
}

// LockRequest freezes a workspace at validation time.
type LockRequest struct {
	WorkspaceID     string
	ExpectedVersion int64
	ValidatedBy     string
	ValidationNote  string
	Trace           ReasoningTrace
}

// StalledWorkspace is the watchdog's view of an unlocked workspace sitting in
// a state past its deadline.
type StalledWorkspace struct {
	ID             string
	TenantID       string
	CurrentState   State
	StateChangedAt time.Time
}

// Storage is the persistence collaborator. Every method is scoped by
// tenantID; a workspace outside the tenant behaves as absent (ErrNotFound).
// Implementations append traces with the hash chain maintained per workspace
// and never update or delete trace rows.
type Storage interface {
	CreateWorkspace(ctx context.Context, ws Workspace, intake ReasoningTrace) (Workspace, error)
	GetWorkspace(ctx context.Context, tenantID, id string) (Workspace, error)
	ListWorkspaces(ctx context.Context, tenantID string) ([]Workspace, error)
	SoftDeleteWorkspace(ctx context.Context, tenantID, id string) error

	GetLedger(ctx context.Context, tenantID, workspaceID string) (Ledger, error)

	// CommitStep applies a successful step atomically.
	CommitStep(ctx context.Context, tenantID string, c StepCommit) error

	// AppendTrace records a standalone trace entry (guard failures,
	// resolutions, context decisions). Returns the stored entry with its
	// chain hashes filled in.
	AppendTrace(ctx context.Context, tenantID string, tr ReasoningTrace) (ReasoningTrace, error)

	// ResolveMissing marks one element resolved. ErrNotFound if the element
	// does not belong to the workspace.
	ResolveMissing(ctx context.Context, tenantID, workspaceID, elementID, resolvedBy, resolution string) (MissingElement, error)

	SetContextCertainty(ctx context.Context, tenantID, workspaceID, contextID, level string) (ContextHypothesis, error)

	// DeleteContext removes a hypothesis row and returns the deleted
	// content so the caller can preserve it in the trace.
	DeleteContext(ctx context.Context, tenantID, workspaceID, contextID string) (ContextHypothesis, error)

	MarkActionExecuted(ctx context.Context, tenantID, workspaceID, actionID, executedBy, result string) (ProposedAction, error)

	// LockWorkspace sets locked/validated fields under the version check and
	// appends the final validation trace atomically.
	LockWorkspace(ctx context.Context, tenantID string, req LockRequest) (Workspace, error)

	ListTraces(ctx context.Context, tenantID, workspaceID string) ([]ReasoningTrace, error)
	ListTransitions(ctx context.Context, tenantID, workspaceID string) ([]ReasoningTransition, error)

	// ListStalled spans tenants; it feeds the watchdog only and never
	// returns locked or deleted workspaces.
	ListStalled(ctx context.Context, changedBefore time.Time) ([]StalledWorkspace, error)
}
