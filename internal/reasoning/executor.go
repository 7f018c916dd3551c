package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Recorder receives engine metrics. The prometheus implementation lives in
// internal/telemetry; tests use NopRecorder.
type Recorder interface {
	StepSucceeded(to State)
	GuardFailed(at State)
	InferenceTimedOut()
	Escalated(urgency string)
}

// NopRecorder discards metrics.
type NopRecorder struct{}

func (NopRecorder) StepSucceeded(State) {}
func (NopRecorder) GuardFailed(State)   {}
func (NopRecorder) InferenceTimedOut()  {}
func (NopRecorder) Escalated(string)    {}

// DefaultInferenceTimeout bounds a single inference call when no explicit
// timeout is configured.
const DefaultInferenceTimeout = 45 * time.Second

// Executor drives workspaces through the state machine. All mutation of a
// workspace and its ledger flows through here or the explicit human actions;
// every invocation, successful or not, leaves exactly one trace entry.
type Executor struct {
	Store   Storage
	Infer   Provider
	Events  Sink
	Metrics Recorder
	Logger  *log.Logger
	Timeout time.Duration

	now func() time.Time
}

// NewExecutor wires an executor with defaults for the optional collaborators.
func NewExecutor(store Storage, infer Provider, events Sink, logger *log.Logger) *Executor {
	if events == nil {
		events = NopSink{}
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[EXEC] ", log.LstdFlags)
	}
	return &Executor{
		Store:   store,
		Infer:   infer,
		Events:  events,
		Metrics: NopRecorder{},
		Logger:  logger,
		Timeout: DefaultInferenceTimeout,
		now:     time.Now,
	}
}

// StepResult is the outcome of one ExecuteNextStep invocation.
type StepResult struct {
	Success     bool                 `json:"success"`
	FromState   State                `json:"from_state"`
	NewState    State                `json:"new_state"`
	Uncertainty float64              `json:"uncertainty_level"`
	Trace       ReasoningTrace       `json:"trace"`
	Transition  *ReasoningTransition `json:"transition,omitempty"`
	GuardReason string               `json:"guard_reason,omitempty"`
}

// RunResult is the outcome of a multi-step run.
type RunResult struct {
	TargetState  State        `json:"target_state"`
	ReachedState State        `json:"reached_state"`
	Steps        []StepResult `json:"steps"`
	Blocked      bool         `json:"blocked"`
	BlockReason  string       `json:"block_reason,omitempty"`
}

// CreateWorkspace opens a workspace in RECEIVED on first information intake
// and records the intake trace.
func (e *Executor) CreateWorkspace(ctx context.Context, actor Actor, title, intake string) (Workspace, error) {
	now := e.now().UTC()
	ws := Workspace{
		ID:               uuid.NewString(),
		TenantID:         actor.TenantID,
		Title:            title,
		CurrentState:     StateReceived,
		UncertaintyLevel: 1.0,
		Version:          1,
		StateChangedAt:   now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	tr := ReasoningTrace{
		ID:          uuid.NewString(),
		WorkspaceID: ws.ID,
		Step:        StepIntake,
		Explanation: intake,
		Metadata:    TraceMetadata{Kind: MetaKindStep, Step: &StepMeta{ToState: StateReceived, Uncertainty: 1.0}},
		CreatedBy:   actor.ActorID,
		CreatedAt:   now,
	}
	stored, err := e.Store.CreateWorkspace(ctx, ws, tr)
	if err != nil {
		return Workspace{}, fmt.Errorf("create workspace: %w", err)
	}
	return stored, nil
}

// ExecuteNextStep attempts the single permitted transition out of the
// workspace's current state. On guard failure or inference timeout the
// workspace is left untouched and the failure trace is the only persisted
// effect.
func (e *Executor) ExecuteNextStep(ctx context.Context, actor Actor, workspaceID string) (StepResult, error) {
	ws, led, err := e.loadUnlocked(ctx, actor, workspaceID)
	if err != nil {
		return StepResult{}, err
	}
	if ws.CurrentState.Terminal() {
		return StepResult{FromState: ws.CurrentState, NewState: ws.CurrentState}, ErrTerminal
	}
	target, guard, ok := NextTransition(ws.CurrentState)
	if !ok {
		return StepResult{FromState: ws.CurrentState, NewState: ws.CurrentState}, ErrTerminal
	}

	ictx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()
	prop, inferErr := e.Infer.ProposeStep(ictx, StepInput{Workspace: ws, Ledger: led, Target: target})
	if inferErr != nil {
		if errors.Is(inferErr, context.DeadlineExceeded) {
			e.Metrics.InferenceTimedOut()
			res := e.recordFailure(ctx, actor, ws, guard, target, "inference call exceeded its time budget", StepInferenceTimeout)
			return res, fmt.Errorf("step %s->%s: %w", ws.CurrentState, target, ErrInferenceTimeout)
		}
		e.Metrics.GuardFailed(ws.CurrentState)
		res := e.recordFailure(ctx, actor, ws, guard, target, fmt.Sprintf("inference failed: %v", inferErr), StepGuardFailed)
		return res, fmt.Errorf("step %s->%s: inference: %v: %w", ws.CurrentState, target, inferErr, ErrGuardUnsatisfied)
	}

	after, merged := e.applyProposal(ws, led, prop)
	satisfied, reason := guard.Check(&after, &merged)
	if !satisfied {
		e.Metrics.GuardFailed(ws.CurrentState)
		res := e.recordFailure(ctx, actor, ws, guard, target, reason, StepGuardFailed)
		return res, fmt.Errorf("step %s->%s: guard %s: %s: %w", ws.CurrentState, target, guard.Name, reason, ErrGuardUnsatisfied)
	}

	now := e.now().UTC()
	transition := ReasoningTransition{
		ID:          uuid.NewString(),
		WorkspaceID: ws.ID,
		FromState:   ws.CurrentState,
		ToState:     target,
		TriggeredBy: actor.ActorID,
		Reason:      fmt.Sprintf("guard %s satisfied", guard.Name),
		TriggeredAt: now,
	}
	trace := ReasoningTrace{
		ID:          uuid.NewString(),
		WorkspaceID: ws.ID,
		Step:        StepTransition,
		Explanation: prop.Explanation,
		Metadata: TraceMetadata{Kind: MetaKindStep, Step: &StepMeta{
			FromState:   ws.CurrentState,
			ToState:     target,
			Guard:       guard.Name,
			Uncertainty: after.UncertaintyLevel,
			NewFacts:    len(prop.Facts),
			NewContexts: len(prop.Contexts),
			NewItems:    prop.Size(),
		}},
		CreatedBy: actor.ActorID,
		CreatedAt: now,
	}
	commit := StepCommit{
		WorkspaceID:      ws.ID,
		ExpectedVersion:  ws.Version,
		NewState:         target,
		UncertaintyLevel: after.UncertaintyLevel,
		ReasoningQuality: after.ReasoningQuality,
		NoObligations:    after.NoObligations,
		GapAnalysisDone:  after.GapAnalysisDone,
		NoRisk:           after.NoRisk,
		NoActionNeeded:   after.NoActionNeeded,
		Facts:            prop.Facts,
		Contexts:         prop.Contexts,
		Obligations:      prop.Obligations,
		Missing:          prop.Missing,
		Risks:            prop.Risks,
		Actions:          prop.Actions,
		Transition:       transition,
		Trace:            trace,
	}
	if err := e.Store.CommitStep(ctx, actor.TenantID, commit); err != nil {
		if errors.Is(err, ErrConflict) {
			// Another operation won the race; record the lost attempt so
			// the trail stays complete.
			e.recordFailure(ctx, actor, ws, guard, target, "concurrent modification, step not applied", StepGuardFailed)
		}
		return StepResult{FromState: ws.CurrentState, NewState: ws.CurrentState}, fmt.Errorf("commit step %s->%s: %w", ws.CurrentState, target, err)
	}

	e.Metrics.StepSucceeded(target)
	e.Events.Publish(ctx, Event{
		Kind:        EventTransitioned,
		TenantID:    ws.TenantID,
		WorkspaceID: ws.ID,
		OccurredAt:  now,
		Transition:  &transition,
	})
	e.Logger.Printf("workspace %s: %s -> %s (%d new ledger entries)", ws.ID, ws.CurrentState, target, prop.Size())
	return StepResult{
		Success:     true,
		FromState:   ws.CurrentState,
		NewState:    target,
		Uncertainty: after.UncertaintyLevel,
		Trace:       trace,
		Transition:  &transition,
	}, nil
}

// ExecuteReasoning steps the workspace forward until targetState is reached
// or a guard blocks. Blocking is not an error; the result reports how far the
// run got. States are never skipped.
func (e *Executor) ExecuteReasoning(ctx context.Context, actor Actor, workspaceID string, targetState State) (RunResult, error) {
	if !targetState.Valid() {
		return RunResult{}, fmt.Errorf("unknown target state %q: %w", targetState, ErrNotFound)
	}
	ws, err := e.Store.GetWorkspace(ctx, actor.TenantID, workspaceID)
	if err != nil {
		return RunResult{}, err
	}
	res := RunResult{TargetState: targetState, ReachedState: ws.CurrentState}
	for ws.CurrentState.Rank() < targetState.Rank() {
		step, err := e.ExecuteNextStep(ctx, actor, workspaceID)
		if err != nil {
			if errors.Is(err, ErrGuardUnsatisfied) || errors.Is(err, ErrInferenceTimeout) {
				res.Steps = append(res.Steps, step)
				res.Blocked = true
				res.BlockReason = err.Error()
				return res, nil
			}
			return res, err
		}
		res.Steps = append(res.Steps, step)
		res.ReachedState = step.NewState
		ws.CurrentState = step.NewState
	}
	return res, nil
}

// ExecuteFullReasoning runs until the terminal state or the first block.
func (e *Executor) ExecuteFullReasoning(ctx context.Context, actor Actor, workspaceID string) (RunResult, error) {
	return e.ExecuteReasoning(ctx, actor, workspaceID, StateReadyForHuman)
}

// ExecuteAction marks a proposed action executed and traces it. Workspace
// state is not affected.
func (e *Executor) ExecuteAction(ctx context.Context, actor Actor, workspaceID, actionID, result string) (ProposedAction, error) {
	ws, _, err := e.loadUnlocked(ctx, actor, workspaceID)
	if err != nil {
		return ProposedAction{}, err
	}
	act, err := e.Store.MarkActionExecuted(ctx, actor.TenantID, workspaceID, actionID, actor.ActorID, result)
	if err != nil {
		return ProposedAction{}, err
	}
	tr := ReasoningTrace{
		ID:          uuid.NewString(),
		WorkspaceID: ws.ID,
		Step:        StepActionExecuted,
		Explanation: fmt.Sprintf("action %q executed", act.Content),
		Metadata:    TraceMetadata{Kind: MetaKindAction, Action: &ActionMeta{ActionID: act.ID, Result: result}},
		CreatedBy:   actor.ActorID,
		CreatedAt:   e.now().UTC(),
	}
	if _, err := e.Store.AppendTrace(ctx, actor.TenantID, tr); err != nil {
		return ProposedAction{}, fmt.Errorf("append action trace: %w", err)
	}
	return act, nil
}

// loadUnlocked fetches the workspace and ledger, enforcing tenant and lock
// invariants shared by every mutating operation.
func (e *Executor) loadUnlocked(ctx context.Context, actor Actor, workspaceID string) (Workspace, Ledger, error) {
	ws, err := e.Store.GetWorkspace(ctx, actor.TenantID, workspaceID)
	if err != nil {
		return Workspace{}, Ledger{}, err
	}
	if ws.TenantID != actor.TenantID {
		return Workspace{}, Ledger{}, fmt.Errorf("workspace %s: %w", workspaceID, ErrTenantIsolation)
	}
	if ws.Locked {
		return Workspace{}, Ledger{}, fmt.Errorf("workspace %s: %w", workspaceID, ErrLocked)
	}
	led, err := e.Store.GetLedger(ctx, actor.TenantID, workspaceID)
	if err != nil {
		return Workspace{}, Ledger{}, err
	}
	return ws, led, nil
}

// applyProposal returns the workspace and ledger as they would look with the
// proposal applied. Nothing is persisted here; the guard is evaluated against
// these values and the commit happens atomically afterwards.
func (e *Executor) applyProposal(ws Workspace, led Ledger, prop Proposal) (Workspace, Ledger) {
	now := e.now().UTC()
	for i := range prop.Facts {
		prop.Facts[i].ID = uuid.NewString()
		prop.Facts[i].WorkspaceID = ws.ID
		prop.Facts[i].CreatedAt = now
	}
	for i := range prop.Contexts {
		prop.Contexts[i].ID = uuid.NewString()
		prop.Contexts[i].WorkspaceID = ws.ID
		if prop.Contexts[i].CertaintyLevel == "" {
			prop.Contexts[i].CertaintyLevel = CertaintyHypothesis
		}
		prop.Contexts[i].CreatedAt = now
		prop.Contexts[i].UpdatedAt = now
	}
	for i := range prop.Obligations {
		prop.Obligations[i].ID = uuid.NewString()
		prop.Obligations[i].WorkspaceID = ws.ID
		prop.Obligations[i].CreatedAt = now
	}
	for i := range prop.Missing {
		prop.Missing[i].ID = uuid.NewString()
		prop.Missing[i].WorkspaceID = ws.ID
		prop.Missing[i].CreatedAt = now
	}
	for i := range prop.Risks {
		prop.Risks[i].ID = uuid.NewString()
		prop.Risks[i].WorkspaceID = ws.ID
		prop.Risks[i].CreatedAt = now
	}
	for i := range prop.Actions {
		prop.Actions[i].ID = uuid.NewString()
		prop.Actions[i].WorkspaceID = ws.ID
		prop.Actions[i].CreatedAt = now
	}

	after := ws
	after.NoObligations = ws.NoObligations || prop.NoObligations
	after.GapAnalysisDone = ws.GapAnalysisDone || prop.GapAnalysisDone
	after.NoRisk = ws.NoRisk || prop.NoRisk
	after.NoActionNeeded = ws.NoActionNeeded || prop.NoActionNeeded
	if prop.Uncertainty > 0 {
		after.UncertaintyLevel = clamp01(prop.Uncertainty)
	}
	if prop.Quality > 0 {
		after.ReasoningQuality = clamp01(prop.Quality)
	}

	merged := Ledger{
		Facts:       append(append([]Fact(nil), led.Facts...), prop.Facts...),
		Contexts:    append(append([]ContextHypothesis(nil), led.Contexts...), prop.Contexts...),
		Obligations: append(append([]Obligation(nil), led.Obligations...), prop.Obligations...),
		Missing:     append(append([]MissingElement(nil), led.Missing...), prop.Missing...),
		Risks:       append(append([]Risk(nil), led.Risks...), prop.Risks...),
		Actions:     append(append([]ProposedAction(nil), led.Actions...), prop.Actions...),
	}
	return after, merged
}

// recordFailure appends the trace for a failed attempt. Trace persistence is
// best-effort here; the failure itself is already being reported to the
// caller.
func (e *Executor) recordFailure(ctx context.Context, actor Actor, ws Workspace, guard Guard, target State, reason, step string) StepResult {
	tr := ReasoningTrace{
		ID:          uuid.NewString(),
		WorkspaceID: ws.ID,
		Step:        step,
		Explanation: reason,
		Metadata: TraceMetadata{Kind: MetaKindStep, Step: &StepMeta{
			FromState:   ws.CurrentState,
			ToState:     target,
			Guard:       guard.Name,
			GuardReason: reason,
			Uncertainty: ws.UncertaintyLevel,
		}},
		CreatedBy: actor.ActorID,
		CreatedAt: e.now().UTC(),
	}
	stored, err := e.Store.AppendTrace(ctx, actor.TenantID, tr)
	if err != nil {
		e.Logger.Printf("workspace %s: failed to append %s trace: %v", ws.ID, step, err)
		stored = tr
	}
	return StepResult{
		Success:     false,
		FromState:   ws.CurrentState,
		NewState:    ws.CurrentState,
		Uncertainty: ws.UncertaintyLevel,
		Trace:       stored,
		GuardReason: reason,
	}
}

func (e *Executor) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return DefaultInferenceTimeout
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
