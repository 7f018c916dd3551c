package reasoning

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ResolveResult reports a missing-element resolution and whether it triggered
// the automatic fast-path to READY_FOR_HUMAN.
type ResolveResult struct {
	Element  MissingElement `json:"element"`
	NewState State          `json:"new_state"`
	FastPath bool           `json:"fast_path"`
}

// ResolveMissing marks one gap resolved and re-evaluates the blocking gate
// across all missing elements. If the last blocking gap just cleared while
// the workspace sits in MISSING_IDENTIFIED, the engine takes the sanctioned
// fast-path straight to READY_FOR_HUMAN with TriggeredBy = SYSTEM.
func (e *Executor) ResolveMissing(ctx context.Context, actor Actor, workspaceID, elementID, resolution string) (ResolveResult, error) {
	ws, _, err := e.loadUnlocked(ctx, actor, workspaceID)
	if err != nil {
		return ResolveResult{}, err
	}
	elem, err := e.Store.ResolveMissing(ctx, actor.TenantID, workspaceID, elementID, actor.ActorID, resolution)
	if err != nil {
		return ResolveResult{}, err
	}
	now := e.now().UTC()
	tr := ReasoningTrace{
		ID:          uuid.NewString(),
		WorkspaceID: ws.ID,
		Step:        StepMissingResolved,
		Explanation: fmt.Sprintf("missing element %q resolved: %s", elem.Description, resolution),
		Metadata:    TraceMetadata{Kind: MetaKindResolution, Resolution: &ResolutionMeta{Element: elem}},
		CreatedBy:   actor.ActorID,
		CreatedAt:   now,
	}
	if _, err := e.Store.AppendTrace(ctx, actor.TenantID, tr); err != nil {
		return ResolveResult{}, fmt.Errorf("append resolution trace: %w", err)
	}

	res := ResolveResult{Element: elem, NewState: ws.CurrentState}
	led, err := e.Store.GetLedger(ctx, actor.TenantID, workspaceID)
	if err != nil {
		return ResolveResult{}, err
	}
	if ws.CurrentState == StateMissingIdentified && led.BlockingUnresolved() == 0 {
		newState, err := e.fastPath(ctx, actor, ws)
		if err != nil {
			return ResolveResult{}, err
		}
		res.NewState = newState
		res.FastPath = newState == StateReadyForHuman
	}

	e.Events.Publish(ctx, Event{
		Kind:        EventMissingResolved,
		TenantID:    ws.TenantID,
		WorkspaceID: ws.ID,
		OccurredAt:  now,
		Resolution:  &ResolutionMeta{Element: elem, FastPath: res.FastPath},
	})
	return res, nil
}

// fastPath commits MISSING_IDENTIFIED -> READY_FOR_HUMAN, deliberately
// bypassing RISK_EVALUATED and ACTION_PROPOSED (source behavior: nothing is
// missing, so the workspace exits straight to the human). A version conflict
// means a concurrent operation already moved the workspace; that is not an
// error here.
func (e *Executor) fastPath(ctx context.Context, actor Actor, ws Workspace) (State, error) {
	now := e.now().UTC()
	transition := ReasoningTransition{
		ID:          uuid.NewString(),
		WorkspaceID: ws.ID,
		FromState:   StateMissingIdentified,
		ToState:     StateReadyForHuman,
		TriggeredBy: TriggeredBySystem,
		Reason:      "all blocking missing elements resolved",
		TriggeredAt: now,
	}
	trace := ReasoningTrace{
		ID:          uuid.NewString(),
		WorkspaceID: ws.ID,
		Step:        StepFastPath,
		Explanation: "last blocking gap resolved; workspace promoted to READY_FOR_HUMAN",
		Metadata: TraceMetadata{Kind: MetaKindStep, Step: &StepMeta{
			FromState:   StateMissingIdentified,
			ToState:     StateReadyForHuman,
			Guard:       "blocking_gaps_resolved",
			Uncertainty: ws.UncertaintyLevel,
		}},
		CreatedBy: TriggeredBySystem,
		CreatedAt: now,
	}
	commit := StepCommit{
		WorkspaceID:      ws.ID,
		ExpectedVersion:  ws.Version,
		NewState:         StateReadyForHuman,
		UncertaintyLevel: ws.UncertaintyLevel,
		ReasoningQuality: ws.ReasoningQuality,
		NoObligations:    ws.NoObligations,
		GapAnalysisDone:  ws.GapAnalysisDone,
		NoRisk:           ws.NoRisk,
		NoActionNeeded:   ws.NoActionNeeded,
		Transition:       transition,
		Trace:            trace,
	}
	if err := e.Store.CommitStep(ctx, actor.TenantID, commit); err != nil {
		if errors.Is(err, ErrConflict) {
			e.Logger.Printf("workspace %s: fast-path lost to concurrent operation", ws.ID)
			cur, gerr := e.Store.GetWorkspace(ctx, actor.TenantID, ws.ID)
			if gerr != nil {
				return ws.CurrentState, gerr
			}
			return cur.CurrentState, nil
		}
		return ws.CurrentState, fmt.Errorf("fast-path commit: %w", err)
	}
	e.Metrics.StepSucceeded(StateReadyForHuman)
	e.Events.Publish(ctx, Event{
		Kind:        EventTransitioned,
		TenantID:    ws.TenantID,
		WorkspaceID: ws.ID,
		OccurredAt:  now,
		Transition:  &transition,
	})
	e.Logger.Printf("workspace %s: fast-path %s -> %s", ws.ID, StateMissingIdentified, StateReadyForHuman)
	return StateReadyForHuman, nil
}

// ConfirmContext raises a hypothesis to CONFIRMED and traces the decision.
func (e *Executor) ConfirmContext(ctx context.Context, actor Actor, workspaceID, contextID string) (ContextHypothesis, error) {
	ws, _, err := e.loadUnlocked(ctx, actor, workspaceID)
	if err != nil {
		return ContextHypothesis{}, err
	}
	hyp, err := e.Store.SetContextCertainty(ctx, actor.TenantID, workspaceID, contextID, CertaintyConfirmed)
	if err != nil {
		return ContextHypothesis{}, err
	}
	tr := ReasoningTrace{
		ID:          uuid.NewString(),
		WorkspaceID: ws.ID,
		Step:        StepContextConfirmed,
		Explanation: fmt.Sprintf("context %q confirmed", hyp.Description),
		Metadata:    TraceMetadata{Kind: MetaKindContext, Context: &ContextMeta{Decision: "confirmed", Hypothesis: hyp}},
		CreatedBy:   actor.ActorID,
		CreatedAt:   e.now().UTC(),
	}
	if _, err := e.Store.AppendTrace(ctx, actor.TenantID, tr); err != nil {
		return ContextHypothesis{}, fmt.Errorf("append confirmation trace: %w", err)
	}
	return hyp, nil
}

// RejectContext deletes the hypothesis row. The trace embeds the deleted
// content; once this returns, the trace entry is the only surviving record of
// the hypothesis.
func (e *Executor) RejectContext(ctx context.Context, actor Actor, workspaceID, contextID string) error {
	ws, _, err := e.loadUnlocked(ctx, actor, workspaceID)
	if err != nil {
		return err
	}
	hyp, err := e.Store.DeleteContext(ctx, actor.TenantID, workspaceID, contextID)
	if err != nil {
		return err
	}
	now := e.now().UTC()
	tr := ReasoningTrace{
		ID:          uuid.NewString(),
		WorkspaceID: ws.ID,
		Step:        StepContextRejected,
		Explanation: fmt.Sprintf("context %q rejected and removed", hyp.Description),
		Metadata:    TraceMetadata{Kind: MetaKindContext, Context: &ContextMeta{Decision: "rejected", Hypothesis: hyp}},
		CreatedBy:   actor.ActorID,
		CreatedAt:   now,
	}
	if _, err := e.Store.AppendTrace(ctx, actor.TenantID, tr); err != nil {
		return fmt.Errorf("append rejection trace: %w", err)
	}
	e.Events.Publish(ctx, Event{
		Kind:        EventContextRejected,
		TenantID:    ws.TenantID,
		WorkspaceID: ws.ID,
		OccurredAt:  now,
		Context:     &ContextMeta{Decision: "rejected", Hypothesis: hyp},
	})
	return nil
}

// Validate is the human lock: it requires READY_FOR_HUMAN with no blocking
// gaps, freezes the workspace and appends the WORKSPACE_VALIDATED trace with
// an executive summary so post-lock the reasoning can be reconstructed
// without further queries.
func (e *Executor) Validate(ctx context.Context, actor Actor, workspaceID, note string) (Workspace, error) {
	ws, err := e.Store.GetWorkspace(ctx, actor.TenantID, workspaceID)
	if err != nil {
		return Workspace{}, err
	}
	if ws.Locked {
		return Workspace{}, fmt.Errorf("workspace %s: %w", workspaceID, ErrAlreadyLocked)
	}
	led, err := e.Store.GetLedger(ctx, actor.TenantID, workspaceID)
	if err != nil {
		return Workspace{}, err
	}
	if ws.CurrentState != StateReadyForHuman {
		return Workspace{}, fmt.Errorf("workspace %s in %s: %w", workspaceID, ws.CurrentState, ErrNotReady)
	}
	if n := led.BlockingUnresolved(); n > 0 {
		return Workspace{}, fmt.Errorf("workspace %s has %d blocking gap(s): %w", workspaceID, n, ErrNotReady)
	}

	now := e.now().UTC()
	summary := led.Summary(ws, note)
	trace := ReasoningTrace{
		ID:          uuid.NewString(),
		WorkspaceID: ws.ID,
		Step:        StepWorkspaceValidated,
		Explanation: fmt.Sprintf("workspace validated by %s", actor.ActorID),
		Metadata:    TraceMetadata{Kind: MetaKindValidation, Validation: &summary},
		CreatedBy:   actor.ActorID,
		CreatedAt:   now,
	}
	locked, err := e.Store.LockWorkspace(ctx, actor.TenantID, LockRequest{
		WorkspaceID:     ws.ID,
		ExpectedVersion: ws.Version,
		ValidatedBy:     actor.ActorID,
		ValidationNote:  note,
		Trace:           trace,
	})
	if err != nil {
		return Workspace{}, err
	}
	e.Events.Publish(ctx, Event{
		Kind:        EventValidated,
		TenantID:    ws.TenantID,
		WorkspaceID: ws.ID,
		OccurredAt:  now,
		Validation:  &summary,
	})
	e.Logger.Printf("workspace %s validated by %s", ws.ID, actor.ActorID)
	return locked, nil
}
