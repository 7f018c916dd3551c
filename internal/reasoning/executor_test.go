package reasoning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"
)

// memStorage is an in-memory Storage with the same contract as the Postgres
// store: tenant scoping, optimistic version checks and per-workspace trace
// chains.
type memStorage struct {
	mu          sync.Mutex
	workspaces  map[string]*Workspace
	ledgers     map[string]*Ledger
	traces      map[string][]ReasoningTrace
	transitions map[string][]ReasoningTransition
}

func newMemStorage() *memStorage {
	return &memStorage{
		workspaces:  make(map[string]*Workspace),
		ledgers:     make(map[string]*Ledger),
		traces:      make(map[string][]ReasoningTrace),
		transitions: make(map[string][]ReasoningTransition),
	}
}

func (m *memStorage) lookup(tenantID, id string) (*Workspace, error) {
	ws, ok := m.workspaces[id]
	if !ok || ws.TenantID != tenantID || ws.DeletedAt != nil {
		return nil, fmt.Errorf("workspace %s: %w", id, ErrNotFound)
	}
	return ws, nil
}

func (m *memStorage) appendTrace(tr ReasoningTrace) ReasoningTrace {
	prev := GenesisHash
	if chain := m.traces[tr.WorkspaceID]; len(chain) > 0 {
		prev = chain[len(chain)-1].EntryHash
	}
	tr.PrevHash = prev
	tr.EntryHash = ChainHash(prev, tr)
	m.traces[tr.WorkspaceID] = append(m.traces[tr.WorkspaceID], tr)
	return tr
}

func (m *memStorage) CreateWorkspace(ctx context.Context, ws Workspace, intake ReasoningTrace) (Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := ws
	m.workspaces[ws.ID] = &cp
	m.ledgers[ws.ID] = &Ledger{}
	m.appendTrace(intake)
	return ws, nil
}

func (m *memStorage) GetWorkspace(ctx context.Context, tenantID, id string) (Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, err := m.lookup(tenantID, id)
	if err != nil {
		return Workspace{}, err
	}
	return *ws, nil
}

func (m *memStorage) ListWorkspaces(ctx context.Context, tenantID string) ([]Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Workspace
	for _, ws := range m.workspaces {
		if ws.TenantID == tenantID && ws.DeletedAt == nil {
			out = append(out, *ws)
		}
	}
	return out, nil
}

func (m *memStorage) SoftDeleteWorkspace(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, err := m.lookup(tenantID, id)
	if err != nil {
		return err
	}
	now := time.Now()
	ws.DeletedAt = &now
	return nil
}

func (m *memStorage) GetLedger(ctx context.Context, tenantID, workspaceID string) (Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(tenantID, workspaceID); err != nil {
		return Ledger{}, err
	}
	return *m.ledgers[workspaceID], nil
}

func (m *memStorage) CommitStep(ctx context.Context, tenantID string, c StepCommit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !AllowedTransition(c.Transition.FromState, c.Transition.ToState) {
		return fmt.Errorf("transition %s -> %s not permitted", c.Transition.FromState, c.Transition.ToState)
	}
	ws, err := m.lookup(tenantID, c.WorkspaceID)
	if err != nil {
		return err
	}
	if ws.Locked {
		return fmt.Errorf("workspace %s: %w", c.WorkspaceID, ErrLocked)
	}
	if ws.Version != c.ExpectedVersion {
		return fmt.Errorf("workspace %s: %w", c.WorkspaceID, ErrConflict)
	}
	ws.CurrentState = c.NewState
	ws.UncertaintyLevel = c.UncertaintyLevel
	ws.ReasoningQuality = c.ReasoningQuality
	ws.NoObligations = c.NoObligations
	ws.GapAnalysisDone = c.GapAnalysisDone
	ws.NoRisk = c.NoRisk
	ws.NoActionNeeded = c.NoActionNeeded
	ws.Version++
	ws.StateChangedAt = time.Now()
	led := m.ledgers[c.WorkspaceID]
	led.Facts = append(led.Facts, c.Facts...)
	led.Contexts = append(led.Contexts, c.Contexts...)
	led.Obligations = append(led.Obligations, c.Obligations...)
	led.Missing = append(led.Missing, c.Missing...)
	led.Risks = append(led.Risks, c.Risks...)
	led.Actions = append(led.Actions, c.Actions...)
	m.transitions[c.WorkspaceID] = append(m.transitions[c.WorkspaceID], c.Transition)
	m.appendTrace(c.Trace)
	return nil
}

func (m *memStorage) AppendTrace(ctx context.Context, tenantID string, tr ReasoningTrace) (ReasoningTrace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(tenantID, tr.WorkspaceID); err != nil {
		return ReasoningTrace{}, err
	}
	return m.appendTrace(tr), nil
}

func (m *memStorage) ResolveMissing(ctx context.Context, tenantID, workspaceID, elementID, resolvedBy, resolution string) (MissingElement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(tenantID, workspaceID); err != nil {
		return MissingElement{}, err
	}
	led := m.ledgers[workspaceID]
	for i := range led.Missing {
		if led.Missing[i].ID == elementID && !led.Missing[i].Resolved {
			now := time.Now()
			led.Missing[i].Resolved = true
			led.Missing[i].ResolvedBy = resolvedBy
			led.Missing[i].Resolution = resolution
			led.Missing[i].ResolvedAt = &now
			return led.Missing[i], nil
		}
	}
	return MissingElement{}, fmt.Errorf("missing element %s: %w", elementID, ErrNotFound)
}

func (m *memStorage) SetContextCertainty(ctx context.Context, tenantID, workspaceID, contextID, level string) (ContextHypothesis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(tenantID, workspaceID); err != nil {
		return ContextHypothesis{}, err
	}
	led := m.ledgers[workspaceID]
	for i := range led.Contexts {
		if led.Contexts[i].ID == contextID {
			led.Contexts[i].CertaintyLevel = level
			led.Contexts[i].UpdatedAt = time.Now()
			return led.Contexts[i], nil
		}
	}
	return ContextHypothesis{}, fmt.Errorf("context %s: %w", contextID, ErrNotFound)
}

func (m *memStorage) DeleteContext(ctx context.Context, tenantID, workspaceID, contextID string) (ContextHypothesis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(tenantID, workspaceID); err != nil {
		return ContextHypothesis{}, err
	}
	led := m.ledgers[workspaceID]
	for i := range led.Contexts {
		if led.Contexts[i].ID == contextID {
			hyp := led.Contexts[i]
			led.Contexts = append(led.Contexts[:i], led.Contexts[i+1:]...)
			return hyp, nil
		}
	}
	return ContextHypothesis{}, fmt.Errorf("context %s: %w", contextID, ErrNotFound)
}

func (m *memStorage) MarkActionExecuted(ctx context.Context, tenantID, workspaceID, actionID, executedBy, result string) (ProposedAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(tenantID, workspaceID); err != nil {
		return ProposedAction{}, err
	}
	led := m.ledgers[workspaceID]
	for i := range led.Actions {
		if led.Actions[i].ID == actionID && !led.Actions[i].Executed {
			now := time.Now()
			led.Actions[i].Executed = true
			led.Actions[i].ExecutedBy = executedBy
			led.Actions[i].Result = result
			led.Actions[i].ExecutedAt = &now
			return led.Actions[i], nil
		}
	}
	return ProposedAction{}, fmt.Errorf("action %s: %w", actionID, ErrNotFound)
}

func (m *memStorage) LockWorkspace(ctx context.Context, tenantID string, req LockRequest) (Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, err := m.lookup(tenantID, req.WorkspaceID)
	if err != nil {
		return Workspace{}, err
	}
	if ws.Locked {
		return Workspace{}, fmt.Errorf("workspace %s: %w", req.WorkspaceID, ErrAlreadyLocked)
	}
	if ws.Version != req.ExpectedVersion {
		return Workspace{}, fmt.Errorf("workspace %s: %w", req.WorkspaceID, ErrConflict)
	}
	now := time.Now()
	ws.Locked = true
	ws.ValidatedBy = req.ValidatedBy
	ws.ValidationNote = req.ValidationNote
	ws.ValidatedAt = &now
	ws.CompletedAt = &now
	ws.Version++
	m.appendTrace(req.Trace)
	return *ws, nil
}

func (m *memStorage) ListTraces(ctx context.Context, tenantID, workspaceID string) ([]ReasoningTrace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(tenantID, workspaceID); err != nil {
		return nil, err
	}
	return append([]ReasoningTrace(nil), m.traces[workspaceID]...), nil
}

func (m *memStorage) ListTransitions(ctx context.Context, tenantID, workspaceID string) ([]ReasoningTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(tenantID, workspaceID); err != nil {
		return nil, err
	}
	return append([]ReasoningTransition(nil), m.transitions[workspaceID]...), nil
}

func (m *memStorage) ListStalled(ctx context.Context, changedBefore time.Time) ([]StalledWorkspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StalledWorkspace
	for _, ws := range m.workspaces {
		if !ws.Locked && ws.DeletedAt == nil && ws.StateChangedAt.Before(changedBefore) {
			out = append(out, StalledWorkspace{ID: ws.ID, TenantID: ws.TenantID, CurrentState: ws.CurrentState, StateChangedAt: ws.StateChangedAt})
		}
	}
	return out, nil
}

func (m *memStorage) traceCount(workspaceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.traces[workspaceID])
}

// providerFunc adapts a function to the Provider interface.
type providerFunc func(ctx context.Context, in StepInput) (Proposal, error)

func (f providerFunc) ProposeStep(ctx context.Context, in StepInput) (Proposal, error) {
	return f(ctx, in)
}

// scriptedProvider satisfies each guard on the way to READY_FOR_HUMAN.
func scriptedProvider() Provider {
	return providerFunc(func(ctx context.Context, in StepInput) (Proposal, error) {
		switch in.Target {
		case StateFactsExtracted:
			return Proposal{Facts: []Fact{{Text: "notice served on 2025-03-02", Confidence: 0.9}}, Uncertainty: 0.8, Explanation: "extracted one fact"}, nil
		case StateContextIdentified:
			return Proposal{Contexts: []ContextHypothesis{{Description: "commercial lease dispute"}}, Uncertainty: 0.6, Explanation: "framed the dispute"}, nil
		case StateObligationsDeduced:
			return Proposal{Obligations: []Obligation{{Description: "respond within 30 days"}}, Uncertainty: 0.5, Explanation: "deduced one obligation"}, nil
		case StateMissingIdentified:
			return Proposal{GapAnalysisDone: true, Uncertainty: 0.4, Explanation: "gap analysis complete, nothing missing"}, nil
		case StateRiskEvaluated:
			return Proposal{Risks: []Risk{{Description: "forfeiture risk", RiskScore: 0.7}}, Uncertainty: 0.3, Explanation: "evaluated risk"}, nil
		case StateActionProposed:
			return Proposal{Actions: []ProposedAction{{Content: "draft response letter", Kind: "DRAFT"}}, Uncertainty: 0.2, Explanation: "proposed an action"}, nil
		}
		return Proposal{}, nil
	})
}

func emptyProvider() Provider {
	return providerFunc(func(ctx context.Context, in StepInput) (Proposal, error) {
		return Proposal{Explanation: "nothing to add"}, nil
	})
}

var testActor = Actor{TenantID: "tenant-a", ActorID: "user-1"}

func newTestExecutor(t *testing.T, infer Provider) (*Executor, *memStorage) {
	t.Helper()
	st := newMemStorage()
	exec := NewExecutor(st, infer, NopSink{}, log.New(io.Discard, "", 0))
	return exec, st
}

func mustCreate(t *testing.T, exec *Executor) Workspace {
	t.Helper()
	ws, err := exec.CreateWorkspace(context.Background(), testActor, "Dupont v. SCI Les Oliviers", "first intake email received")
	if err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	return ws
}

func TestExecuteNextStepGuardFailureLeavesStateUntouched(t *testing.T) {
	exec, st := newTestExecutor(t, emptyProvider())
	ws := mustCreate(t, exec)
	before := st.traceCount(ws.ID)

	res, err := exec.ExecuteNextStep(context.Background(), testActor, ws.ID)
	if !errors.Is(err, ErrGuardUnsatisfied) {
		t.Fatalf("want ErrGuardUnsatisfied, got %v", err)
	}
	if res.Success {
		t.Fatal("failed step must not report success")
	}
	cur, _ := st.GetWorkspace(context.Background(), testActor.TenantID, ws.ID)
	if cur.CurrentState != StateReceived {
		t.Fatalf("state changed to %s on guard failure", cur.CurrentState)
	}
	if got := st.traceCount(ws.ID) - before; got != 1 {
		t.Fatalf("failed attempt recorded %d traces, want exactly 1", got)
	}
	if n := len(st.transitions[ws.ID]); n != 0 {
		t.Fatalf("failed attempt recorded %d transitions, want 0", n)
	}
}

func TestExecuteNextStepAdvancesWhenGuardSatisfied(t *testing.T) {
	exec, st := newTestExecutor(t, scriptedProvider())
	ws := mustCreate(t, exec)
	before := st.traceCount(ws.ID)

	res, err := exec.ExecuteNextStep(context.Background(), testActor, ws.ID)
	if err != nil {
		t.Fatalf("ExecuteNextStep: %v", err)
	}
	if !res.Success || res.NewState != StateFactsExtracted {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := st.traceCount(ws.ID) - before; got != 1 {
		t.Fatalf("step recorded %d traces, want exactly 1", got)
	}
	if n := len(st.transitions[ws.ID]); n != 1 {
		t.Fatalf("step recorded %d transitions, want 1", n)
	}
	led, _ := st.GetLedger(context.Background(), testActor.TenantID, ws.ID)
	if len(led.Facts) != 1 {
		t.Fatalf("ledger has %d facts, want 1", len(led.Facts))
	}
}

func TestExecuteFullReasoningReachesTerminalState(t *testing.T) {
	exec, st := newTestExecutor(t, scriptedProvider())
	ws := mustCreate(t, exec)

	res, err := exec.ExecuteFullReasoning(context.Background(), testActor, ws.ID)
	if err != nil {
		t.Fatalf("ExecuteFullReasoning: %v", err)
	}
	if res.Blocked {
		t.Fatalf("run blocked: %s", res.BlockReason)
	}
	if res.ReachedState != StateReadyForHuman {
		t.Fatalf("reached %s, want %s", res.ReachedState, StateReadyForHuman)
	}
	if len(res.Steps) != len(StateOrder)-1 {
		t.Fatalf("took %d steps, want %d", len(res.Steps), len(StateOrder)-1)
	}

	transitions, _ := st.ListTransitions(context.Background(), testActor.TenantID, ws.ID)
	prev := -1
	for _, tr := range transitions {
		if tr.ToState.Rank() <= prev {
			t.Fatalf("transition order not monotonic: %s after rank %d", tr.ToState, prev)
		}
		prev = tr.ToState.Rank()
	}

	traces, _ := st.ListTraces(context.Background(), testActor.TenantID, ws.ID)
	if err := VerifyChain(traces); err != nil {
		t.Fatalf("trace chain broken after full run: %v", err)
	}
}

func TestExecuteReasoningStopsAtTarget(t *testing.T) {
	exec, st := newTestExecutor(t, scriptedProvider())
	ws := mustCreate(t, exec)

	res, err := exec.ExecuteReasoning(context.Background(), testActor, ws.ID, StateContextIdentified)
	if err != nil {
		t.Fatalf("ExecuteReasoning: %v", err)
	}
	if res.ReachedState != StateContextIdentified {
		t.Fatalf("reached %s, want %s", res.ReachedState, StateContextIdentified)
	}
	cur, _ := st.GetWorkspace(context.Background(), testActor.TenantID, ws.ID)
	if cur.CurrentState != StateContextIdentified {
		t.Fatalf("persisted state %s, want %s", cur.CurrentState, StateContextIdentified)
	}
}

func TestInferenceTimeoutIsRecoverable(t *testing.T) {
	slow := providerFunc(func(ctx context.Context, in StepInput) (Proposal, error) {
		<-ctx.Done()
		return Proposal{}, ctx.Err()
	})
	exec, st := newTestExecutor(t, slow)
	exec.Timeout = 10 * time.Millisecond
	ws := mustCreate(t, exec)
	before := st.traceCount(ws.ID)

	_, err := exec.ExecuteNextStep(context.Background(), testActor, ws.ID)
	if !errors.Is(err, ErrInferenceTimeout) {
		t.Fatalf("want ErrInferenceTimeout, got %v", err)
	}
	cur, _ := st.GetWorkspace(context.Background(), testActor.TenantID, ws.ID)
	if cur.CurrentState != StateReceived {
		t.Fatalf("state changed to %s on timeout", cur.CurrentState)
	}
	if got := st.traceCount(ws.ID) - before; got != 1 {
		t.Fatalf("timeout recorded %d traces, want exactly 1", got)
	}
}

func TestExecuteNextStepUnknownWorkspace(t *testing.T) {
	exec, _ := newTestExecutor(t, emptyProvider())
	if _, err := exec.ExecuteNextStep(context.Background(), testActor, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestTenantIsolation(t *testing.T) {
	exec, _ := newTestExecutor(t, scriptedProvider())
	ws := mustCreate(t, exec)

	intruder := Actor{TenantID: "tenant-b", ActorID: "user-9"}
	if _, err := exec.ExecuteNextStep(context.Background(), intruder, ws.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant step: want ErrNotFound, got %v", err)
	}
	if _, err := exec.Validate(context.Background(), intruder, ws.ID, "mine now"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant validate: want ErrNotFound, got %v", err)
	}
}

// driveTo runs the scripted pipeline until the workspace sits in want.
func driveTo(t *testing.T, exec *Executor, wsID string, want State) {
	t.Helper()
	res, err := exec.ExecuteReasoning(context.Background(), testActor, wsID, want)
	if err != nil {
		t.Fatalf("driveTo %s: %v", want, err)
	}
	if res.ReachedState != want {
		t.Fatalf("driveTo: reached %s, want %s", res.ReachedState, want)
	}
}

func TestResolveMissingTriggersFastPath(t *testing.T) {
	blockingProvider := providerFunc(func(ctx context.Context, in StepInput) (Proposal, error) {
		if in.Target == StateMissingIdentified {
			return Proposal{
				GapAnalysisDone: true,
				Missing:         []MissingElement{{Kind: "DOCUMENT", Description: "signed mandate", Blocking: true}},
				Explanation:     "one blocking gap found",
			}, nil
		}
		p, _ := scriptedProvider().ProposeStep(ctx, in)
		return p, nil
	})
	exec, st := newTestExecutor(t, blockingProvider)
	ws := mustCreate(t, exec)
	driveTo(t, exec, ws.ID, StateMissingIdentified)

	// The blocking gap keeps the normal path shut.
	if _, err := exec.ExecuteNextStep(context.Background(), testActor, ws.ID); !errors.Is(err, ErrGuardUnsatisfied) {
		t.Fatalf("blocked workspace advanced: %v", err)
	}

	led, _ := st.GetLedger(context.Background(), testActor.TenantID, ws.ID)
	if len(led.Missing) != 1 {
		t.Fatalf("ledger has %d missing elements, want 1", len(led.Missing))
	}
	res, err := exec.ResolveMissing(context.Background(), testActor, ws.ID, led.Missing[0].ID, "mandate uploaded by client")
	if err != nil {
		t.Fatalf("ResolveMissing: %v", err)
	}
	if !res.FastPath || res.NewState != StateReadyForHuman {
		t.Fatalf("expected fast-path to READY_FOR_HUMAN, got %+v", res)
	}

	transitions, _ := st.ListTransitions(context.Background(), testActor.TenantID, ws.ID)
	last := transitions[len(transitions)-1]
	if last.FromState != StateMissingIdentified || last.ToState != StateReadyForHuman {
		t.Fatalf("fast-path transition %s -> %s", last.FromState, last.ToState)
	}
	if last.TriggeredBy != TriggeredBySystem {
		t.Fatalf("fast-path triggered by %q, want %q", last.TriggeredBy, TriggeredBySystem)
	}
}

func TestResolveMissingKeepsStateWhileGapsRemain(t *testing.T) {
	twoGaps := providerFunc(func(ctx context.Context, in StepInput) (Proposal, error) {
		if in.Target == StateMissingIdentified {
			return Proposal{
				GapAnalysisDone: true,
				Missing: []MissingElement{
					{Kind: "DOCUMENT", Description: "signed mandate", Blocking: true},
					{Kind: "INFO", Description: "opposing counsel identity", Blocking: true},
				},
				Explanation: "two blocking gaps",
			}, nil
		}
		p, _ := scriptedProvider().ProposeStep(ctx, in)
		return p, nil
	})
	exec, st := newTestExecutor(t, twoGaps)
	ws := mustCreate(t, exec)
	driveTo(t, exec, ws.ID, StateMissingIdentified)

	led, _ := st.GetLedger(context.Background(), testActor.TenantID, ws.ID)
	res, err := exec.ResolveMissing(context.Background(), testActor, ws.ID, led.Missing[0].ID, "received")
	if err != nil {
		t.Fatalf("ResolveMissing: %v", err)
	}
	if res.FastPath || res.NewState != StateMissingIdentified {
		t.Fatalf("fast-path fired with a gap remaining: %+v", res)
	}
}

func TestLateBlockingGapStopsHandoff(t *testing.T) {
	// The gap analysis found nothing, but inference surfaces a blocking gap
	// while drafting the action. The workspace must not reach READY_FOR_HUMAN
	// until that gap is resolved.
	lateGap := providerFunc(func(ctx context.Context, in StepInput) (Proposal, error) {
		if in.Target == StateActionProposed {
			return Proposal{
				Actions:     []ProposedAction{{Content: "draft response letter", Kind: "DRAFT"}},
				Missing:     []MissingElement{{Kind: "DOCUMENT", Description: "signed mandate", Blocking: true}},
				Explanation: "action drafted, mandate still needed",
			}, nil
		}
		p, _ := scriptedProvider().ProposeStep(ctx, in)
		return p, nil
	})
	exec, st := newTestExecutor(t, lateGap)
	ws := mustCreate(t, exec)

	res, err := exec.ExecuteFullReasoning(context.Background(), testActor, ws.ID)
	if err != nil {
		t.Fatalf("ExecuteFullReasoning: %v", err)
	}
	if !res.Blocked {
		t.Fatal("run with an unresolved blocking gap did not block")
	}
	if res.ReachedState != StateActionProposed {
		t.Fatalf("reached %s, want %s", res.ReachedState, StateActionProposed)
	}
	cur, _ := st.GetWorkspace(context.Background(), testActor.TenantID, ws.ID)
	if cur.CurrentState == StateReadyForHuman {
		t.Fatal("workspace handed off with a blocking gap open")
	}

	// Resolving the gap reopens the normal path to the terminal state.
	led, _ := st.GetLedger(context.Background(), testActor.TenantID, ws.ID)
	if n := led.BlockingUnresolved(); n != 1 {
		t.Fatalf("blocking unresolved %d, want 1", n)
	}
	if _, err := exec.ResolveMissing(context.Background(), testActor, ws.ID, led.Missing[0].ID, "mandate uploaded"); err != nil {
		t.Fatalf("ResolveMissing: %v", err)
	}
	step, err := exec.ExecuteNextStep(context.Background(), testActor, ws.ID)
	if err != nil {
		t.Fatalf("step after resolution: %v", err)
	}
	if step.NewState != StateReadyForHuman {
		t.Fatalf("reached %s after resolution, want %s", step.NewState, StateReadyForHuman)
	}
}

func TestResolveMissingUnknownElement(t *testing.T) {
	exec, _ := newTestExecutor(t, scriptedProvider())
	ws := mustCreate(t, exec)
	if _, err := exec.ResolveMissing(context.Background(), testActor, ws.ID, "ghost", "n/a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestContextConfirmAndReject(t *testing.T) {
	exec, st := newTestExecutor(t, scriptedProvider())
	ws := mustCreate(t, exec)
	driveTo(t, exec, ws.ID, StateContextIdentified)

	led, _ := st.GetLedger(context.Background(), testActor.TenantID, ws.ID)
	hyp, err := exec.ConfirmContext(context.Background(), testActor, ws.ID, led.Contexts[0].ID)
	if err != nil {
		t.Fatalf("ConfirmContext: %v", err)
	}
	if hyp.CertaintyLevel != CertaintyConfirmed {
		t.Fatalf("certainty %s, want %s", hyp.CertaintyLevel, CertaintyConfirmed)
	}

	if err := exec.RejectContext(context.Background(), testActor, ws.ID, hyp.ID); err != nil {
		t.Fatalf("RejectContext: %v", err)
	}
	led, _ = st.GetLedger(context.Background(), testActor.TenantID, ws.ID)
	if len(led.Contexts) != 0 {
		t.Fatalf("rejected hypothesis still in ledger")
	}
	// The trace is now the only record of the deleted hypothesis.
	traces, _ := st.ListTraces(context.Background(), testActor.TenantID, ws.ID)
	last := traces[len(traces)-1]
	if last.Step != StepContextRejected {
		t.Fatalf("last trace step %s, want %s", last.Step, StepContextRejected)
	}
	if last.Metadata.Context == nil || last.Metadata.Context.Hypothesis.Description != "commercial lease dispute" {
		t.Fatal("rejection trace does not carry the deleted hypothesis")
	}
}

func TestValidateLifecycle(t *testing.T) {
	exec, st := newTestExecutor(t, scriptedProvider())
	ws := mustCreate(t, exec)

	if _, err := exec.Validate(context.Background(), testActor, ws.ID, "too early"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("premature validate: want ErrNotReady, got %v", err)
	}

	driveTo(t, exec, ws.ID, StateReadyForHuman)
	locked, err := exec.Validate(context.Background(), testActor, ws.ID, "reviewed, ok to send")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !locked.Locked || locked.ValidatedBy != testActor.ActorID || locked.ValidatedAt == nil {
		t.Fatalf("lock fields not set: %+v", locked)
	}

	traces, _ := st.ListTraces(context.Background(), testActor.TenantID, ws.ID)
	last := traces[len(traces)-1]
	if last.Step != StepWorkspaceValidated || last.Metadata.Validation == nil {
		t.Fatal("validation trace missing executive summary")
	}
	if last.Metadata.Validation.Facts != 1 || last.Metadata.Validation.Risks != 1 {
		t.Fatalf("summary counts wrong: %+v", last.Metadata.Validation)
	}

	if _, err := exec.Validate(context.Background(), testActor, ws.ID, "again"); !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("second validate: want ErrAlreadyLocked, got %v", err)
	}
}

func TestLockedWorkspaceRejectsAllMutation(t *testing.T) {
	exec, _ := newTestExecutor(t, scriptedProvider())
	ws := mustCreate(t, exec)
	driveTo(t, exec, ws.ID, StateReadyForHuman)
	if _, err := exec.Validate(context.Background(), testActor, ws.ID, "done"); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if _, err := exec.ExecuteNextStep(context.Background(), testActor, ws.ID); !errors.Is(err, ErrLocked) {
		t.Fatalf("step on locked: want ErrLocked, got %v", err)
	}
	if _, err := exec.ResolveMissing(context.Background(), testActor, ws.ID, "any", "x"); !errors.Is(err, ErrLocked) {
		t.Fatalf("resolve on locked: want ErrLocked, got %v", err)
	}
	if _, err := exec.ConfirmContext(context.Background(), testActor, ws.ID, "any"); !errors.Is(err, ErrLocked) {
		t.Fatalf("confirm on locked: want ErrLocked, got %v", err)
	}
	if err := exec.RejectContext(context.Background(), testActor, ws.ID, "any"); !errors.Is(err, ErrLocked) {
		t.Fatalf("reject on locked: want ErrLocked, got %v", err)
	}
}

func TestTerminalStateHasNoAutomatedStep(t *testing.T) {
	exec, _ := newTestExecutor(t, scriptedProvider())
	ws := mustCreate(t, exec)
	driveTo(t, exec, ws.ID, StateReadyForHuman)

	if _, err := exec.ExecuteNextStep(context.Background(), testActor, ws.ID); !errors.Is(err, ErrTerminal) {
		t.Fatalf("want ErrTerminal, got %v", err)
	}
}

func TestExecuteFullReasoningReportsBlock(t *testing.T) {
	exec, _ := newTestExecutor(t, emptyProvider())
	ws := mustCreate(t, exec)

	res, err := exec.ExecuteFullReasoning(context.Background(), testActor, ws.ID)
	if err != nil {
		t.Fatalf("blocked run should not error: %v", err)
	}
	if !res.Blocked || res.ReachedState != StateReceived {
		t.Fatalf("unexpected run result: %+v", res)
	}
}

func TestExecuteAction(t *testing.T) {
	exec, st := newTestExecutor(t, scriptedProvider())
	ws := mustCreate(t, exec)
	driveTo(t, exec, ws.ID, StateActionProposed)

	led, _ := st.GetLedger(context.Background(), testActor.TenantID, ws.ID)
	act, err := exec.ExecuteAction(context.Background(), testActor, ws.ID, led.Actions[0].ID, "letter sent")
	if err != nil {
		t.Fatalf("ExecuteAction: %v", err)
	}
	if !act.Executed || act.ExecutedBy != testActor.ActorID {
		t.Fatalf("action not marked executed: %+v", act)
	}
	cur, _ := st.GetWorkspace(context.Background(), testActor.TenantID, ws.ID)
	if cur.CurrentState != StateActionProposed {
		t.Fatalf("action execution moved state to %s", cur.CurrentState)
	}
}
