package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/maitre-labs/raison/internal/reasoning"
)

// tenantGate joins the owning workspace so child reads and writes can never
// cross the tenant boundary or see soft-deleted workspaces.
const tenantGate = `workspace_id IN (SELECT id FROM workspaces WHERE id=$1 AND tenant_id=$2 AND deleted_at IS NULL)`

// GetLedger loads every child collection for one workspace, insertion order.
func (s *Store) GetLedger(ctx context.Context, tenantID, workspaceID string) (reasoning.Ledger, error) {
	var led reasoning.Ledger
	if err := s.loadFacts(ctx, tenantID, workspaceID, &led); err != nil {
		return led, err
	}
	if err := s.loadContexts(ctx, tenantID, workspaceID, &led); err != nil {
		return led, err
	}
	if err := s.loadObligations(ctx, tenantID, workspaceID, &led); err != nil {
		return led, err
	}
	if err := s.loadMissing(ctx, tenantID, workspaceID, &led); err != nil {
		return led, err
	}
	if err := s.loadRisks(ctx, tenantID, workspaceID, &led); err != nil {
		return led, err
	}
	return led, s.loadActions(ctx, tenantID, workspaceID, &led)
}

func (s *Store) loadFacts(ctx context.Context, tenantID, workspaceID string, led *reasoning.Ledger) error {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, workspace_id, fact_text, confidence, source_ref, supersedes, created_at FROM facts
WHERE `+tenantGate+` ORDER BY created_at, id
`, workspaceID, tenantID)
	if err != nil {
		return fmt.Errorf("load facts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f reasoning.Fact
		var sourceRef, supersedes sql.NullString
		if err := rows.Scan(&f.ID, &f.WorkspaceID, &f.Text, &f.Confidence, &sourceRef, &supersedes, &f.CreatedAt); err != nil {
			return err
		}
		f.SourceRef = sourceRef.String
		f.Supersedes = supersedes.String
		led.Facts = append(led.Facts, f)
	}
	return rows.Err()
}

func (s *Store) loadContexts(ctx context.Context, tenantID, workspaceID string, led *reasoning.Ledger) error {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, workspace_id, description, certainty_level, created_at, updated_at FROM context_hypotheses
WHERE `+tenantGate+` ORDER BY created_at, id
`, workspaceID, tenantID)
	if err != nil {
		return fmt.Errorf("load contexts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c reasoning.ContextHypothesis
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.Description, &c.CertaintyLevel, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return err
		}
		led.Contexts = append(led.Contexts, c)
	}
	return rows.Err()
}

func (s *Store) loadObligations(ctx context.Context, tenantID, workspaceID string, led *reasoning.Ledger) error {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, workspace_id, description, deadline, depends_on_facts, depends_on_contexts, created_at FROM obligations
WHERE `+tenantGate+` ORDER BY created_at, id
`, workspaceID, tenantID)
	if err != nil {
		return fmt.Errorf("load obligations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var o reasoning.Obligation
		var deadline sql.NullTime
		var facts, contexts pq.StringArray
		if err := rows.Scan(&o.ID, &o.WorkspaceID, &o.Description, &deadline, &facts, &contexts, &o.CreatedAt); err != nil {
			return err
		}
		if deadline.Valid {
			t := deadline.Time
			o.Deadline = &t
		}
		o.DependsOnFacts = []string(facts)
		o.DependsOnContexts = []string(contexts)
		led.Obligations = append(led.Obligations, o)
	}
	return rows.Err()
}

func (s *Store) loadMissing(ctx context.Context, tenantID, workspaceID string, led *reasoning.Ledger) error {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, workspace_id, kind, description, blocking, resolved, resolved_by, resolved_at, resolution, created_at FROM missing_elements
WHERE `+tenantGate+` ORDER BY created_at, id
`, workspaceID, tenantID)
	if err != nil {
		return fmt.Errorf("load missing elements: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMissing(rows)
		if err != nil {
			return err
		}
		led.Missing = append(led.Missing, m)
	}
	return rows.Err()
}

func scanMissing(row interface {
	Scan(dest ...interface{}) error
}) (reasoning.MissingElement, error) {
	var m reasoning.MissingElement
	var resolvedBy, resolution sql.NullString
	var resolvedAt sql.NullTime
	err := row.Scan(&m.ID, &m.WorkspaceID, &m.Kind, &m.Description, &m.Blocking, &m.Resolved, &resolvedBy, &resolvedAt, &resolution, &m.CreatedAt)
	if err != nil {
		return m, err
	}
	m.ResolvedBy = resolvedBy.String
	m.Resolution = resolution.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		m.ResolvedAt = &t
	}
	return m, nil
}

func (s *Store) loadRisks(ctx context.Context, tenantID, workspaceID string, led *reasoning.Ledger) error {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, workspace_id, description, risk_score, created_at FROM risks
WHERE `+tenantGate+` ORDER BY risk_score DESC, created_at
`, workspaceID, tenantID)
	if err != nil {
		return fmt.Errorf("load risks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r reasoning.Risk
		if err := rows.Scan(&r.ID, &r.WorkspaceID, &r.Description, &r.RiskScore, &r.CreatedAt); err != nil {
			return err
		}
		led.Risks = append(led.Risks, r)
	}
	return rows.Err()
}

func (s *Store) loadActions(ctx context.Context, tenantID, workspaceID string, led *reasoning.Ledger) error {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, workspace_id, content, kind, executed, executed_by, executed_at, result, created_at FROM proposed_actions
WHERE `+tenantGate+` ORDER BY created_at, id
`, workspaceID, tenantID)
	if err != nil {
		return fmt.Errorf("load actions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a reasoning.ProposedAction
		var executedBy, result sql.NullString
		var executedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.WorkspaceID, &a.Content, &a.Kind, &a.Executed, &executedBy, &executedAt, &result, &a.CreatedAt); err != nil {
			return err
		}
		a.ExecutedBy = executedBy.String
		a.Result = result.String
		if executedAt.Valid {
			t := executedAt.Time
			a.ExecutedAt = &t
		}
		led.Actions = append(led.Actions, a)
	}
	return rows.Err()
}

func insertLedgerEntries(ctx context.Context, tx *sql.Tx, c reasoning.StepCommit) error {
	for _, f := range c.Facts {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO facts (id, workspace_id, fact_text, confidence, source_ref, supersedes, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, f.ID, f.WorkspaceID, f.Text, f.Confidence, nullableString(f.SourceRef), nullableString(f.Supersedes), f.CreatedAt); err != nil {
			return fmt.Errorf("insert fact: %w", err)
		}
	}
	for _, h := range c.Contexts {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO context_hypotheses (id, workspace_id, description, certainty_level, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$5)
`, h.ID, h.WorkspaceID, h.Description, h.CertaintyLevel, h.CreatedAt); err != nil {
			return fmt.Errorf("insert context: %w", err)
		}
	}
	for _, o := range c.Obligations {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO obligations (id, workspace_id, description, deadline, depends_on_facts, depends_on_contexts, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, o.ID, o.WorkspaceID, o.Description, o.Deadline, pq.Array(o.DependsOnFacts), pq.Array(o.DependsOnContexts), o.CreatedAt); err != nil {
			return fmt.Errorf("insert obligation: %w", err)
		}
	}
	for _, m := range c.Missing {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO missing_elements (id, workspace_id, kind, description, blocking, resolved, created_at)
VALUES ($1,$2,$3,$4,$5,FALSE,$6)
`, m.ID, m.WorkspaceID, m.Kind, m.Description, m.Blocking, m.CreatedAt); err != nil {
			return fmt.Errorf("insert missing element: %w", err)
		}
	}
	for _, r := range c.Risks {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO risks (id, workspace_id, description, risk_score, created_at)
VALUES ($1,$2,$3,$4,$5)
`, r.ID, r.WorkspaceID, r.Description, r.RiskScore, r.CreatedAt); err != nil {
			return fmt.Errorf("insert risk: %w", err)
		}
	}
	for _, a := range c.Actions {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO proposed_actions (id, workspace_id, content, kind, executed, created_at)
VALUES ($1,$2,$3,$4,FALSE,$5)
`, a.ID, a.WorkspaceID, a.Content, a.Kind, a.CreatedAt); err != nil {
			return fmt.Errorf("insert action: %w", err)
		}
	}
	return nil
}

// ResolveMissing marks one element resolved. The element must belong to the
// workspace and the workspace to the tenant; otherwise ErrNotFound.
func (s *Store) ResolveMissing(ctx context.Context, tenantID, workspaceID, elementID, resolvedBy, resolution string) (reasoning.MissingElement, error) {
	row := s.DB.QueryRowContext(ctx, `
UPDATE missing_elements SET resolved=TRUE, resolved_by=$3, resolution=$4, resolved_at=NOW()
WHERE id=$5 AND resolved=FALSE AND `+tenantGate+`
RETURNING id, workspace_id, kind, description, blocking, resolved, resolved_by, resolved_at, resolution, created_at
`, workspaceID, tenantID, resolvedBy, resolution, elementID)
	m, err := scanMissing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reasoning.MissingElement{}, fmt.Errorf("missing element %s: %w", elementID, reasoning.ErrNotFound)
	}
	if err != nil {
		return reasoning.MissingElement{}, fmt.Errorf("resolve missing element: %w", err)
	}
	return m, nil
}

// SetContextCertainty updates the certainty of one hypothesis.
func (s *Store) SetContextCertainty(ctx context.Context, tenantID, workspaceID, contextID, level string) (reasoning.ContextHypothesis, error) {
	row := s.DB.QueryRowContext(ctx, `
UPDATE context_hypotheses SET certainty_level=$3, updated_at=NOW()
WHERE id=$4 AND `+tenantGate+`
RETURNING id, workspace_id, description, certainty_level, created_at, updated_at
`, workspaceID, tenantID, level, contextID)
	var c reasoning.ContextHypothesis
	err := row.Scan(&c.ID, &c.WorkspaceID, &c.Description, &c.CertaintyLevel, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return reasoning.ContextHypothesis{}, fmt.Errorf("context %s: %w", contextID, reasoning.ErrNotFound)
	}
	if err != nil {
		return reasoning.ContextHypothesis{}, fmt.Errorf("set context certainty: %w", err)
	}
	return c, nil
}

// DeleteContext removes the hypothesis row and returns the deleted content.
// The caller is responsible for preserving it in the trace; this is the one
// ledger entity that is not append-only.
func (s *Store) DeleteContext(ctx context.Context, tenantID, workspaceID, contextID string) (reasoning.ContextHypothesis, error) {
	row := s.DB.QueryRowContext(ctx, `
DELETE FROM context_hypotheses WHERE id=$3 AND `+tenantGate+`
RETURNING id, workspace_id, description, certainty_level, created_at, updated_at
`, workspaceID, tenantID, contextID)
	var c reasoning.ContextHypothesis
	err := row.Scan(&c.ID, &c.WorkspaceID, &c.Description, &c.CertaintyLevel, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return reasoning.ContextHypothesis{}, fmt.Errorf("context %s: %w", contextID, reasoning.ErrNotFound)
	}
	if err != nil {
		return reasoning.ContextHypothesis{}, fmt.Errorf("delete context: %w", err)
	}
	return c, nil
}

// MarkActionExecuted flags a proposed action as carried out.
func (s *Store) MarkActionExecuted(ctx context.Context, tenantID, workspaceID, actionID, executedBy, result string) (reasoning.ProposedAction, error) {
	row := s.DB.QueryRowContext(ctx, `
UPDATE proposed_actions SET executed=TRUE, executed_by=$3, result=$4, executed_at=NOW()
WHERE id=$5 AND executed=FALSE AND `+tenantGate+`
RETURNING id, workspace_id, content, kind, executed, executed_by, executed_at, result, created_at
`, workspaceID, tenantID, executedBy, result, actionID)
	var a reasoning.ProposedAction
	var executedByVal, resultVal sql.NullString
	var executedAt sql.NullTime
	err := row.Scan(&a.ID, &a.WorkspaceID, &a.Content, &a.Kind, &a.Executed, &executedByVal, &executedAt, &resultVal, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return reasoning.ProposedAction{}, fmt.Errorf("action %s: %w", actionID, reasoning.ErrNotFound)
	}
	if err != nil {
		return reasoning.ProposedAction{}, fmt.Errorf("mark action executed: %w", err)
	}
	a.ExecutedBy = executedByVal.String
	a.Result = resultVal.String
	if executedAt.Valid {
		t := executedAt.Time
		a.ExecutedAt = &t
	}
	return a, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
