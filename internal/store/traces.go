package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/maitre-labs/raison/internal/reasoning"
)

// lastTraceHash reads the tail of the per-workspace chain inside the caller's
// transaction. Returns the genesis marker for an empty chain.
func lastTraceHash(ctx context.Context, tx *sql.Tx, workspaceID string) (string, error) {
	var h string
	err := tx.QueryRowContext(ctx, `SELECT entry_hash FROM reasoning_traces WHERE workspace_id=$1 ORDER BY seq DESC LIMIT 1`, workspaceID).Scan(&h)
	if errors.Is(err, sql.ErrNoRows) {
		return reasoning.GenesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("read chain tail: %w", err)
	}
	return h, nil
}

// insertTrace links the entry into the chain and inserts it. Trace rows are
// insert-only; no code path updates or deletes them. CreatedAt is truncated
// to microseconds first: TIMESTAMPTZ keeps microsecond precision, and the
// hash must cover exactly the value the row will read back as, or every
// chain verification against stored rows fails.
func insertTrace(ctx context.Context, tx *sql.Tx, tr reasoning.ReasoningTrace) (reasoning.ReasoningTrace, error) {
	tr.CreatedAt = tr.CreatedAt.UTC().Truncate(time.Microsecond)
	prev, err := lastTraceHash(ctx, tx, tr.WorkspaceID)
	if err != nil {
		return reasoning.ReasoningTrace{}, err
	}
	tr.PrevHash = prev
	tr.EntryHash = reasoning.ChainHash(prev, tr)
	meta, err := json.Marshal(tr.Metadata)
	if err != nil {
		return reasoning.ReasoningTrace{}, fmt.Errorf("marshal trace metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO reasoning_traces (id, workspace_id, step, explanation, metadata, created_by, prev_hash, entry_hash, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, tr.ID, tr.WorkspaceID, tr.Step, tr.Explanation, meta, tr.CreatedBy, tr.PrevHash, tr.EntryHash, tr.CreatedAt); err != nil {
		return reasoning.ReasoningTrace{}, fmt.Errorf("insert trace: %w", err)
	}
	return tr, nil
}

// AppendTrace records a standalone entry. The workspace row is locked for the
// duration so concurrent appends serialize and the chain stays linear.
func (s *Store) AppendTrace(ctx context.Context, tenantID string, tr reasoning.ReasoningTrace) (reasoning.ReasoningTrace, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return reasoning.ReasoningTrace{}, err
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM workspaces WHERE id=$1 AND tenant_id=$2 AND deleted_at IS NULL FOR UPDATE`, tr.WorkspaceID, tenantID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return reasoning.ReasoningTrace{}, fmt.Errorf("workspace %s: %w", tr.WorkspaceID, reasoning.ErrNotFound)
	}
	if err != nil {
		return reasoning.ReasoningTrace{}, err
	}
	stored, err := insertTrace(ctx, tx, tr)
	if err != nil {
		return reasoning.ReasoningTrace{}, err
	}
	if err := tx.Commit(); err != nil {
		return reasoning.ReasoningTrace{}, err
	}
	return stored, nil
}

// ListTraces returns the full trail in insertion order.
func (s *Store) ListTraces(ctx context.Context, tenantID, workspaceID string) ([]reasoning.ReasoningTrace, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, workspace_id, step, explanation, metadata, created_by, prev_hash, entry_hash, created_at FROM reasoning_traces
WHERE `+tenantGate+` ORDER BY seq ASC
`, workspaceID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []reasoning.ReasoningTrace
	for rows.Next() {
		var tr reasoning.ReasoningTrace
		var meta []byte
		if err := rows.Scan(&tr.ID, &tr.WorkspaceID, &tr.Step, &tr.Explanation, &meta, &tr.CreatedBy, &tr.PrevHash, &tr.EntryHash, &tr.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &tr.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal trace metadata: %w", err)
			}
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// ListTransitions returns the transition history in trigger order.
func (s *Store) ListTransitions(ctx context.Context, tenantID, workspaceID string) ([]reasoning.ReasoningTransition, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, workspace_id, from_state, to_state, triggered_by, reason, triggered_at FROM reasoning_transitions
WHERE `+tenantGate+` ORDER BY seq ASC
`, workspaceID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []reasoning.ReasoningTransition
	for rows.Next() {
		var tr reasoning.ReasoningTransition
		if err := rows.Scan(&tr.ID, &tr.WorkspaceID, &tr.FromState, &tr.ToState, &tr.TriggeredBy, &tr.Reason, &tr.TriggeredAt); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}
