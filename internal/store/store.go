package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/maitre-labs/raison/internal/reasoning"
)

// Store is the Postgres-backed persistence collaborator. Every query is
// scoped by tenant_id and filters soft-deleted workspaces; a workspace
// outside the caller's tenant behaves exactly like an absent one.
type Store struct {
	DB *sql.DB
}

// New constructs the Store from DATABASE_URL or POSTGRES_* env vars.
func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// User operations (auth layer).

func (s *Store) CreateUser(ctx context.Context, tenantID, email, hash string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `INSERT INTO users (tenant_id, email, password_hash) VALUES ($1,$2,$3) RETURNING id`, tenantID, email, hash).Scan(&id)
	return id, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id, tenantID, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, tenant_id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &tenantID, &hash)
	return
}

const workspaceColumns = `id, tenant_id, title, current_state, uncertainty_level, reasoning_quality, locked,
no_obligations, gap_analysis_done, no_risk, no_action_needed, version, state_changed_at, created_at, updated_at,
validated_by, validated_at, validation_note, completed_at, deleted_at`

func scanWorkspace(row interface {
	Scan(dest ...interface{}) error
}) (reasoning.Workspace, error) {
	var ws reasoning.Workspace
	var validatedBy, validationNote sql.NullString
	var validatedAt, completedAt, deletedAt sql.NullTime
	err := row.Scan(&ws.ID, &ws.TenantID, &ws.Title, &ws.CurrentState, &ws.UncertaintyLevel, &ws.ReasoningQuality, &ws.Locked,
		&ws.NoObligations, &ws.GapAnalysisDone, &ws.NoRisk, &ws.NoActionNeeded, &ws.Version, &ws.StateChangedAt, &ws.CreatedAt, &ws.UpdatedAt,
		&validatedBy, &validatedAt, &validationNote, &completedAt, &deletedAt)
	if err != nil {
		return ws, err
	}
	ws.ValidatedBy = validatedBy.String
	ws.ValidationNote = validationNote.String
	if validatedAt.Valid {
		t := validatedAt.Time
		ws.ValidatedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		ws.CompletedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		ws.DeletedAt = &t
	}
	return ws, nil
}

// CreateWorkspace inserts the workspace and its intake trace in one tx.
func (s *Store) CreateWorkspace(ctx context.Context, ws reasoning.Workspace, intake reasoning.ReasoningTrace) (reasoning.Workspace, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return reasoning.Workspace{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO workspaces (id, tenant_id, title, current_state, uncertainty_level, reasoning_quality, locked,
no_obligations, gap_analysis_done, no_risk, no_action_needed, version, state_changed_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,FALSE,FALSE,FALSE,FALSE,FALSE,$7,$8,$8,$8)
`, ws.ID, ws.TenantID, ws.Title, ws.CurrentState, ws.UncertaintyLevel, ws.ReasoningQuality, ws.Version, ws.CreatedAt)
	if err != nil {
		return reasoning.Workspace{}, fmt.Errorf("insert workspace: %w", err)
	}
	if _, err := insertTrace(ctx, tx, intake); err != nil {
		return reasoning.Workspace{}, err
	}
	if err := tx.Commit(); err != nil {
		return reasoning.Workspace{}, err
	}
	ws.StateChangedAt = ws.CreatedAt
	ws.UpdatedAt = ws.CreatedAt
	return ws, nil
}

// GetWorkspace returns ErrNotFound for absent, soft-deleted or cross-tenant
// workspaces alike.
func (s *Store) GetWorkspace(ctx context.Context, tenantID, id string) (reasoning.Workspace, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT `+workspaceColumns+` FROM workspaces WHERE id=$1 AND tenant_id=$2 AND deleted_at IS NULL
`, id, tenantID)
	ws, err := scanWorkspace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reasoning.Workspace{}, fmt.Errorf("workspace %s: %w", id, reasoning.ErrNotFound)
	}
	return ws, err
}

func (s *Store) ListWorkspaces(ctx context.Context, tenantID string) ([]reasoning.Workspace, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT `+workspaceColumns+` FROM workspaces WHERE tenant_id=$1 AND deleted_at IS NULL ORDER BY created_at DESC
`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []reasoning.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

// SoftDeleteWorkspace flags the workspace; nothing is ever hard-deleted.
func (s *Store) SoftDeleteWorkspace(ctx context.Context, tenantID, id string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE workspaces SET deleted_at=NOW(), updated_at=NOW() WHERE id=$1 AND tenant_id=$2 AND deleted_at IS NULL
`, id, tenantID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("workspace %s: %w", id, reasoning.ErrNotFound)
	}
	return nil
}

// CommitStep applies one successful step atomically: the conditional
// workspace update (optimistic version check, the per-workspace serialization
// point), ledger inserts, one transition and one chained trace. A rejected
// transition shape is a protocol violation and fails before any write.
func (s *Store) CommitStep(ctx context.Context, tenantID string, c reasoning.StepCommit) error {
	if !reasoning.AllowedTransition(c.Transition.FromState, c.Transition.ToState) {
		return fmt.Errorf("transition %s -> %s not permitted", c.Transition.FromState, c.Transition.ToState)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
UPDATE workspaces SET current_state=$1, uncertainty_level=$2, reasoning_quality=$3,
no_obligations=$4, gap_analysis_done=$5, no_risk=$6, no_action_needed=$7,
version=version+1, state_changed_at=NOW(), updated_at=NOW()
WHERE id=$8 AND tenant_id=$9 AND version=$10 AND locked=FALSE AND deleted_at IS NULL
`, c.NewState, c.UncertaintyLevel, c.ReasoningQuality,
		c.NoObligations, c.GapAnalysisDone, c.NoRisk, c.NoActionNeeded,
		c.WorkspaceID, tenantID, c.ExpectedVersion)
	if err != nil {
		return fmt.Errorf("update workspace: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return classifyUpdateFailure(ctx, tx, tenantID, c.WorkspaceID)
	}

	if err := insertLedgerEntries(ctx, tx, c); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO reasoning_transitions (id, workspace_id, from_state, to_state, triggered_by, reason, triggered_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, c.Transition.ID, c.Transition.WorkspaceID, c.Transition.FromState, c.Transition.ToState, c.Transition.TriggeredBy, c.Transition.Reason, c.Transition.TriggeredAt); err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	if _, err := insertTrace(ctx, tx, c.Trace); err != nil {
		return err
	}
	return tx.Commit()
}

// LockWorkspace freezes the workspace and appends the validation trace.
func (s *Store) LockWorkspace(ctx context.Context, tenantID string, req reasoning.LockRequest) (reasoning.Workspace, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return reasoning.Workspace{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
UPDATE workspaces SET locked=TRUE, validated_by=$1, validation_note=$2, validated_at=NOW(), completed_at=NOW(),
version=version+1, updated_at=NOW()
WHERE id=$3 AND tenant_id=$4 AND version=$5 AND locked=FALSE AND deleted_at IS NULL
`, req.ValidatedBy, req.ValidationNote, req.WorkspaceID, tenantID, req.ExpectedVersion)
	if err != nil {
		return reasoning.Workspace{}, fmt.Errorf("lock workspace: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return reasoning.Workspace{}, classifyLockFailure(ctx, tx, tenantID, req.WorkspaceID)
	}
	if _, err := insertTrace(ctx, tx, req.Trace); err != nil {
		return reasoning.Workspace{}, err
	}
	row := tx.QueryRowContext(ctx, `
SELECT `+workspaceColumns+` FROM workspaces WHERE id=$1 AND tenant_id=$2
`, req.WorkspaceID, tenantID)
	ws, err := scanWorkspace(row)
	if err != nil {
		return reasoning.Workspace{}, err
	}
	if err := tx.Commit(); err != nil {
		return reasoning.Workspace{}, err
	}
	return ws, nil
}

// ListStalled feeds the watchdog: unlocked, non-deleted workspaces whose
// state has not changed since changedBefore. Spans tenants.
func (s *Store) ListStalled(ctx context.Context, changedBefore time.Time) ([]reasoning.StalledWorkspace, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, tenant_id, current_state, state_changed_at FROM workspaces
WHERE locked=FALSE AND deleted_at IS NULL AND state_changed_at < $1
ORDER BY state_changed_at ASC
`, changedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []reasoning.StalledWorkspace
	for rows.Next() {
		var w reasoning.StalledWorkspace
		if err := rows.Scan(&w.ID, &w.TenantID, &w.CurrentState, &w.StateChangedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// classifyUpdateFailure decides why a conditional workspace update matched
// nothing, mapping to the precise error kind.
func classifyUpdateFailure(ctx context.Context, tx *sql.Tx, tenantID, workspaceID string) error {
	var locked bool
	err := tx.QueryRowContext(ctx, `SELECT locked FROM workspaces WHERE id=$1 AND tenant_id=$2 AND deleted_at IS NULL`, workspaceID, tenantID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("workspace %s: %w", workspaceID, reasoning.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if locked {
		return fmt.Errorf("workspace %s: %w", workspaceID, reasoning.ErrLocked)
	}
	return fmt.Errorf("workspace %s: %w", workspaceID, reasoning.ErrConflict)
}

func classifyLockFailure(ctx context.Context, tx *sql.Tx, tenantID, workspaceID string) error {
	var locked bool
	err := tx.QueryRowContext(ctx, `SELECT locked FROM workspaces WHERE id=$1 AND tenant_id=$2 AND deleted_at IS NULL`, workspaceID, tenantID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("workspace %s: %w", workspaceID, reasoning.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if locked {
		return fmt.Errorf("workspace %s: %w", workspaceID, reasoning.ErrAlreadyLocked)
	}
	return fmt.Errorf("workspace %s: %w", workspaceID, reasoning.ErrConflict)
}
