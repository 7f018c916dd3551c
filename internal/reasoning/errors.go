package reasoning

import "errors"

// Error kinds surfaced across the component boundary. The API layer maps
// these to HTTP statuses; the core only defines the kind. Guard failures and
// inference timeouts are recoverable: the workspace is left untouched and a
// trace entry records the failure.
var (
	// ErrNotFound: workspace or child entity absent (or soft-deleted, or
	// outside the caller's tenant; existence is never leaked).
	ErrNotFound = errors.New("not found")

	// ErrTenantIsolation: a cross-tenant access slipped past the scoped
	// store query. Defense in depth; should not happen in practice.
	ErrTenantIsolation = errors.New("tenant isolation violation")

	// ErrLocked: mutation attempted on a validated workspace.
	ErrLocked = errors.New("workspace is locked")

	// ErrGuardUnsatisfied: the transition guard is not met. Retryable once
	// the ledger changes.
	ErrGuardUnsatisfied = errors.New("transition guard unsatisfied")

	// ErrInferenceTimeout: the bounded inference call exceeded its budget.
	ErrInferenceTimeout = errors.New("inference timed out")

	// ErrAlreadyLocked: Validate called on an already-validated workspace.
	ErrAlreadyLocked = errors.New("workspace already validated")

	// ErrNotReady: validation preconditions unmet.
	ErrNotReady = errors.New("workspace not ready for validation")

	// ErrTerminal: no automated transition exists out of READY_FOR_HUMAN.
	ErrTerminal = errors.New("workspace is in terminal state")

	// ErrConflict: the optimistic version check failed; another operation
	// committed first. Retryable.
	ErrConflict = errors.New("concurrent modification conflict")
)
