package server

import "github.com/maitre-labs/raison/internal/audit"

// Request/response payloads for the HTTP API.

type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TenantID string `json:"tenant_id,omitempty"` // empty = provision a new tenant
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type CreateWorkspaceRequest struct {
	Title  string `json:"title"`
	Intake string `json:"intake"`
}

type RunRequest struct {
	TargetState string `json:"target_state,omitempty"` // empty = full reasoning
}

type ResolveMissingRequest struct {
	Resolution string `json:"resolution"`
}

type ExecuteActionRequest struct {
	Result string `json:"result,omitempty"`
}

type ValidateRequest struct {
	Note string `json:"note,omitempty"`
}

type SearchResponse struct {
	Query string      `json:"query"`
	Hits  []audit.Hit `json:"hits"`
}

// HTTPError documents the error body shape.
type HTTPError struct {
	Error string `json:"error"`
}
