package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/maitre-labs/raison/internal/reasoning"
)

// toHTTPError maps core error kinds to transport statuses. Tenant isolation
// deliberately maps to 404 so a cross-tenant caller cannot distinguish "not
// yours" from "does not exist".
func toHTTPError(err error) *echo.HTTPError {
	var code int
	switch {
	case errors.Is(err, reasoning.ErrNotFound),
		errors.Is(err, reasoning.ErrTenantIsolation):
		code = http.StatusNotFound
	case errors.Is(err, reasoning.ErrLocked),
		errors.Is(err, reasoning.ErrAlreadyLocked),
		errors.Is(err, reasoning.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, reasoning.ErrGuardUnsatisfied),
		errors.Is(err, reasoning.ErrNotReady),
		errors.Is(err, reasoning.ErrTerminal):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, reasoning.ErrInferenceTimeout):
		code = http.StatusGatewayTimeout
	default:
		code = http.StatusInternalServerError
	}
	return echo.NewHTTPError(code, err.Error())
}
