package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/maitre-labs/raison/internal/audit"
	"github.com/maitre-labs/raison/internal/reasoning"
	"github.com/maitre-labs/raison/internal/store"
)

// WorkspacesHandler exposes the reasoning engine over HTTP. Results follow
// the {"success": bool, ...} shape; error kinds map to statuses in errors.go.
type WorkspacesHandler struct {
	Store *store.Store
	Exec  *reasoning.Executor
	Index *audit.TraceIndex
}

func (h *WorkspacesHandler) Register(g *echo.Group, secret []byte) {
	auth := func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) }
	g.Use(auth)

	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.DELETE("/:id", h.remove)
	g.GET("/:id/ledger", h.ledger)

	g.POST("/:id/step", h.step)
	g.POST("/:id/run", h.run)

	g.POST("/:id/missing/:elementId/resolve", h.resolveMissing)
	g.POST("/:id/contexts/:contextId/confirm", h.confirmContext)
	g.DELETE("/:id/contexts/:contextId", h.rejectContext)
	g.POST("/:id/actions/:actionId/execute", h.executeAction)
	g.POST("/:id/validate", h.validate)

	g.GET("/:id/traces", h.traces)
	g.GET("/:id/transitions", h.transitions)
	g.GET("/:id/audit/verify", h.verifyChain)
}

func (h *WorkspacesHandler) create(c echo.Context) error {
	var req CreateWorkspaceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title is required")
	}
	ws, err := h.Exec.CreateWorkspace(c.Request().Context(), actorFrom(c), req.Title, req.Intake)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"success": true, "workspace": ws})
}

func (h *WorkspacesHandler) list(c echo.Context) error {
	out, err := h.Store.ListWorkspaces(c.Request().Context(), actorFrom(c).TenantID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "workspaces": out})
}

func (h *WorkspacesHandler) get(c echo.Context) error {
	ws, err := h.Store.GetWorkspace(c.Request().Context(), actorFrom(c).TenantID, c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "workspace": ws})
}

func (h *WorkspacesHandler) remove(c echo.Context) error {
	if err := h.Store.SoftDeleteWorkspace(c.Request().Context(), actorFrom(c).TenantID, c.Param("id")); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

func (h *WorkspacesHandler) ledger(c echo.Context) error {
	actor := actorFrom(c)
	id := c.Param("id")
	if _, err := h.Store.GetWorkspace(c.Request().Context(), actor.TenantID, id); err != nil {
		return toHTTPError(err)
	}
	led, err := h.Store.GetLedger(c.Request().Context(), actor.TenantID, id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "ledger": led})
}

func (h *WorkspacesHandler) step(c echo.Context) error {
	res, err := h.Exec.ExecuteNextStep(c.Request().Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		// Guard failures and timeouts still carry the failure trace; report
		// them with the step result rather than a bare error body.
		if errors.Is(err, reasoning.ErrGuardUnsatisfied) || errors.Is(err, reasoning.ErrInferenceTimeout) {
			return c.JSON(toHTTPError(err).Code, echo.Map{"success": false, "error": err.Error(), "result": res})
		}
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "result": res})
}

func (h *WorkspacesHandler) run(c echo.Context) error {
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := actorFrom(c)
	var (
		res reasoning.RunResult
		err error
	)
	if req.TargetState == "" {
		res, err = h.Exec.ExecuteFullReasoning(c.Request().Context(), actor, c.Param("id"))
	} else {
		target := reasoning.State(req.TargetState)
		if !target.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown target state")
		}
		res, err = h.Exec.ExecuteReasoning(c.Request().Context(), actor, c.Param("id"), target)
	}
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "result": res})
}

func (h *WorkspacesHandler) resolveMissing(c echo.Context) error {
	var req ResolveMissingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Resolution == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "resolution is required")
	}
	res, err := h.Exec.ResolveMissing(c.Request().Context(), actorFrom(c), c.Param("id"), c.Param("elementId"), req.Resolution)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "result": res})
}

func (h *WorkspacesHandler) confirmContext(c echo.Context) error {
	hyp, err := h.Exec.ConfirmContext(c.Request().Context(), actorFrom(c), c.Param("id"), c.Param("contextId"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "context": hyp})
}

func (h *WorkspacesHandler) rejectContext(c echo.Context) error {
	if err := h.Exec.RejectContext(c.Request().Context(), actorFrom(c), c.Param("id"), c.Param("contextId")); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

func (h *WorkspacesHandler) executeAction(c echo.Context) error {
	var req ExecuteActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	act, err := h.Exec.ExecuteAction(c.Request().Context(), actorFrom(c), c.Param("id"), c.Param("actionId"), req.Result)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "action": act})
}

func (h *WorkspacesHandler) validate(c echo.Context) error {
	var req ValidateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ws, err := h.Exec.Validate(c.Request().Context(), actorFrom(c), c.Param("id"), req.Note)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "workspace": ws})
}

func (h *WorkspacesHandler) traces(c echo.Context) error {
	actor := actorFrom(c)
	id := c.Param("id")
	if _, err := h.Store.GetWorkspace(c.Request().Context(), actor.TenantID, id); err != nil {
		return toHTTPError(err)
	}
	traces, err := h.Store.ListTraces(c.Request().Context(), actor.TenantID, id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "traces": traces})
}

func (h *WorkspacesHandler) transitions(c echo.Context) error {
	actor := actorFrom(c)
	id := c.Param("id")
	if _, err := h.Store.GetWorkspace(c.Request().Context(), actor.TenantID, id); err != nil {
		return toHTTPError(err)
	}
	transitions, err := h.Store.ListTransitions(c.Request().Context(), actor.TenantID, id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "transitions": transitions})
}

func (h *WorkspacesHandler) verifyChain(c echo.Context) error {
	actor := actorFrom(c)
	id := c.Param("id")
	if _, err := h.Store.GetWorkspace(c.Request().Context(), actor.TenantID, id); err != nil {
		return toHTTPError(err)
	}
	traces, err := h.Store.ListTraces(c.Request().Context(), actor.TenantID, id)
	if err != nil {
		return toHTTPError(err)
	}
	if err := reasoning.VerifyChain(traces); err != nil {
		return c.JSON(http.StatusOK, echo.Map{"success": true, "valid": false, "error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "valid": true, "entries": len(traces)})
}

// AuditHandler rebuilds and queries the tenant's trace search index.
type AuditHandler struct {
	Store *store.Store
	Index *audit.TraceIndex
}

func (h *AuditHandler) Register(g *echo.Group, secret []byte) {
	auth := func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) }
	g.Use(auth)
	g.POST("/reindex", h.reindex)
	g.GET("/search", h.search)
}

func (h *AuditHandler) reindex(c echo.Context) error {
	actor := actorFrom(c)
	ctx := c.Request().Context()
	workspaces, err := h.Store.ListWorkspaces(ctx, actor.TenantID)
	if err != nil {
		return toHTTPError(err)
	}
	indexed := 0
	for _, ws := range workspaces {
		traces, err := h.Store.ListTraces(ctx, actor.TenantID, ws.ID)
		if err != nil {
			return toHTTPError(err)
		}
		if err := h.Index.AddAll(actor.TenantID, traces); err != nil {
			return toHTTPError(err)
		}
		indexed += len(traces)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "indexed": indexed})
}

func (h *AuditHandler) search(c echo.Context) error {
	actor := actorFrom(c)
	q := c.QueryParam("q")
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	hits, err := h.Index.Search(actor.TenantID, q, 20)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, SearchResponse{Query: q, Hits: hits})
}
