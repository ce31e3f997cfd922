// Package http provides the HTTP transport for the master engine.
package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/taskmesh/master/internal/dispatcher"
	"github.com/taskmesh/master/internal/domain"
)

// Handler handles the master's HTTP surface. Validation happens here, before
// any request reaches the core.
type Handler struct {
	dispatcher *dispatcher.Dispatcher
}

// NewHandler creates a handler around the dispatcher.
func NewHandler(d *dispatcher.Dispatcher) *Handler {
	return &Handler{dispatcher: d}
}

// RegisterRoutes registers the routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/task", h.HandleTask)
	e.POST("/dispatch", h.Dispatch)
	e.POST("/result", h.HandleResult)
	e.POST("/register", h.RegisterAgent)
	e.GET("/health", h.Health)
}

// Health returns liveness status.
// GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// HandleTask accepts a task objective. In routing mode it returns the
// decomposition preview; in pipeline mode it runs the fixed-stage pipeline.
// POST /task
func (h *Handler) HandleTask(c echo.Context) error {
	if h.dispatcher == nil {
		return errorJSON(c, http.StatusServiceUnavailable, domain.CodeInternalError, "Dispatcher not configured.", nil)
	}

	var objective domain.TaskObjective
	if err := c.Bind(&objective); err != nil {
		return errorJSON(c, http.StatusBadRequest, domain.CodeValidationError, "invalid request body", nil)
	}
	if len(strings.TrimSpace(objective.TaskID)) < 2 {
		return errorJSON(c, http.StatusBadRequest, domain.CodeValidationError, "task_id must be at least 2 characters", nil)
	}
	if strings.TrimSpace(objective.Objective) == "" {
		return errorJSON(c, http.StatusBadRequest, domain.CodeValidationError, "objective is required", nil)
	}
	if objective.Context == nil {
		objective.Context = map[string]any{}
	}

	ctx := c.Request().Context()
	if h.dispatcher.PipelineEnabled() {
		response, err := h.dispatcher.RunPipeline(ctx, &objective)
		if err != nil {
			return h.errorResponse(c, err)
		}
		return c.JSON(http.StatusAccepted, response)
	}

	decomposition, err := h.dispatcher.HandleTask(ctx, &objective)
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusAccepted, decomposition)
}

// Dispatch triggers routing and network dispatch for a work request.
// POST /dispatch
func (h *Handler) Dispatch(c echo.Context) error {
	if h.dispatcher == nil {
		return errorJSON(c, http.StatusServiceUnavailable, domain.CodeInternalError, "Dispatcher not configured.", nil)
	}

	var work domain.WorkRequest
	if err := c.Bind(&work); err != nil {
		return errorJSON(c, http.StatusBadRequest, domain.CodeValidationError, "invalid request body", nil)
	}
	if work.TaskID == "" || work.SubID == "" {
		return errorJSON(c, http.StatusBadRequest, domain.CodeValidationError, "task_id and sub_id are required", nil)
	}
	if work.Command == "" {
		return errorJSON(c, http.StatusBadRequest, domain.CodeValidationError, "command is required", nil)
	}
	if work.Priority == "" {
		work.Priority = domain.PriorityNormal
	}
	if !work.Priority.Valid() {
		return errorJSON(c, http.StatusBadRequest, domain.CodeValidationError, "priority must be low, normal, or high", nil)
	}

	decision, err := h.dispatcher.Dispatch(c.Request().Context(), &work)
	if err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, decision)
}

// HandleResult accepts a worker's result report.
// POST /result
func (h *Handler) HandleResult(c echo.Context) error {
	if h.dispatcher == nil {
		return errorJSON(c, http.StatusServiceUnavailable, domain.CodeInternalError, "Dispatcher not configured.", nil)
	}

	var payload domain.ResultPayload
	if err := c.Bind(&payload); err != nil {
		return errorJSON(c, http.StatusBadRequest, domain.CodeValidationError, "invalid request body", nil)
	}
	if payload.TaskID == "" || payload.SubID == "" || payload.AgentID == "" {
		return errorJSON(c, http.StatusBadRequest, domain.CodeValidationError, "task_id, sub_id, and agent_id are required", nil)
	}
	switch payload.Status {
	case domain.StatusSucceeded, domain.StatusRetryableFailure, domain.StatusFatalFailure:
	default:
		return errorJSON(c, http.StatusBadRequest, domain.CodeValidationError, "unknown status", nil)
	}
	if payload.Output == nil {
		payload.Output = map[string]any{}
	}

	if err := h.dispatcher.HandleResult(c.Request().Context(), &payload); err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

// RegisterAgent accepts a worker's capability declaration.
// POST /register
func (h *Handler) RegisterAgent(c echo.Context) error {
	if h.dispatcher == nil {
		return errorJSON(c, http.StatusServiceUnavailable, domain.CodeInternalError, "Dispatcher not configured.", nil)
	}

	var declaration domain.CapabilityDeclaration
	if err := c.Bind(&declaration); err != nil {
		return errorJSON(c, http.StatusBadRequest, domain.CodeValidationError, "invalid request body", nil)
	}
	declaration.AgentID = strings.TrimSpace(declaration.AgentID)
	if len(declaration.AgentID) < 3 {
		return errorJSON(c, http.StatusBadRequest, domain.CodeValidationError, "agent_id must be at least 3 characters", nil)
	}
	if declaration.URL == "" {
		return errorJSON(c, http.StatusBadRequest, domain.CodeValidationError, "url is required", nil)
	}
	if len(declaration.Capabilities) == 0 {
		return errorJSON(c, http.StatusBadRequest, domain.CodeValidationError, "capabilities must be non-empty", nil)
	}
	if len(strings.TrimSpace(declaration.Profile)) < 3 {
		return errorJSON(c, http.StatusBadRequest, domain.CodeValidationError, "profile must be at least 3 characters", nil)
	}
	if m := declaration.Metrics; m != nil {
		if m.Load < 0 || m.Load > 1 {
			return errorJSON(c, http.StatusBadRequest, domain.CodeValidationError, "metrics.load must be within [0,1]", nil)
		}
		if m.RecentFailures < 0 {
			return errorJSON(c, http.StatusBadRequest, domain.CodeValidationError, "metrics.recent_failures must be non-negative", nil)
		}
		if m.AvgLatencyMs != nil && *m.AvgLatencyMs < 0 {
			return errorJSON(c, http.StatusBadRequest, domain.CodeValidationError, "metrics.avg_latency_ms must be non-negative", nil)
		}
	}

	if err := h.dispatcher.RegisterAgent(c.Request().Context(), &declaration); err != nil {
		return h.errorResponse(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

// errorResponse maps core errors to the structured error envelope. Routing
// and dispatch failures are never downgraded to success.
func (h *Handler) errorResponse(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrNoCandidates):
		return errorJSON(c, http.StatusConflict, domain.CodeRoutingError, err.Error(), nil)
	case errors.Is(err, domain.ErrMissingStageAgent):
		return errorJSON(c, http.StatusConflict, domain.CodeRoutingError, err.Error(), nil)
	case errors.Is(err, domain.ErrWorkerUnavailable), errors.Is(err, domain.ErrAgentNotRegistered):
		return errorJSON(c, http.StatusBadGateway, domain.CodeWorkerUnavailable, err.Error(), nil)
	case errors.Is(err, domain.ErrDispatchFailed):
		return errorJSON(c, http.StatusBadGateway, domain.CodeDispatchFailed, err.Error(), nil)
	case errors.Is(err, domain.ErrStoreUnavailable):
		return errorJSON(c, http.StatusServiceUnavailable, domain.CodeStoreUnavailable, err.Error(), nil)
	default:
		return errorJSON(c, http.StatusInternalServerError, domain.CodeInternalError, err.Error(), nil)
	}
}

func errorJSON(c echo.Context, status int, code domain.ErrorCode, message string, details map[string]any) error {
	return c.JSON(status, domain.ErrorResponse{Code: code, Message: message, Details: details})
}
