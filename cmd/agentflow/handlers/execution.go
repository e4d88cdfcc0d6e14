package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/cmd/agentflow/service"
)

// ExecutionHandler handles execution lifecycle requests
type ExecutionHandler struct {
	executions *service.ExecutionService
}

// NewExecutionHandler creates a new execution handler
func NewExecutionHandler(executions *service.ExecutionService) *ExecutionHandler {
	return &ExecutionHandler{executions: executions}
}

// Execute handles POST /api/v1/executions. The workflow runs to
// completion before the response is written.
func (h *ExecutionHandler) Execute(c echo.Context) error {
	var req models.ExecuteRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}

	exec, err := h.executions.Execute(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, exec)
}

// ExecuteStream handles POST /api/v1/executions/stream, answering with
// a Server-Sent-Events feed of the run. The run itself is detached: if
// the subscriber drops, it keeps going.
func (h *ExecutionHandler) ExecuteStream(c echo.Context) error {
	var req models.ExecuteRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}

	exec, stream, err := h.executions.ExecuteStream(c.Request().Context(), &req)
	if err != nil {
		return err
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Execution-ID", exec.ID.String())
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-stream.Events():
			if !ok {
				return nil
			}
			if _, err := resp.Write(ev.SSE()); err != nil {
				return nil
			}
			resp.Flush()
		}
	}
}

// List handles GET /api/v1/executions with workflow_id and status
// filters
func (h *ExecutionHandler) List(c echo.Context) error {
	page, pageSize := pagination(c)
	filter := models.ExecutionFilter{Page: page, PageSize: pageSize}

	if raw := c.QueryParam("workflow_id"); raw != "" {
		workflowID, err := uuid.Parse(raw)
		if err == nil {
			filter.WorkflowID = &workflowID
		}
	}
	if raw := c.QueryParam("status"); raw != "" {
		status := models.ExecutionStatus(raw)
		filter.Status = &status
	}

	executions, total, err := h.executions.List(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, listOf(executions, total, page, pageSize))
}

// Get handles GET /api/v1/executions/:id
func (h *ExecutionHandler) Get(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	exec, err := h.executions.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, exec)
}

// Status handles GET /api/v1/executions/:id/status
func (h *ExecutionHandler) Status(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	status, err := h.executions.Status(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, status)
}

// Cancel handles POST /api/v1/executions/:id/cancel. Idempotent on
// terminal executions.
func (h *ExecutionHandler) Cancel(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	exec, err := h.executions.Cancel(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, exec)
}

// Resume handles POST /api/v1/executions/:id/resume. A resumed run gets
// 201 with its new record; resuming a completed execution returns the
// existing record with 200.
func (h *ExecutionHandler) Resume(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	exec, created, err := h.executions.Resume(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if !created {
		return c.JSON(http.StatusOK, exec)
	}
	return c.JSON(http.StatusCreated, exec)
}

// Restart handles POST /api/v1/executions/:id/restart
func (h *ExecutionHandler) Restart(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	exec, err := h.executions.Restart(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, exec)
}

// Delete handles DELETE /api/v1/executions/:id
func (h *ExecutionHandler) Delete(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	if err := h.executions.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ListSteps handles GET /api/v1/executions/:id/steps
func (h *ExecutionHandler) ListSteps(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	steps, err := h.executions.ListSteps(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, steps)
}

// GetStep handles GET /api/v1/executions/:id/steps/:step_id
func (h *ExecutionHandler) GetStep(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	stepID, err := uuidParam(c, "step_id")
	if err != nil {
		return err
	}

	step, err := h.executions.GetStep(c.Request().Context(), id, stepID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, step)
}
