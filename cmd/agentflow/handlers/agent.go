package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/cmd/agentflow/service"
)

// AgentHandler handles agent CRUD and tool binding requests
type AgentHandler struct {
	agents *service.AgentService
}

// NewAgentHandler creates a new agent handler
func NewAgentHandler(agents *service.AgentService) *AgentHandler {
	return &AgentHandler{agents: agents}
}

// Create handles POST /api/v1/agents
func (h *AgentHandler) Create(c echo.Context) error {
	var req models.CreateAgentRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}

	agent, err := h.agents.Create(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, agent)
}

// List handles GET /api/v1/agents
func (h *AgentHandler) List(c echo.Context) error {
	page, pageSize := pagination(c)
	agents, total, err := h.agents.List(c.Request().Context(), page, pageSize)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, listOf(agents, total, page, pageSize))
}

// Get handles GET /api/v1/agents/:id
func (h *AgentHandler) Get(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	agent, err := h.agents.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, agent)
}

// Update handles PUT and PATCH /api/v1/agents/:id
func (h *AgentHandler) Update(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req models.UpdateAgentRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}

	agent, err := h.agents.Update(c.Request().Context(), id, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, agent)
}

// Delete handles DELETE /api/v1/agents/:id
func (h *AgentHandler) Delete(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	if err := h.agents.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ListTools handles GET /api/v1/agents/:id/tools
func (h *AgentHandler) ListTools(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	tools, err := h.agents.ListTools(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tools)
}

// BindTool handles POST /api/v1/agents/:id/tools/:tool_id
func (h *AgentHandler) BindTool(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	toolID, err := uuidParam(c, "tool_id")
	if err != nil {
		return err
	}

	agent, err := h.agents.BindTool(c.Request().Context(), id, toolID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, agent)
}

// UnbindTool handles DELETE /api/v1/agents/:id/tools/:tool_id
func (h *AgentHandler) UnbindTool(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	toolID, err := uuidParam(c, "tool_id")
	if err != nil {
		return err
	}

	if err := h.agents.UnbindTool(c.Request().Context(), id, toolID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
