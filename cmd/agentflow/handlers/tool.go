package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/cmd/agentflow/service"
)

// ToolHandler handles tool CRUD requests
type ToolHandler struct {
	tools *service.ToolService
}

// NewToolHandler creates a new tool handler
func NewToolHandler(tools *service.ToolService) *ToolHandler {
	return &ToolHandler{tools: tools}
}

// Create handles POST /api/v1/tools
func (h *ToolHandler) Create(c echo.Context) error {
	var req models.CreateToolRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}

	tool, err := h.tools.Create(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, tool)
}

// List handles GET /api/v1/tools
func (h *ToolHandler) List(c echo.Context) error {
	page, pageSize := pagination(c)
	tools, total, err := h.tools.List(c.Request().Context(), page, pageSize)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, listOf(tools, total, page, pageSize))
}

// Get handles GET /api/v1/tools/:id
func (h *ToolHandler) Get(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	tool, err := h.tools.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tool)
}

// Update handles PUT and PATCH /api/v1/tools/:id. Both take the same
// partial body; absent fields keep their stored value.
func (h *ToolHandler) Update(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req models.UpdateToolRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}

	tool, err := h.tools.Update(c.Request().Context(), id, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tool)
}

// Delete handles DELETE /api/v1/tools/:id
func (h *ToolHandler) Delete(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	if err := h.tools.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
