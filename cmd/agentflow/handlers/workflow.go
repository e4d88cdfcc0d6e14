package handlers

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/cmd/agentflow/service"
	"github.com/lyzr/agentflow/common/apperror"
)

// WorkflowHandler handles workflow, node and edge requests
type WorkflowHandler struct {
	workflows *service.WorkflowService
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(workflows *service.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{workflows: workflows}
}

// Create handles POST /api/v1/workflows
func (h *WorkflowHandler) Create(c echo.Context) error {
	var req models.CreateWorkflowRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}

	wf, err := h.workflows.Create(c.Request().Context(), &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, wf)
}

// List handles GET /api/v1/workflows. ?is_template filters templates
// in or out.
func (h *WorkflowHandler) List(c echo.Context) error {
	page, pageSize := pagination(c)

	var isTemplate *bool
	switch c.QueryParam("is_template") {
	case "true":
		v := true
		isTemplate = &v
	case "false":
		v := false
		isTemplate = &v
	}

	workflows, total, err := h.workflows.List(c.Request().Context(), isTemplate, page, pageSize)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, listOf(workflows, total, page, pageSize))
}

// Templates handles GET /api/v1/workflows/templates
func (h *WorkflowHandler) Templates(c echo.Context) error {
	page, pageSize := pagination(c)
	workflows, total, err := h.workflows.Templates(c.Request().Context(), page, pageSize)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, listOf(workflows, total, page, pageSize))
}

// Get handles GET /api/v1/workflows/:id
func (h *WorkflowHandler) Get(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	wf, err := h.workflows.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, wf)
}

// Update handles PUT /api/v1/workflows/:id
func (h *WorkflowHandler) Update(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req models.UpdateWorkflowRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}

	wf, err := h.workflows.Update(c.Request().Context(), id, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, wf)
}

// Patch handles PATCH /api/v1/workflows/:id with an RFC 7386 merge
// patch body
func (h *WorkflowHandler) Patch(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	patch, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return apperror.Wrap(apperror.KindValidation, err, "failed to read patch body")
	}
	if len(patch) == 0 {
		return apperror.Validation("merge patch body cannot be empty")
	}

	wf, err := h.workflows.Patch(c.Request().Context(), id, patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, wf)
}

// Delete handles DELETE /api/v1/workflows/:id
func (h *WorkflowHandler) Delete(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	if err := h.workflows.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Clone handles POST /api/v1/workflows/:id/clone
func (h *WorkflowHandler) Clone(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var req models.CloneWorkflowRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}

	wf, err := h.workflows.Clone(c.Request().Context(), id, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, wf)
}

// ListNodes handles GET /api/v1/workflows/:id/nodes
func (h *WorkflowHandler) ListNodes(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	nodes, err := h.workflows.ListNodes(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nodes)
}

// AddNode handles POST /api/v1/workflows/:id/nodes
func (h *WorkflowHandler) AddNode(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var def models.NodeDef
	if err := bindBody(c, &def); err != nil {
		return err
	}

	node, err := h.workflows.AddNode(c.Request().Context(), id, def)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, node)
}

// GetNode handles GET /api/v1/workflows/:id/nodes/:node_id
func (h *WorkflowHandler) GetNode(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	node, err := h.workflows.GetNode(c.Request().Context(), id, c.Param("node_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, node)
}

// UpdateNode handles PUT /api/v1/workflows/:id/nodes/:node_id
func (h *WorkflowHandler) UpdateNode(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var def models.NodeDef
	if err := bindBody(c, &def); err != nil {
		return err
	}

	node, err := h.workflows.UpdateNode(c.Request().Context(), id, c.Param("node_id"), def)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, node)
}

// DeleteNode handles DELETE /api/v1/workflows/:id/nodes/:node_id
func (h *WorkflowHandler) DeleteNode(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	if err := h.workflows.DeleteNode(c.Request().Context(), id, c.Param("node_id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ListEdges handles GET /api/v1/workflows/:id/edges
func (h *WorkflowHandler) ListEdges(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	edges, err := h.workflows.ListEdges(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, edges)
}

// AddEdge handles POST /api/v1/workflows/:id/edges
func (h *WorkflowHandler) AddEdge(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var def models.EdgeDef
	if err := bindBody(c, &def); err != nil {
		return err
	}

	edge, err := h.workflows.AddEdge(c.Request().Context(), id, def)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, edge)
}

// GetEdge handles GET /api/v1/workflows/:id/edges/:edge_id
func (h *WorkflowHandler) GetEdge(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	edgeID, err := uuidParam(c, "edge_id")
	if err != nil {
		return err
	}

	edge, err := h.workflows.GetEdge(c.Request().Context(), id, edgeID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, edge)
}

// UpdateEdge handles PUT /api/v1/workflows/:id/edges/:edge_id
func (h *WorkflowHandler) UpdateEdge(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	edgeID, err := uuidParam(c, "edge_id")
	if err != nil {
		return err
	}
	var def models.EdgeDef
	if err := bindBody(c, &def); err != nil {
		return err
	}

	edge, err := h.workflows.UpdateEdge(c.Request().Context(), id, edgeID, def)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, edge)
}

// DeleteEdge handles DELETE /api/v1/workflows/:id/edges/:edge_id
func (h *WorkflowHandler) DeleteEdge(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	edgeID, err := uuidParam(c, "edge_id")
	if err != nil {
		return err
	}

	if err := h.workflows.DeleteEdge(c.Request().Context(), id, edgeID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
