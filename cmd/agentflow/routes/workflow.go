package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/agentflow/cmd/agentflow/container"
	"github.com/lyzr/agentflow/cmd/agentflow/handlers"
)

// RegisterWorkflowRoutes registers all workflow-related routes
func RegisterWorkflowRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewWorkflowHandler(c.WorkflowService)

	wf := e.Group("/api/v1/workflows")
	{
		wf.POST("", h.Create)               // POST /api/v1/workflows
		wf.GET("", h.List)                  // GET /api/v1/workflows?is_template=false
		wf.GET("/templates", h.Templates)   // GET /api/v1/workflows/templates
		wf.GET("/:id", h.Get)               // GET /api/v1/workflows/{workflow_id}
		wf.PUT("/:id", h.Update)            // PUT /api/v1/workflows/{workflow_id}
		wf.PATCH("/:id", h.Patch)           // PATCH /api/v1/workflows/{workflow_id} (RFC 7386 merge patch)
		wf.DELETE("/:id", h.Delete)         // DELETE /api/v1/workflows/{workflow_id}
		wf.POST("/:id/clone", h.Clone)      // POST /api/v1/workflows/{workflow_id}/clone

		// Graph subresources
		wf.GET("/:id/nodes", h.ListNodes)              // GET /api/v1/workflows/{workflow_id}/nodes
		wf.POST("/:id/nodes", h.AddNode)               // POST /api/v1/workflows/{workflow_id}/nodes
		wf.GET("/:id/nodes/:node_id", h.GetNode)       // GET /api/v1/workflows/{workflow_id}/nodes/{node_id}
		wf.PUT("/:id/nodes/:node_id", h.UpdateNode)    // PUT /api/v1/workflows/{workflow_id}/nodes/{node_id}
		wf.DELETE("/:id/nodes/:node_id", h.DeleteNode) // DELETE /api/v1/workflows/{workflow_id}/nodes/{node_id}
		wf.GET("/:id/edges", h.ListEdges)              // GET /api/v1/workflows/{workflow_id}/edges
		wf.POST("/:id/edges", h.AddEdge)               // POST /api/v1/workflows/{workflow_id}/edges
		wf.GET("/:id/edges/:edge_id", h.GetEdge)       // GET /api/v1/workflows/{workflow_id}/edges/{edge_id}
		wf.PUT("/:id/edges/:edge_id", h.UpdateEdge)    // PUT /api/v1/workflows/{workflow_id}/edges/{edge_id}
		wf.DELETE("/:id/edges/:edge_id", h.DeleteEdge) // DELETE /api/v1/workflows/{workflow_id}/edges/{edge_id}
	}
}
