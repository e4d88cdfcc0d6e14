package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/agentflow/cmd/agentflow/container"
	"github.com/lyzr/agentflow/cmd/agentflow/handlers"
)

// RegisterToolRoutes registers all tool-related routes
func RegisterToolRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewToolHandler(c.ToolService)

	tools := e.Group("/api/v1/tools")
	{
		tools.POST("", h.Create)       // POST /api/v1/tools
		tools.GET("", h.List)          // GET /api/v1/tools?page=1&page_size=20
		tools.GET("/:id", h.Get)       // GET /api/v1/tools/{tool_id}
		tools.PUT("/:id", h.Update)    // PUT /api/v1/tools/{tool_id}
		tools.PATCH("/:id", h.Update)  // PATCH /api/v1/tools/{tool_id}
		tools.DELETE("/:id", h.Delete) // DELETE /api/v1/tools/{tool_id}
	}
}
