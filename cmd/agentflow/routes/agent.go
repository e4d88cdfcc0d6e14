package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/agentflow/cmd/agentflow/container"
	"github.com/lyzr/agentflow/cmd/agentflow/handlers"
)

// RegisterAgentRoutes registers all agent-related routes
func RegisterAgentRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewAgentHandler(c.AgentService)

	agents := e.Group("/api/v1/agents")
	{
		agents.POST("", h.Create)       // POST /api/v1/agents
		agents.GET("", h.List)          // GET /api/v1/agents?page=1&page_size=20
		agents.GET("/:id", h.Get)       // GET /api/v1/agents/{agent_id}
		agents.PUT("/:id", h.Update)    // PUT /api/v1/agents/{agent_id}
		agents.PATCH("/:id", h.Update)  // PATCH /api/v1/agents/{agent_id}
		agents.DELETE("/:id", h.Delete) // DELETE /api/v1/agents/{agent_id}

		// Tool bindings
		agents.GET("/:id/tools", h.ListTools)               // GET /api/v1/agents/{agent_id}/tools
		agents.POST("/:id/tools/:tool_id", h.BindTool)      // POST /api/v1/agents/{agent_id}/tools/{tool_id}
		agents.DELETE("/:id/tools/:tool_id", h.UnbindTool)  // DELETE /api/v1/agents/{agent_id}/tools/{tool_id}
	}
}
