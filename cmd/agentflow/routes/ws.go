package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/agentflow/cmd/agentflow/container"
	"github.com/lyzr/agentflow/cmd/agentflow/handlers"
)

// RegisterWSRoutes registers the live event websocket. It sits outside
// /api/v1 so browser clients can connect without the API key header.
func RegisterWSRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewWSHandler(c.Hub, c.ExecutionService, c.Components.Logger)

	e.GET("/ws/executions/:id", h.Subscribe) // GET /ws/executions/{execution_id}
}
