package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/agentflow/cmd/agentflow/container"
	"github.com/lyzr/agentflow/cmd/agentflow/handlers"
)

// RegisterExecutionRoutes registers all execution-related routes
func RegisterExecutionRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewExecutionHandler(c.ExecutionService)

	execs := e.Group("/api/v1/executions")
	{
		execs.POST("", h.Execute)              // POST /api/v1/executions (runs to completion)
		execs.POST("/stream", h.ExecuteStream) // POST /api/v1/executions/stream (SSE)
		execs.GET("", h.List)                  // GET /api/v1/executions?workflow_id=...&status=running
		execs.GET("/:id", h.Get)               // GET /api/v1/executions/{execution_id}
		execs.GET("/:id/status", h.Status)     // GET /api/v1/executions/{execution_id}/status
		execs.POST("/:id/cancel", h.Cancel)    // POST /api/v1/executions/{execution_id}/cancel
		execs.POST("/:id/resume", h.Resume)    // POST /api/v1/executions/{execution_id}/resume
		execs.POST("/:id/restart", h.Restart)  // POST /api/v1/executions/{execution_id}/restart
		execs.DELETE("/:id", h.Delete)         // DELETE /api/v1/executions/{execution_id}

		// Step history
		execs.GET("/:id/steps", h.ListSteps)          // GET /api/v1/executions/{execution_id}/steps
		execs.GET("/:id/steps/:step_id", h.GetStep)   // GET /api/v1/executions/{execution_id}/steps/{step_id}
	}
}
