package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/agentflow/common/db"
)

// HealthHandler reports liveness of the service and its stores
type HealthHandler struct {
	db         *db.DB
	checkpoint *db.DB
}

// NewHealthHandler creates a new health handler. The checkpoint handle
// may be the same pool as the primary.
func NewHealthHandler(database, checkpoint *db.DB) *HealthHandler {
	return &HealthHandler{db: database, checkpoint: checkpoint}
}

// Health answers GET /health
func (h *HealthHandler) Health(c echo.Context) error {
	ctx := c.Request().Context()

	status := "healthy"
	database := "up"
	if err := h.db.Health(ctx); err != nil {
		database = "down"
		status = "degraded"
	}
	checkpoint := "up"
	if h.checkpoint == h.db {
		checkpoint = database
	} else if err := h.checkpoint.Health(ctx); err != nil {
		checkpoint = "down"
		status = "degraded"
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]string{
		"status":     status,
		"database":   database,
		"checkpoint": checkpoint,
	})
}

// Root answers GET / with a minimal service banner
func (h *HealthHandler) Root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"service": "agentflow",
		"status":  "ok",
	})
}
