package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/agentflow/cmd/agentflow/events"
	"github.com/lyzr/agentflow/cmd/agentflow/service"
	"github.com/lyzr/agentflow/common/logger"
)

// WSHandler upgrades subscribers onto the event hub
type WSHandler struct {
	hub        *events.Hub
	executions *service.ExecutionService
	upgrader   websocket.Upgrader
	log        *logger.Logger
}

// NewWSHandler creates a new WebSocket handler
func NewWSHandler(hub *events.Hub, executions *service.ExecutionService, log *logger.Logger) *WSHandler {
	return &WSHandler{
		hub:        hub,
		executions: executions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The feed carries no client input, only execution events;
			// cross-origin dashboards are the expected consumers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Subscribe handles GET /ws/executions/:id. Unknown executions are
// rejected before the upgrade so plain HTTP clients get the usual
// error envelope.
func (h *WSHandler) Subscribe(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if _, err := h.executions.Get(c.Request().Context(), id); err != nil {
		return err
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote its own failure response
		h.log.Warn("websocket upgrade failed", "execution_id", id, "error", err)
		return nil
	}

	h.hub.Subscribe(conn, id)
	h.log.Debug("websocket subscriber attached", "execution_id", id)
	return nil
}
