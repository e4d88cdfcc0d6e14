package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lyzr/agentflow/common/logger"
)

// Hub fans execution events out to WebSocket subscribers. Connections
// register under the execution they watch and receive every later event
// for it as one JSON text frame per event.
type Hub struct {
	log *logger.Logger

	mu          sync.RWMutex
	subscribers map[uuid.UUID][]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan *frame
}

type frame struct {
	executionID uuid.UUID
	data        []byte
}

// NewHub creates a hub. Call Run before subscribing.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:         log.Named("ws-hub"),
		subscribers: make(map[uuid.UUID][]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *frame, 256),
	}
}

// Run owns the subscriber map until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.log.Debug("ws hub started")
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case f := <-h.broadcast:
			h.push(f)
		}
	}
}

// Emit implements Emitter. The frame is handed to the hub loop without
// blocking the scheduler.
func (h *Hub) Emit(_ context.Context, ev *Event) {
	select {
	case h.broadcast <- &frame{executionID: ev.ExecutionID, data: ev.Frame()}:
	default:
		h.log.Warn("ws hub buffer full, dropping event",
			"execution_id", ev.ExecutionID, "event", string(ev.Kind))
	}
}

// Subscribe attaches a WebSocket connection to an execution's feed and
// starts its pumps. The connection is closed when the peer goes away or
// the hub shuts down.
func (h *Hub) Subscribe(conn *websocket.Conn, executionID uuid.UUID) *Client {
	c := &Client{
		hub:         h,
		conn:        conn,
		executionID: executionID,
		send:        make(chan []byte, sendBuffer),
	}
	h.register <- c
	go c.writePump()
	go c.readPump()
	return c
}

// SubscriberCount reports how many connections are watching an execution.
func (h *Hub) SubscriberCount(executionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[executionID])
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[c.executionID] = append(h.subscribers[c.executionID], c)
	h.log.Debug("ws client registered",
		"execution_id", c.executionID, "subscribers", len(h.subscribers[c.executionID]))
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := h.subscribers[c.executionID]
	for i, existing := range clients {
		if existing != c {
			continue
		}
		h.subscribers[c.executionID] = append(clients[:i], clients[i+1:]...)
		if len(h.subscribers[c.executionID]) == 0 {
			delete(h.subscribers, c.executionID)
		}
		// Close only when the client was still registered, so a second
		// unregister for the same client cannot double-close.
		close(c.send)
		return
	}
}

func (h *Hub) push(f *frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.subscribers[f.executionID] {
		select {
		case c.send <- f.data:
		default:
			// Slow consumer; drop this frame for it rather than stall
			// every other subscriber.
			h.log.Warn("ws client send buffer full, dropping frame",
				"execution_id", f.executionID)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, clients := range h.subscribers {
		for _, c := range clients {
			close(c.send)
		}
		delete(h.subscribers, id)
	}
}
