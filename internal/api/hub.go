package api

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"agent-engine/internal/engine"
	"agent-engine/internal/observability"
)

// Hub fans activity events out to connected websocket clients. It is a
// lossy read-only projection: a slow consumer or full queue drops
// events rather than blocking the trading cycle.
type Hub struct {
	logger *log.Logger

	broadcast  chan *engine.ActivityEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool
}

// NewHub creates a Hub. Run must be started for events to flow.
func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		logger:     logger,
		broadcast:  make(chan *engine.ActivityEvent, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		clients:    make(map[*websocket.Conn]bool),
	}
}

var _ engine.Notifier = (*Hub)(nil)

// Run dispatches until Close is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			observability.DefaultMetrics.ActivityClients.Set(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			observability.DefaultMetrics.ActivityClients.Set(float64(len(h.clients)))
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			observability.DefaultMetrics.ActivityClients.Set(float64(len(h.clients)))
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if err := client.WriteJSON(event); err != nil {
					h.logger.Printf("activity client write failed: %v", err)
					client.Close()
					delete(h.clients, client)
				}
			}
			observability.DefaultMetrics.ActivityClients.Set(float64(len(h.clients)))
			h.mu.Unlock()
		}
	}
}

// Close stops the dispatch loop and disconnects all clients.
func (h *Hub) Close() {
	close(h.done)
}

// Broadcast implements engine.Notifier. Never blocks; events are
// dropped when the queue is full.
func (h *Hub) Broadcast(event *engine.ActivityEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Printf("activity queue full, dropping %s for order %s", event.Kind, event.OrderID)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
