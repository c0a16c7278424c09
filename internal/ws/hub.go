package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"poolguard/internal/pipeline"
)

const writeWait = 10 * time.Second

// client wraps a connection with a write lock; gorilla connections support
// one concurrent writer only.
type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// Hub manages WebSocket connections for real-time risk events.
// It keeps no history: clients see only events published after they connect.
type Hub struct {
	clients map[*websocket.Conn]*client
	mu      sync.RWMutex
}

// NewHub creates a new risk event hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]*client),
	}
}

// register adds a connection
func (h *Hub) register(conn *websocket.Conn) *client {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := &client{conn: conn}
	h.clients[conn] = c
	log.Printf("[WS] Client registered (total: %d)", len(h.clients))
	return c
}

// Unregister removes a connection
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		log.Printf("[WS] Client unregistered (total: %d)", len(h.clients))
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a message to every client. Clients that fail are dropped.
func (h *Hub) Broadcast(message []byte) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(websocket.TextMessage, message); err != nil {
			log.Printf("[WS] Error sending to client: %v", err)
			h.Unregister(c.conn)
			c.conn.Close()
		}
	}
}

// BroadcastEvent sends a risk transition to every client
func (h *Hub) BroadcastEvent(event pipeline.RiskTransitionEvent) {
	if h.ClientCount() == 0 {
		return
	}

	data, err := json.Marshal(NewRiskMessage(event))
	if err != nil {
		log.Printf("[WS] Error marshaling risk message: %v", err)
		return
	}
	h.Broadcast(data)
}

// Run forwards events from the bus until ctx is done or the bus closes.
// Slow sockets never stall the inference driver: the bus drops events
// for a full channel instead of blocking.
func (h *Hub) Run(ctx context.Context, bus *pipeline.EventBus) error {
	events, unsubscribe := bus.SubscribeChannel(64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case event, ok := <-events:
			if !ok {
				h.closeAll()
				return nil
			}
			h.BroadcastEvent(event)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn, c := range h.clients {
		c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		delete(h.clients, conn)
	}
}
