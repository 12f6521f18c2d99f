// Package control exposes the operator surface: a REST API over the
// dispatch queue, order cache and positioning state, plus a WebSocket
// feed of engine events.
package control

import (
	"context"
	"sync"

	"p2pmaker/internal/core"
)

// wsClient is one connected WebSocket consumer.
type wsClient struct {
	id     string
	send   chan Message
	mu     sync.Mutex
	closed bool
}

func newWSClient(id string) *wsClient {
	return &wsClient{
		id:   id,
		send: make(chan Message, 256),
	}
}

// trySend queues a message without blocking. A full channel means the
// client is too slow and gets dropped by the hub.
func (c *wsClient) trySend(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hub fans engine events out to all connected WebSocket clients.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan Message
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.RWMutex
	logger     core.ILogger
}

// NewHub creates an event hub.
func NewHub(logger core.ILogger) *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		logger:     logger.WithField("component", "control_hub"),
	}
}

// Run drives the hub until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("Client registered", "client_id", client.id, "total_clients", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*wsClient, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			for _, client := range clients {
				if !client.trySend(msg) {
					select {
					case h.unregister <- client:
					default:
					}
				}
			}
		}
	}
}

// Broadcast queues a message for every client, dropping it when the
// broadcast buffer is full.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Broadcast channel full, dropping message", "type", msg.Type)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
