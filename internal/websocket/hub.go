// Package websocket provides WebSocket connection management and message broadcasting.
package websocket

import (
	"context"
	"sync"

	"github.com/booking-manager/backend/internal/logger"
)

// Hub maintains the set of active WebSocket clients and broadcasts messages.
type Hub struct {
	clients map[*Client]bool

	// Outbound messages for every client
	broadcast chan []byte

	register   chan *Client
	unregister chan *Client

	// done is closed when Run returns
	done chan struct{}

	mu  sync.RWMutex
	log logger.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(log logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run starts the hub's main event loop and returns when ctx is done.
// This should be called in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("websocket client connected", logger.Int("clients", n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("websocket client disconnected", logger.Int("clients", n))

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client send buffer full, close connection
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues a message for all connected clients.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.log.Warn("broadcast channel full, dropping message")
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client represents a WebSocket client connection.
type Client struct {
	hub  *Hub
	send chan []byte
}

// NewClient creates a new WebSocket client.
func NewClient(hub *Hub) *Client {
	return &Client{
		hub:  hub,
		send: make(chan []byte, 256),
	}
}

// Send returns the send channel for the client.
func (c *Client) Send() chan []byte {
	return c.send
}

// SendTo queues a message for one registered client. It reports false when
// the client is gone or its buffer is full.
func (h *Hub) SendTo(client *Client, message []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.clients[client] {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}
