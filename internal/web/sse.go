package web

import (
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/RevCBH/dockerslaves/internal/events"
)

// Hub manages SSE client connections and broadcasts events.
// It runs an event loop in a separate goroutine.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan events.JSONEvent

	// done signals the Run loop to exit
	done     chan struct{}
	stopOnce sync.Once
}

// Client is one connected stream.
type Client struct {
	id     string
	events chan events.JSONEvent
}

// NewHub creates a new SSE hub with initialized channels.
// Call Run() to start the event loop.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan events.JSONEvent),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's event loop.
// Blocks until Stop() is called - run in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.events)
			}
			h.clients = make(map[*Client]struct{})
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.events)
			}
			h.mu.Unlock()
		case event := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.events <- event:
				default:
					// Buffer full, drop event for this client
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Stop signals the hub to stop processing and closes all clients.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register adds a client to receive events. It returns false once the hub
// is stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast sends an event to all connected clients.
// If a client's buffer is full, the event is dropped for that client.
func (h *Hub) Broadcast(e events.JSONEvent) {
	select {
	case h.broadcast <- e:
	case <-h.done:
	}
}

// Handler returns a bus handler broadcasting every event
func (h *Hub) Handler() events.Handler {
	return func(e events.Event) {
		h.Broadcast(events.ToJSONEvent(e))
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NewClient creates a new client. The events channel is buffered (256 events).
func NewClient() *Client {
	return &Client{
		id:     strings.ToLower(ulid.Make().String()),
		events: make(chan events.JSONEvent, 256),
	}
}

// ID identifies the client in logs.
func (c *Client) ID() string {
	return c.id
}
