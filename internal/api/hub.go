package api

import (
	"encoding/json"
	"log/slog"
	"sync"

	"market_go/internal/infra"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Message is the envelope pushed to websocket clients
type Message struct {
	Type string      `json:"type"` // "market", "favorites", "theme"
	Data interface{} `json:"data"`
}

// Hub maintains active WebSocket connections and broadcasts messages
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	metrics *infra.Metrics
}

type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func NewHub(metrics *infra.Metrics) *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		metrics: metrics,
	}
}

func (h *Hub) newClient(conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, 32),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.IncrementClients()
	}
	slog.Debug("WS client connected",
		slog.String("client", client.id),
		slog.Int("clients", h.ClientCount()))
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()

	if ok {
		if h.metrics != nil {
			h.metrics.DecrementClients()
		}
		slog.Debug("WS client disconnected", slog.String("client", client.id))
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Broadcast(message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		slog.Warn("Failed to marshal broadcast", slog.Any("error", err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Client buffer full, skip
		}
	}
}

func (c *Client) WritePump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	for {
		// Clients only listen; reads detect disconnects
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
