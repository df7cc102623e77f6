package wshub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ClientMessage is a command received from a client.
type ClientMessage struct {
	Type string `json:"t"`
	Text string `json:"text,omitempty"`
}

// ServerMessage is the JSON structure sent to clients.
type ServerMessage struct {
	Type     string          `json:"t"`
	ClientID string          `json:"id,omitempty"`
	Command  string          `json:"cmd,omitempty"`
	Error    string          `json:"err,omitempty"`
	Data     json.RawMessage `json:"d,omitempty"`
}

// Client represents a single WebSocket connection in the hub.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

// WritePump reads from the Send channel and writes to the WebSocket connection.
func (c *Client) WritePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.Send:
			if !ok {
				return
			}
			if err := c.Conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}

// ReadPump decodes client commands until the connection fails or ctx ends.
func (c *Client) ReadPump(ctx context.Context, handle func(ClientMessage)) error {
	for {
		var msg ClientMessage
		if err := wsjson.Read(ctx, c.Conn, &msg); err != nil {
			return err
		}
		handle(msg)
	}
}

// Hub manages the WebSocket connections watching one team.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	Logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		Logger:  slog.Default(),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
}

// Unregister removes a client and closes its Send channel, then broadcasts a leave message.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		close(c.Send)
		delete(h.clients, id)
	}
	h.mu.Unlock()

	if ok {
		h.BroadcastExcept(id, ServerMessage{
			Type:     "leave",
			ClientID: id,
		})
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a message to every client.
func (h *Hub) Broadcast(msg ServerMessage) {
	h.BroadcastExcept("", msg)
}

// BroadcastExcept sends a message to all clients except the sender. Non-blocking: drops if channel full.
func (h *Hub) BroadcastExcept(senderID string, msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.Logger.Error("marshal ws message", "type", msg.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, c := range h.clients {
		if id == senderID {
			continue
		}
		select {
		case c.Send <- data:
		default:
			// Drop message if channel full
		}
	}
}

// Send queues a message for one client.
func (h *Hub) Send(id string, msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.Logger.Error("marshal ws message", "type", msg.Type, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.clients[id]; ok {
		select {
		case c.Send <- data:
		default:
		}
	}
}
