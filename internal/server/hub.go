package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/ytget/playlist-converter/internal/conversion"
	"github.com/ytget/playlist-converter/internal/model"
)

// WebSocket message types
const (
	WSMessageTypeEvent    = "event"
	WSMessageTypeSnapshot = "snapshot"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// Hub settings
const (
	ClientSendBuffer = 256
	BroadcastBuffer  = 256
	PingInterval     = 30 * time.Second
)

// WSMessage is the envelope of every websocket frame
type WSMessage struct {
	Type   string             `json:"type"`
	Event  *model.Event       `json:"event,omitempty"`
	Status *conversion.Status `json:"status,omitempty"`
}

// Client represents a WebSocket client
type Client struct {
	Conn *websocket.Conn
	Send chan []byte
}

// Hub fans conversion events out to websocket clients
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}

	mu sync.RWMutex
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, BroadcastBuffer),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop until ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("[server] websocket client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
			log.Printf("[server] websocket client unregistered")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.Send <- msg:
				default:
					close(client.Send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a new client. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Len returns the number of connected clients
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastEvent sends a conversion event to all clients
func (h *Hub) BroadcastEvent(event model.Event) {
	data, err := json.Marshal(WSMessage{Type: WSMessageTypeEvent, Event: &event})
	if err != nil {
		log.Printf("[server] failed to marshal event: %v", err)
		return
	}

	select {
	case h.broadcast <- data:
	case <-h.done:
	default:
		log.Printf("[server] broadcast buffer full, dropping %s event", event.Type)
	}
}

// HandleConnection serves one websocket connection, starting with a status snapshot
func (h *Hub) HandleConnection(c *websocket.Conn, status conversion.Status) {
	client := &Client{
		Conn: c,
		Send: make(chan []byte, ClientSendBuffer),
	}

	if data, err := json.Marshal(WSMessage{Type: WSMessageTypeSnapshot, Status: &status}); err == nil {
		client.Send <- data
	}

	if !h.Register(client) {
		return
	}
	defer h.Unregister(client)

	// Pongs go through the writer since the hub may close Send at any time
	pongs := make(chan struct{}, 1)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(PingInterval)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-pongs:
				pong, _ := json.Marshal(WSMessage{Type: WSMessageTypePong})
				if err := c.WriteMessage(websocket.TextMessage, pong); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[server] websocket error: %v", err)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == WSMessageTypePing {
			select {
			case pongs <- struct{}{}:
			default:
			}
		}
	}
}
