package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/lofivibes/api/internal/model"
)

// Client represents a WebSocket client. Send is never closed; the hub closes
// done when it drops the client.
type Client struct {
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte

	done chan struct{}
}

// NewClient creates a client with a send buffer of size buffer.
func NewClient(sessionID string, conn *websocket.Conn, buffer int) *Client {
	return &Client{
		SessionID: sessionID,
		Conn:      conn,
		Send:      make(chan []byte, buffer),
		done:      make(chan struct{}),
	}
}

// Done is closed once the hub has dropped the client.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// queue offers data to the writer without blocking. It reports false when
// the buffer is full or the client has been dropped.
func (c *Client) queue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by session ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	mu sync.RWMutex
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	SessionID string
	Message   []byte
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.SessionID] == nil {
				h.clients[client.SessionID] = make(map[*Client]bool)
			}
			h.clients[client.SessionID][client] = true
			h.mu.Unlock()
			log.Printf("Client registered for session %s", client.SessionID)

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
			log.Printf("Client unregistered from session %s", client.SessionID)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.SessionID] {
				select {
				case client.Send <- msg.Message:
				default:
					// Slow consumer; drop it rather than stall every session.
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.clients[client.SessionID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.done)
	if len(clients) == 0 {
		delete(h.clients, client.SessionID)
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribers returns the number of clients watching a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// BroadcastState sends the full session view to its subscribers
func (h *Hub) BroadcastState(sessionID string, view *model.SessionView) {
	data, err := StateMessage(sessionID, view)
	if err != nil {
		log.Printf("Failed to marshal state message: %v", err)
		return
	}
	h.send(sessionID, data)
}

// BroadcastPreview sends the current preview frame index
func (h *Hub) BroadcastPreview(sessionID string, frame int) {
	data, err := json.Marshal(model.WSPreviewMessage{
		Type:      model.WSMessageTypePreview,
		SessionID: sessionID,
		Frame:     frame,
	})
	if err != nil {
		log.Printf("Failed to marshal preview message: %v", err)
		return
	}
	h.send(sessionID, data)
}

func (h *Hub) send(sessionID string, data []byte) {
	select {
	case h.broadcast <- &BroadcastMessage{SessionID: sessionID, Message: data}:
	default:
		log.Printf("Broadcast queue full, dropping message for session %s", sessionID)
	}
}

// StateMessage encodes a state message for sessionID.
func StateMessage(sessionID string, view *model.SessionView) ([]byte, error) {
	return json.Marshal(model.WSStateMessage{
		Type:      model.WSMessageTypeState,
		SessionID: sessionID,
		Session:   *view,
	})
}

// HandleConnection handles a WebSocket connection. initial, when non-nil,
// is written before any broadcast.
func (h *Hub) HandleConnection(c *websocket.Conn, sessionID string, initial []byte) {
	client := NewClient(sessionID, c, 256)
	if initial != nil {
		client.Send <- initial
	}

	h.Register(client)
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-client.done:
				c.WriteMessage(websocket.CloseMessage, []byte{})
				return

			case message := <-client.Send:
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
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
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong := model.WSMessage{Type: model.WSMessageTypePong}
			data, _ := json.Marshal(pong)
			client.queue(data)
		}
	}
}
