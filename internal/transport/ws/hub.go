package ws

import (
	"encoding/json"
	"log"
	"sync"
)

// MessageType defines the type of WebSocket message. The values on the wire
// are the service.Msg* constants.
type MessageType string

// Message is the WebSocket envelope format.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Hub manages per-user WebSocket connections. A queued or matched user holds
// one connection and receives match and session events on it.
type Hub struct {
	conns map[string]*Connection // userID -> connection

	mu sync.RWMutex

	register   chan *Connection
	unregister chan *Connection
	outbound   chan *outboundMessage
}

// Connection represents one user's WebSocket connection.
type Connection struct {
	UserID string
	Send   chan []byte
	Hub    *Hub
}

type outboundMessage struct {
	userID  string
	message *Message
}

// NewHub creates a hub and starts its dispatch loop.
func NewHub() *Hub {
	h := &Hub{
		conns:      make(map[string]*Connection),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		outbound:   make(chan *outboundMessage, 256),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			if existing, ok := h.conns[conn.UserID]; ok {
				close(existing.Send)
			}
			h.conns[conn.UserID] = conn
			h.mu.Unlock()
			log.Printf("WS: user %s connected", conn.UserID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if existing, ok := h.conns[conn.UserID]; ok && existing == conn {
				delete(h.conns, conn.UserID)
				close(conn.Send)
				log.Printf("WS: user %s disconnected", conn.UserID)
			}
			h.mu.Unlock()

		case out := <-h.outbound:
			data, err := json.Marshal(out.message)
			if err != nil {
				log.Printf("WS: failed to marshal message: %v", err)
				continue
			}
			h.mu.RLock()
			conn, ok := h.conns[out.userID]
			h.mu.RUnlock()
			if !ok {
				continue // user not connected; events are best-effort
			}
			select {
			case conn.Send <- data:
			default:
				log.Printf("WS: send buffer full for user %s, dropping message", out.userID)
			}
		}
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister removes a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// Notify implements service.Notifier: push one event to one user.
func (h *Hub) Notify(userID string, msgType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("WS: failed to marshal payload for %s: %v", userID, err)
		return
	}
	h.outbound <- &outboundMessage{
		userID:  userID,
		message: &Message{Type: MessageType(msgType), Payload: data},
	}
}
