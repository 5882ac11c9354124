// Package operator exposes the REST/WebSocket surface operators use to
// send commands and watch telemetry and log output (spec.md §6
// "Operator REST/websocket commands").
package operator

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// StreamType tags what kind of payload a Hub message carries.
type StreamType string

const (
	StreamTelemetry StreamType = "telemetry"
	StreamLog       StreamType = "log"
)

// StreamMessage is one frame pushed to every connected operator client.
type StreamMessage struct {
	Type      StreamType  `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// client is one connected WebSocket operator.
type client struct {
	id   string
	conn *websocket.Conn
	send chan StreamMessage
}

// Hub fans telemetry snapshots and log lines out to every connected
// operator WebSocket client, adapted from the teacher's broadcast-hub
// pattern (internal/websocket/hub.go) with UUID client IDs in place of
// a timestamp-derived one.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*client
	broadcast  chan StreamMessage
	register   chan *client
	unregister chan *client
	done       chan struct{}
}

// NewHub constructs a Hub. Call Run in its own goroutine to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*client),
		broadcast:  make(chan StreamMessage, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run services registration and broadcast until Close is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.RLock()
			for _, c := range h.clients {
				select {
				case c.send <- msg:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Close stops the hub's loop.
func (h *Hub) Close() {
	close(h.done)
}

// ClientCount reports how many operators are currently connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastTelemetry pushes a telemetry snapshot to every client.
func (h *Hub) BroadcastTelemetry(snapshot interface{}) {
	select {
	case h.broadcast <- StreamMessage{Type: StreamTelemetry, Timestamp: time.Now(), Data: snapshot}:
	default:
	}
}

// BroadcastLog implements logger.BroadcastFunc so the hub can be wired
// directly into logger.SetBroadcaster.
func (h *Hub) BroadcastLog(level, message, component string, fields map[string]interface{}) {
	select {
	case h.broadcast <- StreamMessage{
		Type:      StreamLog,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"level":     level,
			"message":   message,
			"component": component,
			"fields":    fields,
		},
	}:
	default:
	}
}

// HandleWebSocket upgrades and services one operator connection.
func (h *Hub) HandleWebSocket(conn *websocket.Conn) {
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan StreamMessage, 64),
	}
	h.register <- c

	go c.writePump()
	c.readPump(h)
}

func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
