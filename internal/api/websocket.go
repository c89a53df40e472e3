package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is one message pushed to websocket subscribers.
type Event struct {
	Type string      `json:"type"` // decision, trade_closed, status
	Time time.Time   `json:"time"`
	Data interface{} `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans engine events out to websocket subscribers. Slow clients are
// dropped, never waited on.
type Hub struct {
	mu        sync.Mutex
	clients   map[*client]bool
	broadcast chan []byte
	log       zerolog.Logger
}

// NewHub creates an event hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:   make(map[*client]bool),
		broadcast: make(chan []byte, 256),
		log:       log,
	}
}

// Publish queues an event for all subscribers. Non-blocking; drops when the
// broadcast queue is full.
func (h *Hub) Publish(typ string, data interface{}) {
	msg, err := json.Marshal(Event{Type: typ, Time: time.Now().UTC(), Data: data})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Debug().Str("type", typ).Msg("event dropped, broadcast queue full")
	}
}

// Run delivers broadcast messages until the context is canceled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if h.clients[c] {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	cl := &client{conn: conn, send: make(chan []byte, 64)}
	s.hub.register(cl)

	go cl.writePump()
	go cl.readPump(s.hub)
}

func (c *client) writePump() {
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound messages; the feed is one-way. Its job is to
// notice the close.
func (c *client) readPump(h *Hub) {
	defer h.unregister(c)
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
