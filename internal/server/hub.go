package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jpalmerr/pulseproxy/internal/store"
	"go.uber.org/zap"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing frame buffer depth.
	sendBufSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// CORS is allow-all for the whole API; the socket follows suit.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub manages WebSocket clients and pushes health and stats frames to all of
// them after every refresh round.
type Hub struct {
	current func() [][]byte
	logger  *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// client represents one connected WebSocket client.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a Hub. current supplies the frames sent to a client as soon
// as it connects.
func NewHub(current func() [][]byte, logger *zap.Logger) *Hub {
	return &Hub{
		current: current,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

// Run broadcasts frames for every snapshot published by st. It blocks until
// ctx is cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context, st store.Store) {
	ch := st.Subscribe()
	defer st.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case snap, ok := <-ch:
			if !ok {
				h.closeAll()
				return
			}
			for _, frame := range renderFrames(snap) {
				h.broadcast(frame)
			}
		}
	}
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	// queue the cached frames before registering so they precede broadcasts
	for _, frame := range h.current() {
		select {
		case c.send <- frame:
		default:
		}
	}
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("ws_client_connected", zap.String("client_id", c.id), zap.Int("clients", n))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.logger.Debug("ws_client_disconnected", zap.String("client_id", c.id))
	}
	h.mu.Unlock()
}

// broadcast queues frame for every client. Sends happen under the read
// lock so they cannot race with unregister closing a channel.
func (h *Hub) broadcast(frame []byte) {
	var full []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			full = append(full, c)
		}
	}
	h.mu.RUnlock()

	// outgoing buffer full, drop the client
	for _, c := range full {
		h.unregister(c)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump drains the client's send channel and forwards frames to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// channel closed: hub shutting down or client removed
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection to process control messages
// (pong, close) and detect disconnects. Blocks until the connection closes.
func (c *client) readPump() {
	defer func() { _ = c.conn.Close() }()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
