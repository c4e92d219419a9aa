package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/slipstream/indexarr/internal/indexer/types"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512
	sendBuffer     = 64
)

// Event types pushed to subscribers.
const (
	EventIndexerAdded   = "indexer:added"
	EventIndexerUpdated = "indexer:updated"
	EventIndexerRemoved = "indexer:removed"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Callers are authenticated by API key, not by origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Message is one event frame.
type Message struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
	Timestamp string `json:"timestamp"`
}

// Hub fans indexer change events out to the connected clients. It
// implements indexer.ChangeListener.
type Hub struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger.With().Str("component", "websocket").Logger(),
		clients: make(map[*client]struct{}),
	}
}

// Broadcast sends an event to every client. Clients whose buffer is full are
// dropped.
func (h *Hub) Broadcast(msgType string, payload any) error {
	data, err := json.Marshal(Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			c.close()
		}
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
}

// HandleWebSocket upgrades the request and streams events until the peer
// goes away.
// GET /api/v1/ws
func (h *Hub) HandleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	cl := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.add(cl) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		return conn.Close()
	}
	h.logger.Debug().Str("remote", c.RealIP()).Msg("Client connected")

	go h.writePump(cl)
	go h.readPump(cl)
	return nil
}

// readPump only drains control frames; clients do not send commands.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("Client read failed")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type indexerPayload struct {
	ID             int64  `json:"id"`
	Name           string `json:"name,omitempty"`
	Implementation string `json:"implementation,omitempty"`
	Enabled        bool   `json:"enabled"`
}

func payloadOf(def *types.IndexerDefinition) indexerPayload {
	return indexerPayload{ID: def.ID, Name: def.Name, Implementation: def.Implementation, Enabled: def.Enabled}
}

func (h *Hub) publish(msgType string, payload any) {
	if err := h.Broadcast(msgType, payload); err != nil {
		h.logger.Warn().Err(err).Str("type", msgType).Msg("Failed to broadcast event")
	}
}

// IndexerAdded announces a new indexer.
func (h *Hub) IndexerAdded(_ context.Context, def *types.IndexerDefinition) {
	h.publish(EventIndexerAdded, payloadOf(def))
}

// IndexerUpdated announces a changed indexer.
func (h *Hub) IndexerUpdated(_ context.Context, def *types.IndexerDefinition) {
	h.publish(EventIndexerUpdated, payloadOf(def))
}

// IndexerRemoved announces a deleted indexer.
func (h *Hub) IndexerRemoved(_ context.Context, id int64) {
	h.publish(EventIndexerRemoved, indexerPayload{ID: id})
}
