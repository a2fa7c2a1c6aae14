package ws

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

const (
	sendBuffer   = 256
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// Client represents a connected WebSocket client. A client belongs to one
// device and is either a dashboard or the device's sensor stream.
type Client struct {
	conn     *websocket.Conn
	deviceID string
	role     string
	send     chan Message
	logger   *zap.Logger
}

func newClient(conn *websocket.Conn, deviceID, role string, logger *zap.Logger) *Client {
	return &Client{
		conn:     conn,
		deviceID: deviceID,
		role:     role,
		send:     make(chan Message, sendBuffer),
		logger:   logger,
	}
}

// Hub tracks the connected clients per device and fans messages out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // device ID -> clients
	logger  *zap.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.deviceID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.deviceID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	wsConnections.WithLabelValues(c.role).Inc()
	h.logger.Debug("websocket client connected",
		zap.String("device_id", c.deviceID),
		zap.String("role", c.role),
	)
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	set := h.clients[c.deviceID]
	if _, ok := set[c]; ok {
		delete(set, c)
		close(c.send)
		if len(set) == 0 {
			delete(h.clients, c.deviceID)
		}
		wsConnections.WithLabelValues(c.role).Dec()
	}
	h.mu.Unlock()

	h.logger.Debug("websocket client disconnected",
		zap.String("device_id", c.deviceID),
		zap.String("role", c.role),
	)
}

// Send delivers msg to the clients of one device that have the given role.
func (h *Hub) Send(deviceID, role string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[deviceID] {
		if c.role == role {
			h.deliver(c, msg)
		}
	}
}

// Broadcast sends msg to every client with the given role.
func (h *Hub) Broadcast(role string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.clients {
		for c := range set {
			if c.role == role {
				h.deliver(c, msg)
			}
		}
	}
}

// deliver queues msg without blocking. Must be called with h.mu held.
func (h *Hub) deliver(c *Client, msg Message) {
	select {
	case c.send <- msg:
	default:
		framesDropped.WithLabelValues("buffer_full").Inc()
		h.logger.Warn("client send buffer full, dropping message",
			zap.String("device_id", c.deviceID),
			zap.String("type", string(msg.Type)),
		)
	}
}

// Online reports whether a client with role is connected for deviceID.
func (h *Hub) Online(deviceID, role string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[deviceID] {
		if c.role == role {
			return true
		}
	}
	return false
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

// CloseAll closes every connection with a going-away status. Pumps exit and
// unregister their clients.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.clients {
		for c := range set {
			if c.conn != nil {
				_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
			}
		}
	}
}

// writePump sends queued messages and keeps the connection alive with pings.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.logger.Debug("websocket ping failed", zap.Error(err))
				return
			}
		case msg, ok := <-c.send:
			if !ok {
				// Channel closed by hub (unregister).
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, c.conn, msg)
			cancel()
			if err != nil {
				c.logger.Debug("websocket write error", zap.Error(err))
				return
			}
		}
	}
}
