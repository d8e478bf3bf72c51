package handlers

import (
	"sort"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"watchparty-backend/internal/metrics"
	"watchparty-backend/internal/models"
)

const (
	writeWait    = 10 * time.Second
	pingPeriod   = 30 * time.Second
	readTimeout  = 60 * time.Second
	maxFrameSize = 64 * 1024

	// DefaultSendBuffer is the per-connection outbound queue length.
	DefaultSendBuffer = 256
)

// Client is one websocket connection. It is the room.Peer the rooms deliver
// to: Send only queues, and writePump owns the socket for writing.
type Client struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	identity models.Identity
	authed   bool
	metrics  *metrics.Metrics

	mu       sync.Mutex
	closed   bool
	roomCode string
}

func newClient(id string, conn *websocket.Conn, buffer int, m *metrics.Metrics) *Client {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
		metrics: m,
	}
}

func (c *Client) ID() string { return c.id }

// Send queues frame without blocking. A full queue drops the frame.
func (c *Client) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// sendEvent encodes and queues a frame addressed only to this client.
func (c *Client) sendEvent(event string, payload interface{}) bool {
	frame, err := models.EncodeMessage(event, payload)
	if err != nil {
		return false
	}
	if !c.Send(frame) {
		c.metrics.IncDropped(metrics.DropBufferFull)
		return false
	}
	return true
}

// RoomCode is the room this connection is bound to, or "".
func (c *Client) RoomCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomCode
}

// bind attaches the connection to code. A connection binds at most once.
func (c *Client) bind(code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roomCode != "" {
		return false
	}
	c.roomCode = code
	return true
}

// close stops accepting frames; writePump drains what is queued and exits.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("write error for client", zap.String("connection_id", c.id), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ClientManager tracks every open connection, bound to a room or not.
type ClientManager struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewClientManager() *ClientManager {
	return &ClientManager{clients: make(map[string]*Client)}
}

func (m *ClientManager) Register(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.id] = c
}

func (m *ClientManager) Unregister(connID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[connID]; !ok {
		return false
	}
	delete(m.clients, connID)
	return true
}

func (m *ClientManager) Get(connID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[connID]
	return c, ok
}

// Count returns the number of open connections.
func (m *ClientManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// CountInRoom returns how many open connections are bound to code.
func (m *ClientManager) CountInRoom(code string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.clients {
		if c.RoomCode() == code {
			n++
		}
	}
	return n
}

// IDs lists open connection ids in sorted order.
func (m *ClientManager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CloseAll closes every connection's outbound queue. Used on shutdown so that
// read loops end and run their leave path.
func (m *ClientManager) CloseAll() {
	m.mu.RLock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
}
