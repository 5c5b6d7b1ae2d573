package signaling

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	sendQueueDepth = 64
	writeWait      = 10 * time.Second
)

// Conn is one connected client: the websocket plus a buffered outbound queue
// drained by a dedicated write pump, so handler goroutines never block on a
// slow client.
type Conn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

func newConn(id string, ws *websocket.Conn, logger *slog.Logger) *Conn {
	return &Conn{
		id:     id,
		ws:     ws,
		send:   make(chan []byte, sendQueueDepth),
		logger: logger,
	}
}

// ID returns the connection identifier.
func (c *Conn) ID() string { return c.id }

// enqueue marshals v and queues it for the write pump. If the client cannot
// keep up the message is dropped; the transport is fire-and-forget. Events
// enqueued after close are dropped: the send channel is only ever closed
// under the same mutex, so a concurrent disconnect cannot panic a sender.
func (c *Conn) enqueue(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("failed to marshal outbound event", "conn_id", c.id, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("outbound queue full, dropping event", "conn_id", c.id)
	}
}

// writePump drains the send queue onto the websocket. It exits when the queue
// is closed, sending a close frame on the way out.
func (c *Conn) writePump() {
	defer c.ws.Close()

	for data := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			c.logger.Debug("write failed", "conn_id", c.id, "error", err)
			return
		}
	}

	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// close shuts the send queue exactly once, which ends the write pump.
// Idempotent.
func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
