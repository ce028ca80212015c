package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/jarvis/internal/observability"
	"github.com/haasonsaas/jarvis/pkg/models"
)

// ErrTransportDisconnected is returned when an event is sent to a connection
// that has gone away. It is logged, never reported to clients.
var ErrTransportDisconnected = errors.New("transport disconnected")

// wsConn is one attached device. A single writer goroutine drains send, so
// frames leave in the order they were enqueued.
type wsConn struct {
	id        string
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	limits    wsLimits
	logger    *observability.Logger

	// mu orders seq assignment with the channel send.
	mu  sync.Mutex
	seq int64
}

type wsLimits struct {
	maxPayload   int64
	pingInterval time.Duration
	pongWait     time.Duration
	writeWait    time.Duration
}

func newWSConn(ctx context.Context, id, sessionID string, conn *websocket.Conn, buffer int, limits wsLimits, logger *observability.Logger) *wsConn {
	ctx, cancel := context.WithCancel(ctx)
	if buffer <= 0 {
		buffer = 64
	}
	return &wsConn{
		id:        id,
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, buffer),
		ctx:       ctx,
		cancel:    cancel,
		limits:    limits,
		logger:    logger,
	}
}

// enqueue stamps e with the next sequence number and blocks until the writer
// has room or the connection closes.
func (c *wsConn) enqueue(e models.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx.Err() != nil {
		return ErrTransportDisconnected
	}
	c.seq++
	e.Seq = c.seq
	if e.SessionID == "" {
		e.SessionID = c.sessionID
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		c.seq--
		return fmt.Errorf("failed to encode event: %w", err)
	}
	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return ErrTransportDisconnected
	}
}

// readLoop delivers text frames to handle until the peer goes away.
func (c *wsConn) readLoop(handle func(raw []byte)) {
	c.conn.SetReadLimit(c.limits.maxPayload)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.limits.pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.limits.pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.logger.Debug(c.ctx, "websocket read ended", "conn_id", c.id, "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		handle(data)
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(c.limits.pingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case <-c.ctx.Done():
			deadline := time.Now().Add(c.limits.writeWait)
			closing := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, closing, deadline) //nolint:errcheck
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.limits.writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug(c.ctx, "websocket write failed", "conn_id", c.id, "error", err)
				c.cancel()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.limits.writeWait)); err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (c *wsConn) close() {
	c.cancel()
}
