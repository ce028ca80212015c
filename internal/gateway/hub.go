package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/haasonsaas/jarvis/internal/agent"
	"github.com/haasonsaas/jarvis/internal/observability"
	"github.com/haasonsaas/jarvis/pkg/models"
)

// Hub tracks the connections attached to each session so that every device
// on a session sees the same events.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*wsConn
	metrics  *observability.Metrics
	logger   *observability.Logger
}

func NewHub(metrics *observability.Metrics, logger *observability.Logger) *Hub {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Hub{
		sessions: make(map[string]map[string]*wsConn),
		metrics:  metrics,
		logger:   logger,
	}
}

func (h *Hub) attach(c *wsConn) {
	h.mu.Lock()
	conns := h.sessions[c.sessionID]
	if conns == nil {
		conns = make(map[string]*wsConn)
		h.sessions[c.sessionID] = conns
	}
	conns[c.id] = c
	h.mu.Unlock()
	h.metrics.ConnectionOpened()
}

// detach removes c and returns how many connections remain on its session.
func (h *Hub) detach(c *wsConn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.sessions[c.sessionID]
	if _, ok := conns[c.id]; !ok {
		return len(conns)
	}
	delete(conns, c.id)
	h.metrics.ConnectionClosed()
	if len(conns) == 0 {
		delete(h.sessions, c.sessionID)
		return 0
	}
	return len(conns)
}

// Connections returns the number of devices attached to sessionID.
func (h *Hub) Connections(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

func (h *Hub) snapshot(sessionID string) []*wsConn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*wsConn, 0, len(h.sessions[sessionID]))
	for _, c := range h.sessions[sessionID] {
		conns = append(conns, c)
	}
	return conns
}

// Broadcast enqueues e on every connection of sessionID. Connections that
// have gone away are skipped.
func (h *Hub) Broadcast(ctx context.Context, sessionID string, e models.Event) {
	for _, c := range h.snapshot(sessionID) {
		if err := c.enqueue(e); err != nil {
			if errors.Is(err, ErrTransportDisconnected) {
				h.logger.Debug(ctx, "skipping disconnected client", "conn_id", c.id, "event", e.Type)
				continue
			}
			h.logger.Warn(ctx, "failed to send event", "conn_id", c.id, "event", e.Type, "error", err)
		}
	}
}

// Sink returns an EventSink that broadcasts to sessionID.
func (h *Hub) Sink(sessionID string) agent.EventSink {
	return agent.SinkFunc(func(ctx context.Context, e models.Event) {
		h.Broadcast(ctx, sessionID, e)
	})
}

// closeAll disconnects every client.
func (h *Hub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conns := range h.sessions {
		for _, c := range conns {
			c.close()
		}
	}
}
