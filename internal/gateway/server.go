// Package gateway serves the chat WebSocket and the HTTP API in front of the
// orchestrator and the session store.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/jarvis/internal/agent"
	"github.com/haasonsaas/jarvis/internal/auth"
	"github.com/haasonsaas/jarvis/internal/config"
	"github.com/haasonsaas/jarvis/internal/observability"
	"github.com/haasonsaas/jarvis/internal/sessions"
	"github.com/haasonsaas/jarvis/internal/tools"
	"github.com/haasonsaas/jarvis/pkg/models"
)

// Deps are the components the gateway fronts.
type Deps struct {
	Orchestrator *agent.Orchestrator
	Store        sessions.Store
	// Cleaner is optional; without it the cleanup endpoint reports an error.
	Cleaner *sessions.Cleaner
	// Tools is optional and only feeds /api/tools.
	Tools *tools.Dispatcher
	// Model is reported by /api/health.
	Model string

	Metrics *observability.Metrics
	// Gatherer backs /metrics. Defaults to the prometheus default registry.
	Gatherer prometheus.Gatherer
	Tracer   *observability.Tracer
	Logger   *observability.Logger
}

// Server owns the HTTP listener, the connection hub and the cleanup schedule.
type Server struct {
	config       *config.Config
	orchestrator *agent.Orchestrator
	store        sessions.Store
	cleaner      *sessions.Cleaner
	tools        *tools.Dispatcher
	model        string

	hub      *Hub
	jwt      *auth.JWTService
	upgrader websocket.Upgrader
	handler  http.Handler

	metrics  *observability.Metrics
	gatherer prometheus.Gatherer
	tracer   *observability.Tracer
	logger   *observability.Logger

	// ctx outlives individual connections so turns survive a disconnect.
	ctx    context.Context
	cancel context.CancelFunc
	turns  sync.WaitGroup

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	scheduler  *cron.Cron
	startTime  time.Time
}

// New builds a server. cfg must already carry defaults.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if deps.Store == nil {
		return nil, errors.New("session store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:       cfg,
		orchestrator: deps.Orchestrator,
		store:        deps.Store,
		cleaner:      deps.Cleaner,
		tools:        deps.Tools,
		model:        deps.Model,
		hub:          NewHub(deps.Metrics, logger),
		jwt:          auth.NewJWTService(cfg.Server.Auth.JWTSecret, cfg.Server.Auth.TokenExpiry),
		metrics:      deps.Metrics,
		gatherer:     gatherer,
		tracer:       deps.Tracer,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		startTime:    time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  8192,
		WriteBufferSize: 8192,
		CheckOrigin:     s.checkOrigin,
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the full HTTP handler, middleware included.
func (s *Server) Handler() http.Handler { return s.handler }

// Hub returns the connection hub.
func (s *Server) Hub() *Hub { return s.hub }

// Start listens on the configured address and starts the cleanup schedule.
// It returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return errors.New("server already started")
	}

	addr := s.config.Server.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}
	if err := s.startScheduler(); err != nil {
		_ = listener.Close()
		return err
	}

	s.httpServer = server
	s.listener = listener
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, "http server error", "error", err)
		}
	}()
	s.logger.Info(ctx, "starting http server", "addr", listener.Addr().String())
	return nil
}

// Addr is the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run starts the server and blocks until ctx is done, then shuts down within
// the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.Server.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests, lets running turns finish until ctx is
// done, then cancels whatever is left and closes every connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.httpServer
	scheduler := s.scheduler
	s.httpServer = nil
	s.listener = nil
	s.scheduler = nil
	s.mu.Unlock()

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	var shutdownErr error
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "http server shutdown error", "error", err)
			shutdownErr = err
		}
	}

	done := make(chan struct{})
	go func() {
		s.turns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn(ctx, "cancelling turns still running at shutdown", "active", s.orchestrator.Turns().Active())
	}
	s.cancel()
	s.hub.closeAll()
	<-done
	return shutdownErr
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return originAllowed(s.config.Server.CORSOrigins, origin)
}

func originAllowed(allowed []string, origin string) bool {
	return slices.Contains(allowed, "*") || slices.ContainsFunc(allowed, func(o string) bool {
		return strings.EqualFold(strings.TrimRight(o, "/"), origin)
	})
}

// handleWebSocket attaches one device to the session named in the path.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("session_id"))
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	ws := s.config.Server.WebSocket
	connID := uuid.NewString()
	ctx := observability.AddSessionID(s.ctx, sessionID)
	c := newWSConn(ctx, connID, sessionID, conn, ws.SendBuffer, wsLimits{
		maxPayload:   ws.MaxPayloadBytes,
		pingInterval: ws.PingInterval,
		pongWait:     ws.PongWait,
		writeWait:    ws.WriteWait,
	}, s.logger)

	s.hub.attach(c)
	s.logger.Info(ctx, "client connected", "conn_id", connID, "connections", s.hub.Connections(sessionID))

	go c.writeLoop()
	c.readLoop(func(raw []byte) { s.handleFrame(c, raw) })
	c.close()

	remaining := s.hub.detach(c)
	s.logger.Info(ctx, "client disconnected", "conn_id", connID, "connections", remaining)
	if remaining == 0 && s.config.Orchestrator.CancelOnDisconnect && s.orchestrator.Stop(sessionID) {
		s.logger.Info(ctx, "stopping turn after last client left")
	}
}

func (s *Server) handleFrame(c *wsConn, raw []byte) {
	frame, err := decodeFrame(raw)
	if err != nil {
		var fe *frameError
		if errors.As(err, &fe) {
			s.sendError(c, models.CodeInvalidFrame, fe.Error())
			return
		}
		s.logger.Error(c.ctx, "failed to decode frame", "error", err)
		s.sendError(c, models.CodeInternal, "Internal error")
		return
	}

	switch frame.Type {
	case frameMessage, frameSendMessage:
		s.startTurn(c, frame.Content)
	case frameGetHistory:
		s.sendHistory(c, frame.Limit)
	case frameStop:
		if s.orchestrator.Stop(c.sessionID) {
			s.logger.Info(c.ctx, "stop requested", "conn_id", c.id)
		} else {
			s.logger.Debug(c.ctx, "stop requested with no active turn", "conn_id", c.id)
		}
	}
}

// startTurn runs the turn on the server context; its events go to every
// connection of the session.
func (s *Server) startTurn(c *wsConn, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		s.sendError(c, models.CodeInvalidFrame, "Empty message")
		return
	}
	if s.orchestrator.IsBusy(c.sessionID) {
		s.sendError(c, models.CodeTurnInProgress, "A response is already being generated for this session.")
		return
	}

	s.turns.Add(1)
	go func() {
		defer s.turns.Done()
		ctx := observability.AddRequestID(s.ctx, c.id)
		// Only the sender hears that its message was refused.
		toSender := agent.SinkFunc(func(_ context.Context, e models.Event) { s.send(c, e) })
		result, err := s.orchestrator.Run(ctx, c.sessionID, content, s.hub.Sink(c.sessionID), agent.WithRejectSink(toSender))
		if err != nil {
			s.logger.Warn(ctx, "turn ended with error", "session_id", c.sessionID, "error", err)
			return
		}
		s.logger.Debug(ctx, "turn finished", "session_id", c.sessionID, "state", result.State)
	}()
}

func (s *Server) sendHistory(c *wsConn, limit int) {
	messages, err := s.store.GetHistory(c.ctx, c.sessionID, limit)
	if err != nil && !errors.Is(err, sessions.ErrSessionNotFound) {
		s.logger.Error(c.ctx, "failed to load history", "error", err)
		s.sendError(c, models.CodeStoreError, "Failed to load history")
		return
	}
	s.send(c, models.Event{Type: models.EventHistory, Messages: messages})
}

func (s *Server) sendError(c *wsConn, code, message string) {
	s.send(c, models.ErrorEvent(c.sessionID, code, message))
}

func (s *Server) send(c *wsConn, e models.Event) {
	if err := c.enqueue(e); err != nil && !errors.Is(err, ErrTransportDisconnected) {
		s.logger.Warn(c.ctx, "failed to send event", "conn_id", c.id, "event", e.Type, "error", err)
	}
}
