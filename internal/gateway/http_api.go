package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/jarvis/internal/auth"
	"github.com/haasonsaas/jarvis/internal/sessions"
	"github.com/haasonsaas/jarvis/internal/tools"
	"github.com/haasonsaas/jarvis/pkg/models"
)

const maxRequestBody = 1 << 16

func (s *Server) routes() http.Handler {
	protect := auth.Middleware(s.jwt, s.logger)
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.Handle("GET /ws/{session_id}", protect(http.HandlerFunc(s.handleWebSocket)))
	mux.Handle("GET /api/session/latest", protect(http.HandlerFunc(s.handleLatestSession)))
	mux.Handle("GET /api/session/{session_id}", protect(http.HandlerFunc(s.handleCheckSession)))
	mux.Handle("GET /api/history/{session_id}", protect(http.HandlerFunc(s.handleHistory)))
	mux.Handle("POST /api/sessions/cleanup", protect(http.HandlerFunc(s.handleCleanup)))
	mux.Handle("GET /api/summaries", protect(http.HandlerFunc(s.handleSummaries)))
	mux.Handle("GET /api/tools", protect(http.HandlerFunc(s.handleTools)))

	return s.instrument(s.cors(mux))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
}

type healthResponse struct {
	Status      string `json:"status"`
	LLMProvider string `json:"llm_provider"`
	LLMModel    string `json:"llm_model"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "healthy",
		LLMProvider: s.orchestrator.Provider().Name(),
		LLMModel:    s.model,
	})
}

func (s *Server) handleLatestSession(w http.ResponseWriter, r *http.Request) {
	id, ok, err := s.store.Latest(r.Context())
	if err != nil {
		s.logger.Error(r.Context(), "failed to find latest session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to find latest session")
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

type sessionCheckResponse struct {
	Exists    bool   `json:"exists"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleCheckSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	exists, err := s.store.Exists(r.Context(), id)
	if err != nil {
		s.logger.Error(r.Context(), "failed to check session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to check session")
		return
	}
	writeJSON(w, http.StatusOK, sessionCheckResponse{Exists: exists, SessionID: id})
}

type historyResponse struct {
	SessionID string            `json:"session_id"`
	Messages  []*models.Message `json:"messages"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	messages, err := s.store.GetHistory(r.Context(), id, limit)
	if err != nil && !errors.Is(err, sessions.ErrSessionNotFound) {
		s.logger.Error(r.Context(), "failed to load history", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	writeJSON(w, http.StatusOK, historyResponse{SessionID: id, Messages: messages})
}

type cleanupRequest struct {
	ExcludeSessionID string `json:"exclude_session_id"`
	MinMessages      int    `json:"min_messages"`
}

type cleanupResponse struct {
	Success bool                    `json:"success"`
	Report  *sessions.CleanupReport `json:"report,omitempty"`
	Error   string                  `json:"error,omitempty"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, cleanupResponse{Error: "failed to read request body"})
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, cleanupResponse{Error: "invalid request body"})
			return
		}
	}
	if req.MinMessages <= 0 {
		req.MinMessages = s.config.Cleanup.MinMessages
	}

	report, err := s.RunCleanup(r.Context(), req.ExcludeSessionID, req.MinMessages)
	if err != nil {
		s.logger.Error(r.Context(), "cleanup failed", "error", err)
		writeJSON(w, http.StatusOK, cleanupResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, cleanupResponse{Success: true, Report: report})
}

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	summaries, err := s.store.ListSummaries(r.Context(), sessions.SummaryListOptions{
		Limit: limit,
		Topic: strings.TrimSpace(r.URL.Query().Get("topic")),
	})
	if err != nil {
		s.logger.Error(r.Context(), "failed to list summaries", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list summaries")
		return
	}
	if summaries == nil {
		summaries = []*models.ChatSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"summaries": summaries})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	defs := []tools.Definition{}
	if s.tools != nil {
		defs = append(defs, s.tools.ListSchemas()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": defs})
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
