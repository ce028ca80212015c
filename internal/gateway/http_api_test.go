package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/jarvis/internal/agent/providers"
	"github.com/haasonsaas/jarvis/internal/auth"
	"github.com/haasonsaas/jarvis/internal/config"
	"github.com/haasonsaas/jarvis/internal/tools"
	"github.com/haasonsaas/jarvis/pkg/models"
)

func doRequest(t *testing.T, h http.Handler, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func seedSession(t *testing.T, env *testEnv, id string, messages int) {
	t.Helper()
	ctx := context.Background()
	if _, err := env.store.GetOrCreate(ctx, id); err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	for i := range messages {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		if err := env.store.AppendMessage(ctx, id, &models.Message{Role: role, Content: "message"}); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, providers.NewMockProvider("mock", 0))
	h := env.srv.Handler()

	rec := doRequest(t, h, http.MethodGet, "/api/health", "", nil)
	health := decodeBody[healthResponse](t, rec)
	if rec.Code != http.StatusOK || health.Status != "healthy" || health.LLMProvider != "mock" || health.LLMModel != "test-model" {
		t.Fatalf("health = %d %+v", rec.Code, health)
	}

	rec = doRequest(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("healthz = %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
}

func TestLatestSession(t *testing.T) {
	env := newTestEnv(t, providers.NewMockProvider("mock", 0))
	h := env.srv.Handler()

	rec := doRequest(t, h, http.MethodGet, "/api/session/latest", "", nil)
	if strings.TrimSpace(rec.Body.String()) != "{}" {
		t.Fatalf("latest with no sessions = %s", rec.Body.String())
	}

	seedSession(t, env, "older", 1)
	time.Sleep(2 * time.Millisecond)
	seedSession(t, env, "newer", 1)

	rec = doRequest(t, h, http.MethodGet, "/api/session/latest", "", nil)
	got := decodeBody[map[string]string](t, rec)
	if got["session_id"] != "newer" {
		t.Fatalf("latest = %v", got)
	}
}

func TestCheckSessionAndHistory(t *testing.T) {
	env := newTestEnv(t, providers.NewMockProvider("mock", 0))
	h := env.srv.Handler()
	seedSession(t, env, "s1", 4)

	check := decodeBody[sessionCheckResponse](t, doRequest(t, h, http.MethodGet, "/api/session/s1", "", nil))
	if !check.Exists || check.SessionID != "s1" {
		t.Fatalf("check s1 = %+v", check)
	}
	missing := decodeBody[sessionCheckResponse](t, doRequest(t, h, http.MethodGet, "/api/session/nope", "", nil))
	if missing.Exists || missing.SessionID != "nope" {
		t.Fatalf("check nope = %+v", missing)
	}

	all := decodeBody[historyResponse](t, doRequest(t, h, http.MethodGet, "/api/history/s1", "", nil))
	if all.SessionID != "s1" || len(all.Messages) != 4 {
		t.Fatalf("history = %+v", all)
	}
	limited := decodeBody[historyResponse](t, doRequest(t, h, http.MethodGet, "/api/history/s1?limit=2", "", nil))
	if len(limited.Messages) != 2 || limited.Messages[1].Seq != all.Messages[3].Seq {
		t.Fatalf("limited history = %+v", limited.Messages)
	}

	rec := doRequest(t, h, http.MethodGet, "/api/history/nope", "", nil)
	if !strings.Contains(rec.Body.String(), `"messages":[]`) {
		t.Fatalf("unknown session history = %s", rec.Body.String())
	}
	if rec := doRequest(t, h, http.MethodGet, "/api/history/s1?limit=abc", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rec.Code)
	}
}

func TestCleanupEndpoint(t *testing.T) {
	env := newTestEnv(t, providers.NewMockProvider("mock", 0))
	h := env.srv.Handler()
	seedSession(t, env, "short", 1)
	seedSession(t, env, "long", 5)
	seedSession(t, env, "current", 3)

	rec := doRequest(t, h, http.MethodPost, "/api/sessions/cleanup", `{"exclude_session_id":"current","min_messages":2}`, nil)
	resp := decodeBody[cleanupResponse](t, rec)
	if !resp.Success || resp.Report == nil {
		t.Fatalf("cleanup = %s", rec.Body.String())
	}
	if resp.Report.SessionsDeleted != 1 || resp.Report.SessionsSummarized != 1 {
		t.Fatalf("report = %+v", resp.Report)
	}

	ctx := context.Background()
	if exists, _ := env.store.Exists(ctx, "short"); exists {
		t.Fatal("session below the minimum should be deleted")
	}
	msgs, err := env.store.GetHistory(ctx, "long", 0)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(msgs) != 1 || !msgs[0].IsSummary() {
		t.Fatalf("long session = %+v", msgs)
	}
	if n, _ := env.store.CountMessages(ctx, "current"); n != 3 {
		t.Fatalf("excluded session has %d messages", n)
	}

	again := decodeBody[cleanupResponse](t, doRequest(t, h, http.MethodPost, "/api/sessions/cleanup", `{"exclude_session_id":"current"}`, nil))
	if !again.Success || again.Report.SessionsDeleted != 0 || again.Report.SessionsSummarized != 0 {
		t.Fatalf("second cleanup = %+v", again.Report)
	}

	bad := doRequest(t, h, http.MethodPost, "/api/sessions/cleanup", `{nope`, nil)
	if bad.Code != http.StatusBadRequest || decodeBody[cleanupResponse](t, bad).Success {
		t.Fatalf("bad body = %d %s", bad.Code, bad.Body.String())
	}
}

func TestSummariesEndpoint(t *testing.T) {
	env := newTestEnv(t, providers.NewMockProvider("mock", 0))
	h := env.srv.Handler()
	seedSession(t, env, "long", 4)
	seedSession(t, env, "current", 1)
	doRequest(t, h, http.MethodPost, "/api/sessions/cleanup", `{"exclude_session_id":"current"}`, nil)

	got := decodeBody[map[string][]models.ChatSummary](t, doRequest(t, h, http.MethodGet, "/api/summaries?topic=servers", "", nil))
	if len(got["summaries"]) != 1 || got["summaries"][0].SessionID != "long" {
		t.Fatalf("summaries = %+v", got)
	}
	none := decodeBody[map[string][]models.ChatSummary](t, doRequest(t, h, http.MethodGet, "/api/summaries?topic=cooking", "", nil))
	if len(none["summaries"]) != 0 {
		t.Fatalf("filtered summaries = %+v", none)
	}
}

func TestToolsEndpoint(t *testing.T) {
	dispatcher := tools.NewDispatcher()
	for _, def := range tools.DefaultRemoteDefinitions() {
		if err := dispatcher.RegisterRemote(def); err != nil {
			t.Fatalf("RegisterRemote() error = %v", err)
		}
	}
	env := newTestEnv(t, providers.NewMockProvider("mock", 0), withDispatcher(dispatcher))

	got := decodeBody[map[string][]tools.Definition](t, doRequest(t, env.srv.Handler(), http.MethodGet, "/api/tools", "", nil))
	if len(got["tools"]) != len(tools.DefaultRemoteDefinitions()) {
		t.Fatalf("tools = %d", len(got["tools"]))
	}
}

func TestAuthGuardsAPIAndWebSocket(t *testing.T) {
	env := newTestEnv(t, providers.NewMockProvider("mock", 0), withConfig(func(cfg *config.Config) {
		cfg.Server.Auth.JWTSecret = "secret"
	}))
	h := env.srv.Handler()
	token, err := auth.NewJWTService("secret", time.Hour).Generate("tony", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if rec := doRequest(t, h, http.MethodGet, "/api/tools", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", rec.Code)
	}
	header := http.Header{"Authorization": {"Bearer " + token}}
	if rec := doRequest(t, h, http.MethodGet, "/api/tools", "", header); rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d", rec.Code)
	}
	if rec := doRequest(t, h, http.MethodGet, "/api/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("health should stay open, got %d", rec.Code)
	}

	conn := env.dialWith(t, "/ws/s1?token="+token, nil)
	send(t, conn, `{"type":"get_history"}`)
	if e := readEvent(t, conn); e.Type != models.EventHistory {
		t.Fatalf("event = %+v", e)
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, providers.NewMockProvider("mock", 0), withConfig(func(cfg *config.Config) {
		cfg.Server.CORSOrigins = []string{"http://localhost:3000"}
	}))
	h := env.srv.Handler()

	preflight := doRequest(t, h, http.MethodOptions, "/api/sessions/cleanup", "", http.Header{
		"Origin":                        {"http://localhost:3000"},
		"Access-Control-Request-Method": {"POST"},
	})
	if preflight.Code != http.StatusNoContent || preflight.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("preflight = %d %v", preflight.Code, preflight.Header())
	}

	foreign := doRequest(t, h, http.MethodGet, "/api/health", "", http.Header{"Origin": {"http://evil.example"}})
	if foreign.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("foreign origin must not be allowed")
	}
}

func TestMetricsEndpointRecordsRoutes(t *testing.T) {
	env := newTestEnv(t, providers.NewMockProvider("mock", 0))
	h := env.srv.Handler()
	doRequest(t, h, http.MethodGet, "/api/session/abc", "", nil)

	rec := doRequest(t, h, http.MethodGet, "/metrics", "", nil)
	body := rec.Body.String()
	if !strings.Contains(body, "jarvis_http_requests_total") || !strings.Contains(body, `/api/session/{session_id}`) {
		t.Fatalf("metrics missing route label:\n%s", body)
	}
}

func TestScheduledCleanupKeepsLatest(t *testing.T) {
	env := newTestEnv(t, providers.NewMockProvider("mock", 0))
	seedSession(t, env, "old", 1)
	time.Sleep(2 * time.Millisecond)
	seedSession(t, env, "latest", 1)

	env.srv.runScheduledCleanup(context.Background())

	ctx := context.Background()
	if exists, _ := env.store.Exists(ctx, "old"); exists {
		t.Fatal("old session should be cleaned up")
	}
	if exists, _ := env.store.Exists(ctx, "latest"); !exists {
		t.Fatal("latest session must be kept")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	env := newTestEnv(t, providers.NewMockProvider("mock", 0), withConfig(func(cfg *config.Config) {
		cfg.Server.Host = "127.0.0.1"
		cfg.Server.HTTPPort = 0
		cfg.Cleanup.Enabled = true
		cfg.Cleanup.Schedule = "not a schedule"
	}))
	if err := env.srv.Start(context.Background()); err == nil {
		t.Fatal("expected an invalid schedule error")
	}
}

func TestStartAndShutdown(t *testing.T) {
	env := newTestEnv(t, providers.NewMockProvider("mock", 0), withConfig(func(cfg *config.Config) {
		cfg.Server.Host = "127.0.0.1"
		cfg.Server.HTTPPort = 0
		cfg.Cleanup.Enabled = true
	}))
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	resp, err := http.Get("http://" + env.srv.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if env.srv.Addr() != "" {
		t.Fatal("Addr() should be empty after shutdown")
	}
}
