package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/jarvis/internal/agent"
	"github.com/haasonsaas/jarvis/internal/observability"
)

func TestWebhookPostsMessageAndSession(t *testing.T) {
	var got webhookRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		fmt.Fprint(w, `{"output":"Good evening, Sir."}`)
	}))
	defer srv.Close()

	p, err := NewWebhookProvider(WebhookConfig{URL: srv.URL})
	if err != nil {
		t.Fatalf("NewWebhookProvider() error = %v", err)
	}
	ctx := observability.AddSessionID(context.Background(), "sess-1")
	req := &agent.CompletionRequest{Messages: []agent.CompletionMessage{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "hello"},
	}}
	chunks, err := p.Complete(ctx, req)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	out := drain(t, chunks)
	if textOf(out) != "Good evening, Sir." || !lastChunk(t, out).Done {
		t.Fatalf("chunks = %+v", out)
	}
	if got.Message != "hello" || got.SessionID != "sess-1" {
		t.Fatalf("request = %+v", got)
	}
}

func TestExtractWebhookReply(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"response":"a"}`, "a"},
		{`{"text":"b","other":"z"}`, "b"},
		{`{"count":3,"answer":"c"}`, "c"},
		{`[{"output":"d"}]`, "d"},
		{`"e"`, "e"},
		{`plain words`, "plain words"},
		{`{"count":3}`, "No response received"},
		{``, "No response received"},
	}
	for _, tt := range tests {
		if got := extractWebhookReply([]byte(tt.body)); got != tt.want {
			t.Errorf("extractWebhookReply(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	p, _ := NewWebhookProvider(WebhookConfig{URL: srv.URL, MaxRetries: 2, RetryDelay: time.Millisecond})
	chunks, err := p.Complete(context.Background(), userRequest("hi"))
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if textOf(drain(t, chunks)) != "ok" || attempts.Load() != 2 {
		t.Fatalf("attempts = %d", attempts.Load())
	}
}

func TestWebhookErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p, _ := NewWebhookProvider(WebhookConfig{URL: srv.URL, MaxRetries: 3, RetryDelay: time.Millisecond})
	_, err := p.Complete(context.Background(), userRequest("hi"))
	pe, ok := GetProviderError(err)
	if !ok || pe.Reason != FailoverAuth || pe.Status != http.StatusForbidden {
		t.Fatalf("Complete() error = %v", err)
	}

	_, err = p.Complete(context.Background(), &agent.CompletionRequest{})
	if pe, ok := GetProviderError(err); !ok || pe.Reason != FailoverInvalidRequest {
		t.Fatalf("empty request error = %v", err)
	}
	if _, err := NewWebhookProvider(WebhookConfig{}); err == nil {
		t.Fatal("missing url should fail")
	}
}
