package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/haasonsaas/jarvis/internal/agent"
	"github.com/haasonsaas/jarvis/internal/observability"
)

// WebhookConfig configures a provider that forwards the latest user message
// to an automation webhook (an n8n chat workflow, for example).
type WebhookConfig struct {
	Name       string
	URL        string
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
	Headers    map[string]string
	// MaxResponseBytes caps the reply body. Defaults to 1 MiB.
	MaxResponseBytes int64
}

// WebhookProvider posts {"message", "sessionId"} and streams the reply as a
// single chunk. The workflow owns its own memory and tools.
type WebhookProvider struct {
	BaseProvider
	url      string
	client   *http.Client
	headers  map[string]string
	maxBytes int64
}

var _ agent.LLMProvider = (*WebhookProvider)(nil)

// NewWebhookProvider creates a webhook provider.
func NewWebhookProvider(cfg WebhookConfig) (*WebhookProvider, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("webhook: url is required")
	}
	if cfg.Name == "" {
		cfg.Name = "webhook"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = 1 << 20
	}
	return &WebhookProvider{
		BaseProvider: NewBaseProvider(cfg.Name, "webhook", cfg.MaxRetries, cfg.RetryDelay),
		url:          cfg.URL,
		client:       &http.Client{Timeout: cfg.Timeout},
		headers:      cfg.Headers,
		maxBytes:     cfg.MaxResponseBytes,
	}, nil
}

func (p *WebhookProvider) Models() []agent.Model {
	return []agent.Model{{ID: "webhook", Name: "Webhook workflow"}}
}

// SupportsTools is false: the orchestrator never sends tool definitions.
func (p *WebhookProvider) SupportsTools() bool {
	return false
}

type webhookRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// Complete posts the last user message. The session id is read from ctx.
func (p *WebhookProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	message := lastUserMessage(req.Messages)
	if message == "" {
		return nil, NewProviderError(p.name, "", errors.New("no user message to send")).WithStatus(http.StatusBadRequest)
	}
	body, err := json.Marshal(webhookRequest{Message: message, SessionID: observability.GetSessionID(ctx)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook request: %w", err)
	}

	var reply string
	err = p.Retry(ctx, "", func() error {
		var postErr error
		reply, postErr = p.post(ctx, body)
		return postErr
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan *agent.CompletionChunk, 2)
	chunks <- &agent.CompletionChunk{Text: reply}
	chunks <- &agent.CompletionChunk{Done: true, FinishReason: "stop"}
	close(chunks)
	return chunks, nil
}

func (p *WebhookProvider) post(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read webhook response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", NewProviderError(p.name, "", fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)).WithStatus(resp.StatusCode)
	}
	return extractWebhookReply(data), nil
}

// extractWebhookReply accepts a JSON object carrying response, output or
// text, any other string field, a JSON string, or plain text.
func extractWebhookReply(data []byte) string {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return "No response received"
	}

	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err == nil {
		for _, key := range []string{"response", "output", "text"} {
			if s, ok := obj[key].(string); ok && s != "" {
				return s
			}
		}
		for _, key := range slices.Sorted(maps.Keys(obj)) {
			if s, ok := obj[key].(string); ok && s != "" {
				return s
			}
		}
		return "No response received"
	}

	var list []map[string]any
	if err := json.Unmarshal(trimmed, &list); err == nil && len(list) > 0 {
		raw, _ := json.Marshal(list[0])
		return extractWebhookReply(raw)
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	return string(trimmed)
}

func lastUserMessage(messages []agent.CompletionMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" && strings.TrimSpace(messages[i].Content) != "" {
			return messages[i].Content
		}
	}
	return ""
}
