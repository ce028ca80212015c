package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultRemoteTimeout    = 90 * time.Second
	defaultMaxResponseBytes = int64(1 << 20) // 1MB
)

// RemoteConfig configures the tool executor client.
type RemoteConfig struct {
	Endpoint         string
	Timeout          time.Duration
	MaxResponseBytes int64
	Headers          map[string]string
	HTTPClient       *http.Client
}

// RemoteClient posts tool envelopes to an HTTP tool executor.
type RemoteClient struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
}

type remoteRequest struct {
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params"`
}

type remoteResponse struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// errorText renders an envelope error that may be a string or an object.
func errorText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw)
	}
	return compact.String()
}

// NewRemoteClient validates cfg. An empty endpoint is allowed when every
// remote definition carries its own.
func NewRemoteClient(cfg RemoteConfig) (*RemoteClient, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint != "" {
		if err := validateEndpoint(endpoint); err != nil {
			return nil, err
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		// The dispatcher bounds each call through the context.
		client = &http.Client{}
	}
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	return &RemoteClient{
		endpoint: endpoint,
		headers:  headers,
		client:   client,
		timeout:  timeout,
		maxBytes: maxBytes,
	}, nil
}

func validateEndpoint(endpoint string) error {
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed == nil || strings.TrimSpace(parsed.Scheme) == "" || strings.TrimSpace(parsed.Host) == "" {
		return fmt.Errorf("remote tools: invalid endpoint %q", endpoint)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("remote tools: endpoint scheme must be http or https")
	}
	return nil
}

// Timeout is the per-call deadline applied by the dispatcher.
func (c *RemoteClient) Timeout() time.Duration {
	if c == nil {
		return defaultRemoteTimeout
	}
	return c.timeout
}

// Call sends {tool, params} to endpoint (or the client default) and returns
// the envelope's result. A status:"error" envelope yields a *RemoteError.
func (c *RemoteClient) Call(ctx context.Context, endpoint, tool string, params json.RawMessage) (json.RawMessage, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("remote tools: client not configured")
	}
	if endpoint == "" {
		endpoint = c.endpoint
	}
	if endpoint == "" {
		return nil, fmt.Errorf("remote tools: no endpoint configured for %s", tool)
	}
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	body, err := json.Marshal(remoteRequest{Tool: tool, Params: params})
	if err != nil {
		return nil, fmt.Errorf("remote tools: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("remote tools: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote tools: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("remote tools: read response: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("remote tools: response exceeds %d bytes", c.maxBytes)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("remote tools: executor returned %d: %s", resp.StatusCode, msg)
	}

	var envelope remoteResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("remote tools: malformed response: %w", err)
	}
	switch envelope.Status {
	case "success":
		if len(envelope.Result) == 0 {
			return json.RawMessage(`null`), nil
		}
		return envelope.Result, nil
	case "error":
		return nil, &RemoteError{Message: errorText(envelope.Error)}
	default:
		return nil, fmt.Errorf("remote tools: unexpected status %q", envelope.Status)
	}
}
