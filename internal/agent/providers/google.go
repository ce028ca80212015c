package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"google.golang.org/genai"

	"github.com/haasonsaas/jarvis/internal/agent"
	"github.com/haasonsaas/jarvis/internal/agent/toolconv"
	"github.com/haasonsaas/jarvis/internal/retry"
	"github.com/haasonsaas/jarvis/pkg/models"
)

// GoogleConfig configures the Gemini provider.
type GoogleConfig struct {
	Name         string
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
	Timeout      time.Duration
	Headers      map[string]string
}

// GoogleProvider streams Gemini content. Gemini does not assign ids to
// function calls, so ids are generated from the function name.
type GoogleProvider struct {
	BaseProvider
	client *genai.Client
}

var _ agent.LLMProvider = (*GoogleProvider)(nil)

var toolCallCounter atomic.Int64

// NewGoogleProvider creates a Gemini provider.
func NewGoogleProvider(cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if cfg.Name == "" {
		cfg.Name = "google"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: newHTTPClient(cfg.Timeout, nil),
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.BaseURL
	}
	if len(cfg.Headers) > 0 {
		clientCfg.HTTPOptions.Headers = http.Header{}
		for k, v := range cfg.Headers {
			clientCfg.HTTPOptions.Headers.Set(k, v)
		}
	}
	client, err := genai.NewClient(context.Background(), clientCfg)
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &GoogleProvider{
		BaseProvider: NewBaseProvider(cfg.Name, cfg.DefaultModel, cfg.MaxRetries, cfg.RetryDelay),
		client:       client,
	}, nil
}

func (p *GoogleProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ContextSize: 1048576},
		{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", ContextSize: 1048576},
		{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", ContextSize: 1048576},
	}
}

func (p *GoogleProvider) SupportsTools() bool {
	return true
}

// Complete streams a reply. A failed attempt is retried only while nothing
// has been emitted yet.
func (p *GoogleProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := p.model(req.Model)
	contents := convertToGeminiContents(req.Messages)
	config := buildGeminiConfig(req)

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)

		emitted := false
		var usage *genai.GenerateContentResponseUsageMetadata
		var finish string
		err := p.Retry(ctx, model, func() error {
			for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
				if err != nil {
					if emitted {
						return retry.Permanent(err)
					}
					return err
				}
				if resp == nil {
					continue
				}
				if resp.UsageMetadata != nil {
					usage = resp.UsageMetadata
				}
				for _, chunk := range geminiChunks(resp, &finish) {
					emitted = true
					if !send(ctx, chunks, chunk) {
						return retry.Permanent(ctx.Err())
					}
				}
			}
			return nil
		})
		if err != nil {
			if ctx.Err() == nil {
				send(ctx, chunks, &agent.CompletionChunk{Error: err, Done: true})
			}
			return
		}

		done := &agent.CompletionChunk{Done: true, FinishReason: finish}
		if usage != nil {
			done.InputTokens = int(usage.PromptTokenCount)
			done.OutputTokens = int(usage.CandidatesTokenCount)
		}
		send(ctx, chunks, done)
	}()
	return chunks, nil
}

// geminiChunks converts one streamed response into text and tool call chunks.
func geminiChunks(resp *genai.GenerateContentResponse, finish *string) []*agent.CompletionChunk {
	var out []*agent.CompletionChunk
	for _, candidate := range resp.Candidates {
		if candidate == nil {
			continue
		}
		if candidate.FinishReason != "" {
			*finish = string(candidate.FinishReason)
		}
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" && !part.Thought {
				out = append(out, &agent.CompletionChunk{Text: part.Text})
			}
			if part.FunctionCall != nil {
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil || part.FunctionCall.Args == nil {
					args = []byte("{}")
				}
				id := part.FunctionCall.ID
				if id == "" {
					id = generateToolCallID(part.FunctionCall.Name)
				}
				out = append(out, &agent.CompletionChunk{ToolCall: &models.ToolCall{
					ID:    id,
					Name:  part.FunctionCall.Name,
					Input: args,
				}})
			}
		}
	}
	return out
}

func convertToGeminiContents(messages []agent.CompletionMessage) []*genai.Content {
	var result []*genai.Content
	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == "assistant" {
			content.Role = genai.RoleModel
		}
		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal(tc.Input, &args); err != nil || args == nil {
				args = map[string]any{}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args},
			})
		}
		for _, tr := range msg.ToolResults {
			var response map[string]any
			if err := json.Unmarshal([]byte(tr.Content), &response); err != nil || response == nil {
				response = map[string]any{"result": tr.Content}
			}
			if tr.IsError {
				response = map[string]any{"error": response}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       tr.ToolCallID,
					Name:     toolNameForCall(tr.ToolCallID, messages),
					Response: response,
				},
			})
		}
		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result
}

func buildGeminiConfig(req *agent.CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(min(req.MaxTokens, math.MaxInt32))
	}
	if len(req.Tools) > 0 {
		config.Tools = toolconv.ToGeminiTools(req.Tools)
	}
	return config
}

func generateToolCallID(name string) string {
	return fmt.Sprintf("call_%s_%d_%d", name, time.Now().UnixNano(), toolCallCounter.Add(1))
}

// toolNameForCall finds the function name for a call id in earlier messages.
func toolNameForCall(callID string, messages []agent.CompletionMessage) string {
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID == callID {
				return tc.Name
			}
		}
	}
	if rest, ok := strings.CutPrefix(callID, "call_"); ok {
		if i := strings.LastIndex(rest, "_"); i > 0 {
			rest = rest[:i]
			if j := strings.LastIndex(rest, "_"); j > 0 {
				return rest[:j]
			}
		}
	}
	return ""
}
