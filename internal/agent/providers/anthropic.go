package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/jarvis/internal/agent"
	"github.com/haasonsaas/jarvis/internal/agent/toolconv"
	"github.com/haasonsaas/jarvis/pkg/models"
)

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	Name         string
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
	Timeout      time.Duration
	Headers      map[string]string
}

// AnthropicProvider streams Claude messages. Tool inputs arrive as partial
// JSON and are emitted when their content block stops.
type AnthropicProvider struct {
	BaseProvider
	client anthropic.Client
}

var _ agent.LLMProvider = (*AnthropicProvider)(nil)

const (
	defaultAnthropicMaxTokens = 4096
	// maxEmptyStreamEvents bounds consecutive events that carry nothing.
	maxEmptyStreamEvents = 300
)

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.Name == "" {
		cfg.Name = "anthropic"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// Retries happen in BaseProvider.
		option.WithMaxRetries(0),
		option.WithHTTPClient(newHTTPClient(cfg.Timeout, cfg.Headers)),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		BaseProvider: NewBaseProvider(cfg.Name, cfg.DefaultModel, cfg.MaxRetries, cfg.RetryDelay),
		client:       anthropic.NewClient(opts...),
	}, nil
}

func (p *AnthropicProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextSize: 200000},
	}
}

func (p *AnthropicProvider) SupportsTools() bool {
	return true
}

// Complete converts the request and streams the reply. The SDK only reports
// connection failures once the first event is read, so the first event is
// pulled inside the retry loop.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := p.model(req.Model)
	params, err := p.buildParams(req, model)
	if err != nil {
		return nil, NewProviderError(p.name, model, err).WithStatus(400)
	}

	var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	var primed bool
	err = p.Retry(ctx, model, func() error {
		stream = p.client.Messages.NewStreaming(ctx, params)
		primed = stream.Next()
		if !primed {
			if err := stream.Err(); err != nil {
				stream.Close()
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, primed, chunks, model)
	return chunks, nil
}

func (p *AnthropicProvider) buildParams(req *agent.CompletionRequest, model string) (anthropic.MessageNewParams, error) {
	messages, err := convertToAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("failed to convert messages: %w", err)
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := toolconv.ToAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("failed to convert tools: %w", err)
		}
		params.Tools = tools
	}
	return params, nil
}

func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], primed bool, chunks chan<- *agent.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	var currentCall *models.ToolCall
	var currentInput strings.Builder
	var inputTokens, outputTokens int
	var finish string
	empty := 0

	next := func() bool {
		if primed {
			primed = false
			return true
		}
		return stream.Next()
	}

	for next() {
		event := stream.Current()
		processed := true

		switch event.Type {
		case "message_start":
			inputTokens = int(event.AsMessageStart().Message.Usage.InputTokens)

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text == "" {
					processed = false
					break
				}
				if !send(ctx, chunks, &agent.CompletionChunk{Text: delta.Text}) {
					return
				}
			case "input_json_delta":
				currentInput.WriteString(delta.PartialJSON)
			default:
				processed = false
			}

		case "content_block_stop":
			if currentCall != nil {
				currentCall.Input = json.RawMessage(currentInput.String())
				if len(currentCall.Input) == 0 {
					currentCall.Input = json.RawMessage("{}")
				}
				if !send(ctx, chunks, &agent.CompletionChunk{ToolCall: currentCall}) {
					return
				}
				currentCall = nil
			}

		case "message_delta":
			md := event.AsMessageDelta()
			outputTokens = int(md.Usage.OutputTokens)
			finish = string(md.Delta.StopReason)

		case "message_stop":
			send(ctx, chunks, &agent.CompletionChunk{
				Done:         true,
				FinishReason: finish,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			})
			return

		case "error":
			send(ctx, chunks, &agent.CompletionChunk{Error: wrapError(p.name, model, errors.New("anthropic stream error")), Done: true})
			return

		default:
			processed = false
		}

		if processed {
			empty = 0
			continue
		}
		empty++
		if empty >= maxEmptyStreamEvents {
			err := fmt.Errorf("stream appears malformed: received %d consecutive empty events", empty)
			send(ctx, chunks, &agent.CompletionChunk{Error: wrapError(p.name, model, err), Done: true})
			return
		}
	}

	if err := stream.Err(); err != nil && ctx.Err() == nil {
		send(ctx, chunks, &agent.CompletionChunk{Error: wrapError(p.name, model, err), Done: true})
	}
}

// convertToAnthropicMessages maps roles onto Claude's two-party transcript.
// Tool results travel in user messages.
func convertToAnthropicMessages(messages []agent.CompletionMessage) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if len(tc.Input) > 0 {
				if err := json.Unmarshal(tc.Input, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call input for %s: %w", tc.Name, err)
				}
			}
			if input == nil {
				input = map[string]any{}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}
