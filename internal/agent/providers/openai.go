package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/jarvis/internal/agent"
	"github.com/haasonsaas/jarvis/internal/agent/toolconv"
	"github.com/haasonsaas/jarvis/pkg/models"
)

// OpenAIConfig configures an OpenAI or OpenAI-compatible provider. A BaseURL
// points the client at a compatible server such as Ollama or vLLM, in which
// case the API key may be empty.
type OpenAIConfig struct {
	Name         string
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
	Timeout      time.Duration
	Headers      map[string]string
}

// OpenAIProvider streams chat completions through go-openai.
//
// Tool calls arrive as fragments keyed by index and are emitted once the
// model finishes the round, in index order.
type OpenAIProvider struct {
	BaseProvider
	client *openai.Client
}

var _ agent.LLMProvider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = newHTTPClient(cfg.Timeout, cfg.Headers)

	return &OpenAIProvider{
		BaseProvider: NewBaseProvider(cfg.Name, cfg.DefaultModel, cfg.MaxRetries, cfg.RetryDelay),
		client:       openai.NewClientWithConfig(clientCfg),
	}, nil
}

// Models lists the commonly used chat models.
func (p *OpenAIProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000},
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextSize: 128000},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextSize: 128000},
	}
}

func (p *OpenAIProvider) SupportsTools() bool {
	return true
}

// Complete opens a stream, retrying transient failures, and returns a
// channel that is closed when the stream ends.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := p.model(req.Model)
	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertToOpenAIMessages(req.Messages, req.System),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toolconv.ToOpenAITools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	err := p.Retry(ctx, model, func() error {
		var err error
		stream, err = p.client.CreateChatCompletionStream(ctx, chatReq)
		return err
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan *agent.CompletionChunk)
	go p.processStream(ctx, stream, chunks, model)
	return chunks, nil
}

type openAIPendingCall struct {
	id   string
	name string
	args strings.Builder
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk, model string) {
	defer close(chunks)
	defer stream.Close()

	pending := make(map[int]*openAIPendingCall)
	var finish string
	var inputTokens, outputTokens int

	flush := func() bool {
		indexes := make([]int, 0, len(pending))
		for idx := range pending {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)
		for _, idx := range indexes {
			call := pending[idx]
			if call.name == "" {
				continue
			}
			input := json.RawMessage(call.args.String())
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			if !send(ctx, chunks, &agent.CompletionChunk{ToolCall: &models.ToolCall{ID: call.id, Name: call.name, Input: input}}) {
				return false
			}
		}
		clear(pending)
		return true
	}

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if !flush() {
				return
			}
			send(ctx, chunks, &agent.CompletionChunk{
				Done:         true,
				FinishReason: finish,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			})
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			send(ctx, chunks, &agent.CompletionChunk{Error: wrapError(p.name, model, err), Done: true})
			return
		}

		if response.Usage != nil {
			inputTokens = response.Usage.PromptTokens
			outputTokens = response.Usage.CompletionTokens
		}
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			if !send(ctx, chunks, &agent.CompletionChunk{Text: choice.Delta.Content}) {
				return
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			call := pending[index]
			if call == nil {
				call = &openAIPendingCall{}
				pending[index] = call
			}
			if tc.ID != "" {
				call.id = tc.ID
			}
			if tc.Function.Name != "" {
				call.name = tc.Function.Name
			}
			call.args.WriteString(tc.Function.Arguments)
		}

		if choice.FinishReason != "" {
			finish = string(choice.FinishReason)
			if choice.FinishReason == openai.FinishReasonToolCalls && !flush() {
				return
			}
		}
	}
}

// convertToOpenAIMessages puts the system prompt first and expands each tool
// result into its own tool message.
func convertToOpenAIMessages(messages []agent.CompletionMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case "tool":
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
		case "assistant":
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, oaiMsg)
		default:
			result = append(result, openai.ChatCompletionMessage{
				Role:    msg.Role,
				Content: msg.Content,
			})
		}
	}
	return result
}

// headerTransport adds static headers to every request.
type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

// newHTTPClient builds the client shared by HTTP-based providers. The timeout
// bounds connection setup and response headers only, so long streams are
// not cut off.
func newHTTPClient(timeout time.Duration, headers map[string]string) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if timeout > 0 {
		transport.ResponseHeaderTimeout = timeout
	}
	var rt http.RoundTripper = transport
	if len(headers) > 0 {
		rt = &headerTransport{headers: headers, base: transport}
	}
	return &http.Client{Transport: rt}
}
