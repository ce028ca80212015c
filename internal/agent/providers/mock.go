package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/jarvis/internal/agent"
	"github.com/haasonsaas/jarvis/internal/tools"
	"github.com/haasonsaas/jarvis/pkg/models"
)

// MockProvider is an offline provider for development and end-to-end tests.
// It echoes the user message word by word, asks for system_status when the
// user mentions disk usage and the tool is offered, and summarizes tool
// results it is given.
type MockProvider struct {
	name       string
	tokenDelay time.Duration
}

var _ agent.LLMProvider = (*MockProvider)(nil)

// NewMockProvider creates a mock provider. tokenDelay spaces out tokens.
func NewMockProvider(name string, tokenDelay time.Duration) *MockProvider {
	if name == "" {
		name = "mock"
	}
	return &MockProvider{name: name, tokenDelay: tokenDelay}
}

func (p *MockProvider) Name() string { return p.name }

func (p *MockProvider) Models() []agent.Model {
	return []agent.Model{{ID: "mock", Name: "Mock"}}
}

func (p *MockProvider) SupportsTools() bool { return true }

func (p *MockProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)

		if call := mockToolCall(req); call != nil {
			if send(ctx, chunks, &agent.CompletionChunk{ToolCall: call}) {
				send(ctx, chunks, &agent.CompletionChunk{Done: true, FinishReason: "tool_calls"})
			}
			return
		}

		for _, token := range splitTokens(mockReply(req)) {
			if p.tokenDelay > 0 {
				timer := time.NewTimer(p.tokenDelay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			if !send(ctx, chunks, &agent.CompletionChunk{Text: token}) {
				return
			}
		}
		send(ctx, chunks, &agent.CompletionChunk{Done: true, FinishReason: "stop"})
	}()
	return chunks, nil
}

func mockReply(req *agent.CompletionRequest) string {
	if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == "tool" {
		results := make([]string, 0, len(req.Messages[n-1].ToolResults))
		for _, r := range req.Messages[n-1].ToolResults {
			results = append(results, r.Content)
		}
		return "[Mock] Tool result: " + strings.Join(results, "; ")
	}
	return "[Mock] Received: " + lastUserMessage(req.Messages)
}

func mockToolCall(req *agent.CompletionRequest) *models.ToolCall {
	n := len(req.Messages)
	if n == 0 || req.Messages[n-1].Role != "user" || !offers(req.Tools, "system_status") {
		return nil
	}
	if !strings.Contains(strings.ToLower(req.Messages[n-1].Content), "disk") {
		return nil
	}
	input, _ := json.Marshal(map[string]string{"infoType": "disk"})
	return &models.ToolCall{
		ID:    fmt.Sprintf("mock_call_%d", time.Now().UnixNano()),
		Name:  "system_status",
		Input: input,
	}
}

func offers(defs []tools.Definition, name string) bool {
	for _, def := range defs {
		if def.Name == name {
			return true
		}
	}
	return false
}

// splitTokens splits text into words that keep their trailing space.
func splitTokens(text string) []string {
	var tokens []string
	for len(text) > 0 {
		i := strings.IndexByte(text, ' ')
		if i < 0 {
			tokens = append(tokens, text)
			break
		}
		tokens = append(tokens, text[:i+1])
		text = text[i+1:]
	}
	return tokens
}
