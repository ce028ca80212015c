package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/jarvis/internal/tools"
	"github.com/haasonsaas/jarvis/pkg/models"
)

// LLMProvider defines the interface for Large Language Model backends.
//
// Implementations handle the specifics of one vendor API while presenting a
// unified streaming interface to the orchestrator. They must be safe for
// concurrent use, and the returned channel must be closed once the stream
// ends or ctx is done, so that an abandoned stream never leaks its goroutine.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []Model

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool
}

// CompletionRequest contains all parameters for one model round.
type CompletionRequest struct {
	// Model specifies which model to use. Empty means the provider default.
	Model string `json:"model"`

	// System is the system prompt. Providers place it wherever their API
	// expects it.
	System string `json:"system,omitempty"`

	// Messages contains the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools lists the tools the model may call this round.
	Tools []tools.Definition `json:"tools,omitempty"`

	// MaxTokens limits the length of the generated response. Zero means
	// the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionMessage represents a single message in a conversation.
//
// Role values: "user", "assistant", "tool". A tool message carries one or
// more ToolResults answering the calls of the preceding assistant message.
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// CompletionChunk represents a single chunk in a streaming response.
//
// Each chunk carries exactly one of: partial text, a complete tool call, an
// error (the stream is over), or Done.
type CompletionChunk struct {
	Text     string           `json:"text,omitempty"`
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`
	Done     bool             `json:"done,omitempty"`
	Error    error            `json:"-"`

	// FinishReason is the provider's stop reason, set with Done.
	FinishReason string `json:"finish_reason,omitempty"`

	// Token usage, only populated in the final chunk.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Model describes an available model.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContextSize int    `json:"context_size"`
}

// ToolDispatcher executes tool calls for the orchestrator.
// *tools.Dispatcher is the production implementation.
type ToolDispatcher interface {
	Execute(ctx context.Context, name string, params json.RawMessage) (*tools.Result, error)
	ListSchemas() []tools.Definition
	DefinitionsForQuery(query string) ([]tools.Definition, tools.Category)
}
