package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	// RoleSystem only appears in provider requests. It is never persisted.
	RoleSystem Role = "system"
)

// Valid reports whether r may be stored in a session log.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Message metadata keys written by the orchestrator and the cleaner.
const (
	MetaKind        = "kind"
	MetaKindSummary = "summary"
	MetaCancelled   = "cancelled"
	MetaIsError     = "is_error"
	MetaToolName    = "tool_name"
	MetaTopics      = "topics"
)

// Message is a single entry in a session's ordered log.
type Message struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Seq        int64          `json:"seq"`
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"timestamp"`
}

// IsSummary reports whether the message was produced by session cleanup.
func (m *Message) IsSummary() bool {
	if m == nil || m.Metadata == nil {
		return false
	}
	kind, _ := m.Metadata[MetaKind].(string)
	return kind == MetaKindSummary
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution fed back to the model.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Session represents a conversation thread shared by every device attached to it.
type Session struct {
	ID           string         `json:"id"`
	Seq          int64          `json:"seq"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
	Archived     bool           `json:"archived,omitempty"`
	ArchivedAt   time.Time      `json:"archived_at,omitempty"`
}

// ChatSummary is the condensed record kept for a session after cleanup.
type ChatSummary struct {
	SessionID           string    `json:"session_id"`
	Summary             string    `json:"summary"`
	Topics              []string  `json:"topics"`
	MessageCount        int       `json:"message_count"`
	SessionCreatedAt    time.Time `json:"session_created_at"`
	SessionEndedAt      time.Time `json:"session_ended_at"`
	FirstMessagePreview string    `json:"first_message_preview,omitempty"`
	LastMessagePreview  string    `json:"last_message_preview,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// HasTopic reports whether the summary was tagged with topic (case-sensitive).
func (s *ChatSummary) HasTopic(topic string) bool {
	if s == nil {
		return false
	}
	for _, t := range s.Topics {
		if t == topic {
			return true
		}
	}
	return false
}
