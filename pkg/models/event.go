package models

import (
	"encoding/json"
	"time"
)

// EventType identifies an outbound event on a session connection.
type EventType string

const (
	// EventMessage echoes a stored user message to every attached device.
	EventMessage EventType = "message"
	EventTyping  EventType = "typing"
	EventHistory EventType = "history"

	// Turn lifecycle. Every turn emits exactly one EventStreamStart and
	// exactly one of EventStreamEnd, EventError or EventStreamCancelled.
	EventStreamStart     EventType = "stream_start"
	EventStreamToken     EventType = "stream_token"
	EventToolCall        EventType = "tool_call"
	EventToolResult      EventType = "tool_result"
	EventStreamEnd       EventType = "stream_end"
	EventError           EventType = "error"
	EventStreamCancelled EventType = "stream_cancelled"
)

// Terminal reports whether t closes a turn.
func (t EventType) Terminal() bool {
	switch t {
	case EventStreamEnd, EventError, EventStreamCancelled:
		return true
	}
	return false
}

// Error codes carried by EventError.
const (
	CodeInvalidFrame     = "invalid_frame"
	CodeTurnInProgress   = "turn_in_progress"
	CodeDeadlineExceeded = "turn_deadline_exceeded"
	CodeProviderError    = "model_provider_error"
	CodeStoreError       = "store_error"
	CodeInternal         = "internal_error"
)

// Event is a single server-to-client frame. Which fields are set depends on
// Type:
//
//	message          id, role, content
//	typing           status
//	history          messages
//	stream_start     id (turn id)
//	stream_token     content
//	tool_call        id (tool call id), tool, args
//	tool_result      id (tool call id), tool, result, is_error
//	stream_end       id (final message id), content (full turn text)
//	stream_cancelled id (partial message id, if any), content
//	error            content, code
//
// Seq is assigned per connection by the gateway.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Seq       int64           `json:"seq,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	TurnID    string          `json:"turn_id,omitempty"`
	ID        string          `json:"id,omitempty"`
	Role      Role            `json:"role,omitempty"`
	Content   string          `json:"content,omitempty"`
	Status    *bool           `json:"status,omitempty"`
	Tool      string          `json:"tool,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Messages  []*Message      `json:"messages,omitempty"`
	Code      string          `json:"code,omitempty"`
}

// MarshalJSON keeps the messages array on history events even when empty so
// clients can replace their view unconditionally.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	if e.Type != EventHistory {
		return json.Marshal(plain(e))
	}
	messages := e.Messages
	if messages == nil {
		messages = []*Message{}
	}
	return json.Marshal(struct {
		plain
		Messages []*Message `json:"messages"`
	}{plain(e), messages})
}

// TypingEvent builds a typing indicator.
func TypingEvent(sessionID string, on bool) Event {
	return Event{Type: EventTyping, SessionID: sessionID, Status: &on}
}

// ErrorEvent builds an error frame.
func ErrorEvent(sessionID, code, message string) Event {
	return Event{Type: EventError, SessionID: sessionID, Code: code, Content: message}
}
