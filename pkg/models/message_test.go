package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestRole_Valid(t *testing.T) {
	tests := []struct {
		role Role
		want bool
	}{
		{RoleUser, true},
		{RoleAssistant, true},
		{RoleTool, true},
		{RoleSystem, false},
		{Role(""), false},
		{Role("admin"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			if got := tt.role.Valid(); got != tt.want {
				t.Errorf("Role(%q).Valid() = %v, want %v", tt.role, got, tt.want)
			}
		})
	}
}

func TestMessage_IsSummary(t *testing.T) {
	var nilMsg *Message
	if nilMsg.IsSummary() {
		t.Fatal("nil message should not be a summary")
	}
	plain := &Message{Role: RoleAssistant, Content: "hi"}
	if plain.IsSummary() {
		t.Fatal("plain message should not be a summary")
	}
	summary := &Message{Role: RoleAssistant, Metadata: map[string]any{MetaKind: MetaKindSummary}}
	if !summary.IsSummary() {
		t.Fatal("expected summary message")
	}
}

func TestMessage_JSONUsesTimestampKey(t *testing.T) {
	msg := Message{
		ID:         "m1",
		SessionID:  "s1",
		Seq:        3,
		Role:       RoleTool,
		Content:    `{"ok":true}`,
		ToolCallID: "call_1",
		CreatedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	out := string(data)
	for _, want := range []string{`"timestamp":"2024-05-01T12:00:00Z"`, `"tool_call_id":"call_1"`, `"seq":3`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
	if strings.Contains(out, "tool_calls") {
		t.Errorf("empty tool_calls should be omitted: %s", out)
	}
}

func TestChatSummary_HasTopic(t *testing.T) {
	s := &ChatSummary{Topics: []string{"docker", "media"}}
	if !s.HasTopic("docker") {
		t.Error("expected docker topic")
	}
	if s.HasTopic("Docker") {
		t.Error("topic match should be case-sensitive")
	}
	var nilSummary *ChatSummary
	if nilSummary.HasTopic("docker") {
		t.Error("nil summary has no topics")
	}
}
