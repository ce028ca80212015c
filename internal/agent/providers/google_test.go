package providers

import (
	"encoding/json"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/haasonsaas/jarvis/internal/agent"
	"github.com/haasonsaas/jarvis/internal/tools"
	"github.com/haasonsaas/jarvis/pkg/models"
)

func TestGeminiChunks(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			FinishReason: genai.FinishReasonStop,
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "thinking...", Thought: true},
				{Text: "Disk is fine."},
				{FunctionCall: &genai.FunctionCall{Name: "system_status", Args: map[string]any{"infoType": "disk"}}},
			}},
		}},
	}
	var finish string
	chunks := geminiChunks(resp, &finish)
	if len(chunks) != 2 {
		t.Fatalf("len = %d, want 2 (thoughts skipped)", len(chunks))
	}
	if chunks[0].Text != "Disk is fine." {
		t.Fatalf("text = %q", chunks[0].Text)
	}
	call := chunks[1].ToolCall
	if call == nil || call.Name != "system_status" || string(call.Input) != `{"infoType":"disk"}` {
		t.Fatalf("call = %+v", call)
	}
	if !strings.HasPrefix(call.ID, "call_system_status_") {
		t.Fatalf("generated id = %q", call.ID)
	}
	if finish != string(genai.FinishReasonStop) {
		t.Fatalf("finish = %q", finish)
	}
}

func TestConvertToGeminiContents(t *testing.T) {
	id := generateToolCallID("get_current_time")
	contents := convertToGeminiContents([]agent.CompletionMessage{
		{Role: "user", Content: "what time is it"},
		{Role: "assistant", ToolCalls: []models.ToolCall{{ID: id, Name: "get_current_time", Input: json.RawMessage(`{}`)}}},
		{Role: "tool", ToolResults: []models.ToolResult{{ToolCallID: id, Content: "plain text"}}},
	})
	if len(contents) != 3 {
		t.Fatalf("len = %d", len(contents))
	}
	if contents[1].Role != genai.RoleModel || contents[2].Role != genai.RoleUser {
		t.Fatalf("roles = %s %s", contents[1].Role, contents[2].Role)
	}
	fr := contents[2].Parts[0].FunctionResponse
	if fr == nil || fr.Name != "get_current_time" || fr.Response["result"] != "plain text" {
		t.Fatalf("function response = %+v", fr)
	}
}

func TestToolNameForCallFallsBackToIDFormat(t *testing.T) {
	id := generateToolCallID("system_status")
	if got := toolNameForCall(id, nil); got != "system_status" {
		t.Fatalf("toolNameForCall(%q) = %q", id, got)
	}
	if got := toolNameForCall("toolu_x", nil); got != "" {
		t.Fatalf("foreign id should yield no name, got %q", got)
	}
}

func TestBuildGeminiConfig(t *testing.T) {
	cfg := buildGeminiConfig(&agent.CompletionRequest{
		System:    "be brief",
		MaxTokens: 256,
		Tools:     []tools.Definition{{Name: "calculator", Parameters: json.RawMessage(`{"type":"object"}`)}},
	})
	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "be brief" {
		t.Fatalf("system = %+v", cfg.SystemInstruction)
	}
	if cfg.MaxOutputTokens != 256 || len(cfg.Tools) != 1 {
		t.Fatalf("config = %+v", cfg)
	}
}

func TestNewGoogleProviderRequiresKey(t *testing.T) {
	if _, err := NewGoogleProvider(GoogleConfig{}); err == nil {
		t.Fatal("expected an error without an api key")
	}
}
