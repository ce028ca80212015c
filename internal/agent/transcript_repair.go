package agent

import (
	"github.com/haasonsaas/jarvis/pkg/models"
)

// repairTranscript makes a stored history safe to send to a provider.
// Tool messages that do not answer a call of the closest preceding assistant
// message are dropped (the history window can cut off the call), and tool
// calls that never got an answer (a turn stopped between tools) are removed
// from their assistant message.
func repairTranscript(history []*models.Message) []*models.Message {
	if len(history) == 0 {
		return history
	}

	answered := make(map[string]bool)
	pending := make(map[string]bool)
	for _, msg := range history {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case models.RoleAssistant:
			clear(pending)
			for _, call := range msg.ToolCalls {
				if call.ID != "" {
					pending[call.ID] = true
				}
			}
		case models.RoleTool:
			if pending[msg.ToolCallID] {
				delete(pending, msg.ToolCallID)
				answered[msg.ToolCallID] = true
			}
		default:
			clear(pending)
		}
	}

	repaired := make([]*models.Message, 0, len(history))
	for _, msg := range history {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case models.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				repaired = append(repaired, msg)
				continue
			}
			kept := make([]models.ToolCall, 0, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				if answered[call.ID] {
					kept = append(kept, call)
				}
			}
			if len(kept) == len(msg.ToolCalls) {
				repaired = append(repaired, msg)
				continue
			}
			if len(kept) == 0 && msg.Content == "" {
				continue
			}
			copied := *msg
			copied.ToolCalls = kept
			repaired = append(repaired, &copied)
		case models.RoleTool:
			if answered[msg.ToolCallID] {
				repaired = append(repaired, msg)
			}
		default:
			repaired = append(repaired, msg)
		}
	}
	return repaired
}

// toCompletionMessages converts stored messages into provider messages.
// Consecutive tool messages are merged into one message with several results.
func toCompletionMessages(history []*models.Message) []CompletionMessage {
	history = repairTranscript(history)
	out := make([]CompletionMessage, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case models.RoleUser:
			out = append(out, CompletionMessage{Role: string(models.RoleUser), Content: msg.Content})
		case models.RoleAssistant:
			out = append(out, CompletionMessage{
				Role:      string(models.RoleAssistant),
				Content:   msg.Content,
				ToolCalls: msg.ToolCalls,
			})
		case models.RoleTool:
			isErr, _ := msg.Metadata[models.MetaIsError].(bool)
			result := models.ToolResult{ToolCallID: msg.ToolCallID, Content: msg.Content, IsError: isErr}
			if n := len(out); n > 0 && out[n-1].Role == string(models.RoleTool) {
				out[n-1].ToolResults = append(out[n-1].ToolResults, result)
				continue
			}
			out = append(out, CompletionMessage{
				Role:        string(models.RoleTool),
				ToolResults: []models.ToolResult{result},
			})
		}
	}
	return out
}
