// Package toolconv converts tool definitions into vendor SDK shapes.
package toolconv

import (
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/jarvis/internal/tools"
)

// ToOpenAITools converts tool definitions to OpenAI function schemas.
func ToOpenAITools(defs []tools.Definition) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(defs))
	for i, def := range defs {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  schemaMap(def.Parameters),
			},
		}
	}
	return result
}

// schemaMap decodes a parameters schema, falling back to an empty object.
func schemaMap(raw json.RawMessage) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	return m
}
