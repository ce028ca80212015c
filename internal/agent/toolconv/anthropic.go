package toolconv

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/haasonsaas/jarvis/internal/tools"
)

// ToAnthropicTools converts tool definitions to Anthropic tool params.
func ToAnthropicTools(defs []tools.Definition) ([]anthropic.ToolUnionParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	result := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		param, err := ToAnthropicTool(def)
		if err != nil {
			return nil, err
		}
		result = append(result, param)
	}
	return result, nil
}

// ToAnthropicTool converts a single definition.
func ToAnthropicTool(def tools.Definition) (anthropic.ToolUnionParam, error) {
	raw := def.Parameters
	if len(raw) == 0 {
		raw = json.RawMessage(`{"type":"object"}`)
	}
	var schema anthropic.ToolInputSchemaParam
	if err := json.Unmarshal(raw, &schema); err != nil {
		return anthropic.ToolUnionParam{}, fmt.Errorf("invalid tool schema for %s: %w", def.Name, err)
	}

	toolParam := anthropic.ToolUnionParamOfTool(schema, def.Name)
	if toolParam.OfTool == nil {
		return anthropic.ToolUnionParam{}, fmt.Errorf("invalid tool schema for %s: missing tool definition", def.Name)
	}
	if def.Description != "" {
		toolParam.OfTool.Description = anthropic.String(def.Description)
	}
	return toolParam, nil
}
