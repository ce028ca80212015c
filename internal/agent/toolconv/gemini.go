package toolconv

import (
	"encoding/json"
	"strings"

	"google.golang.org/genai"

	"github.com/haasonsaas/jarvis/internal/tools"
)

// ToGeminiTools converts tool definitions to a single Gemini tool holding
// every function declaration. Definitions with unreadable schemas are skipped.
func ToGeminiTools(defs []tools.Definition) []*genai.Tool {
	if len(defs) == 0 {
		return nil
	}

	declarations := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		var m map[string]any
		if len(def.Parameters) > 0 {
			if err := json.Unmarshal(def.Parameters, &m); err != nil {
				continue
			}
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  ToGeminiSchema(m),
		})
	}

	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// ToGeminiSchema converts a JSON Schema map to Gemini's Schema type.
func ToGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}

	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = ToGeminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = ToGeminiSchema(items)
	}
	return schema
}
