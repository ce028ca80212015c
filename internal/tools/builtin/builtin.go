// Package builtin holds the tools that run in-process.
package builtin

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/haasonsaas/jarvis/internal/tools"
)

// Options selects and configures the builtin tools.
type Options struct {
	DefaultTimezone string
	Disabled        []string
}

// All returns every builtin tool.
func All(opts Options) []tools.Tool {
	return []tools.Tool{
		NewCalculatorTool(),
		NewCurrentTimeTool(opts.DefaultTimezone),
	}
}

// Register adds the enabled builtin tools to d.
func Register(d *tools.Dispatcher, opts Options) error {
	disabled := make(map[string]bool, len(opts.Disabled))
	for _, name := range opts.Disabled {
		disabled[name] = true
	}
	for _, tool := range All(opts) {
		if disabled[tool.Name()] {
			continue
		}
		if err := d.Register(tool); err != nil {
			return fmt.Errorf("register %s: %w", tool.Name(), err)
		}
	}
	return nil
}

// reflectSchema derives a parameters schema from a struct's json tags.
func reflectSchema(v any) json.RawMessage {
	r := &jsonschema.Reflector{
		Anonymous:                 true,
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	schema := r.Reflect(v)
	schema.Version = ""
	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}
