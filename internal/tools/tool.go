// Package tools routes model tool calls to local handlers and to the remote
// tool executor.
package tools

import (
	"context"
	"encoding/json"
	"time"
)

// Kind says where a tool runs.
type Kind string

const (
	Local  Kind = "local"
	Remote Kind = "remote"
)

// Tool is a handler executed in-process.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON Schema of the tool's parameters object.
	Schema() json.RawMessage
	// Execute runs the tool. The returned value is JSON-encoded into the
	// Result; a non-nil error becomes an execution error.
	Execute(ctx context.Context, params json.RawMessage) (any, error)
}

// Definition describes a tool as advertised to the model.
type Definition struct {
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description" yaml:"description"`
	Parameters  json.RawMessage `json:"parameters" yaml:"-"`
	Kind        Kind            `json:"kind" yaml:"kind"`
	// Endpoint overrides the remote client's default executor URL.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
}

// Result is the outcome of a successful dispatch.
type Result struct {
	Tool     string          `json:"tool"`
	Kind     Kind            `json:"kind"`
	Output   json.RawMessage `json:"result"`
	Duration time.Duration   `json:"-"`
}

// Content returns the output as text for the model.
func (r *Result) Content() string {
	if r == nil || len(r.Output) == 0 {
		return "null"
	}
	return string(r.Output)
}

// Value decodes the output into a generic value for event payloads.
func (r *Result) Value() any {
	if r == nil || len(r.Output) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(r.Output, &v); err != nil {
		return string(r.Output)
	}
	return v
}
