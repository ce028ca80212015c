package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/jarvis/internal/observability"
)

// Tool parameter limits to prevent resource exhaustion
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20

	defaultLocalTimeout = 30 * time.Second
)

var emptyObjectSchema = json.RawMessage(`{"type":"object"}`)

type entry struct {
	def    Definition
	tool   Tool
	schema *jsonschema.Schema
}

// Dispatcher owns the tool table and executes calls against it. It never
// persists anything; callers record results in the session log.
type Dispatcher struct {
	mu      sync.RWMutex
	entries map[string]*entry

	remote       *RemoteClient
	localTimeout time.Duration
	metrics      *observability.Metrics
	tracer       *observability.Tracer
	logger       *observability.Logger
}

type Option func(*Dispatcher)

// WithRemoteClient routes remote definitions through c.
func WithRemoteClient(c *RemoteClient) Option {
	return func(d *Dispatcher) { d.remote = c }
}

// WithLocalTimeout bounds each local call.
func WithLocalTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.localTimeout = timeout
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithTracer(t *observability.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

func WithLogger(l *observability.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		entries:      make(map[string]*entry),
		localTimeout: defaultLocalTimeout,
		logger:       observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds a local tool.
func (d *Dispatcher) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool is nil")
	}
	e, err := newEntry(Definition{
		Name:        tool.Name(),
		Description: tool.Description(),
		Parameters:  tool.Schema(),
		Kind:        Local,
	}, tool)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.entries[e.def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, e.def.Name)
	}
	d.entries[e.def.Name] = e
	return nil
}

// RegisterRemote adds a tool served by the remote executor.
func (d *Dispatcher) RegisterRemote(def Definition) error {
	def.Kind = Remote
	e, err := newEntry(def, nil)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.entries[e.def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, e.def.Name)
	}
	d.entries[e.def.Name] = e
	return nil
}

// ReplaceRemote swaps the whole remote table for defs. Nothing changes when
// any definition is invalid or collides with a local tool.
func (d *Dispatcher) ReplaceRemote(defs []Definition) error {
	next := make(map[string]*entry, len(defs))
	for _, def := range defs {
		def.Kind = Remote
		e, err := newEntry(def, nil)
		if err != nil {
			return err
		}
		if _, dup := next[e.def.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateTool, e.def.Name)
		}
		next[e.def.Name] = e
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for name := range next {
		if existing, ok := d.entries[name]; ok && existing.def.Kind == Local {
			return fmt.Errorf("%w: %s is a local tool", ErrDuplicateTool, name)
		}
	}
	for name, e := range d.entries {
		if e.def.Kind == Remote {
			delete(d.entries, name)
		}
	}
	for name, e := range next {
		d.entries[name] = e
	}
	return nil
}

// Unregister removes a tool and reports whether it existed.
func (d *Dispatcher) Unregister(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[name]; !ok {
		return false
	}
	delete(d.entries, name)
	return true
}

func (d *Dispatcher) Has(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.entries[name]
	return ok
}

// ListSchemas returns every definition sorted by name.
func (d *Dispatcher) ListSchemas() []Definition {
	d.mu.RLock()
	defs := make([]Definition, 0, len(d.entries))
	for _, e := range d.entries {
		defs = append(defs, e.def)
	}
	d.mu.RUnlock()
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Definitions returns the registered definitions among names, in the order
// given. Unknown and repeated names are skipped.
func (d *Dispatcher) Definitions(names ...string) []Definition {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[string]bool, len(names))
	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		if e, ok := d.entries[name]; ok {
			defs = append(defs, e.def)
		}
	}
	return defs
}

// Execute validates params and runs the named tool under its timeout. Every
// failure is a *Error; an unknown name never reaches a handler or the network.
func (d *Dispatcher) Execute(ctx context.Context, name string, params json.RawMessage) (*Result, error) {
	start := time.Now()

	d.mu.RLock()
	e, ok := d.entries[name]
	d.mu.RUnlock()
	if !ok {
		d.metrics.RecordToolExecution("unknown", "unknown", string(KindUnknownTool), 0)
		d.logger.Warn(ctx, "unknown tool requested", "tool", truncateName(name))
		return nil, &Error{Kind: KindUnknownTool, Tool: name}
	}
	kind := string(e.def.Kind)

	ctx, span := d.tracer.TraceToolExecution(ctx, name, kind)
	defer span.End()

	fail := func(err *Error) (*Result, error) {
		elapsed := time.Since(start)
		d.metrics.RecordToolExecution(name, kind, string(err.Kind), elapsed.Seconds())
		d.tracer.RecordError(span, err)
		d.logger.Warn(ctx, "tool call failed",
			"tool", name,
			"kind", kind,
			"error_kind", string(err.Kind),
			"duration_ms", elapsed.Milliseconds(),
			"error", err.Err)
		return nil, err
	}

	params, err := normalizeParams(params)
	if err != nil {
		return fail(&Error{Kind: KindExecution, Tool: name, Err: err})
	}
	if err := ValidateJSON(e.schema, params); err != nil {
		return fail(&Error{Kind: KindExecution, Tool: name, Err: fmt.Errorf("invalid parameters: %w", err)})
	}

	timeout := d.localTimeout
	if e.def.Kind == Remote {
		timeout = d.remote.Timeout()
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := d.invoke(callCtx, e, params)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fail(&Error{Kind: KindTimeout, Tool: name, Err: fmt.Errorf("no result after %s", timeout)})
		}
		return fail(&Error{Kind: KindExecution, Tool: name, Err: err})
	}

	elapsed := time.Since(start)
	d.metrics.RecordToolExecution(name, kind, "success", elapsed.Seconds())
	d.logger.Debug(ctx, "tool call succeeded", "tool", name, "kind", kind, "duration_ms", elapsed.Milliseconds())
	return &Result{Tool: name, Kind: e.def.Kind, Output: output, Duration: elapsed}, nil
}

func (d *Dispatcher) invoke(ctx context.Context, e *entry, params json.RawMessage) (json.RawMessage, error) {
	if e.def.Kind == Remote {
		if d.remote == nil {
			return nil, fmt.Errorf("remote tools are not configured")
		}
		return d.remote.Call(ctx, e.def.Endpoint, e.def.Name, params)
	}

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v\n%s", r, debug.Stack())}
			}
		}()
		value, err := e.tool.Execute(ctx, params)
		done <- outcome{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		return encodeOutput(out.value)
	}
}

func newEntry(def Definition, tool Tool) (*entry, error) {
	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if len(def.Name) > MaxToolNameLength {
		return nil, fmt.Errorf("tool name exceeds maximum length of %d characters", MaxToolNameLength)
	}
	if len(bytes.TrimSpace(def.Parameters)) == 0 {
		def.Parameters = emptyObjectSchema
	}
	compiled, err := CompileSchema(def.Name, def.Parameters)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", def.Name, err)
	}
	return &entry{def: def, tool: tool, schema: compiled}, nil
}

func normalizeParams(params json.RawMessage) (json.RawMessage, error) {
	if len(params) > MaxToolParamsSize {
		return nil, fmt.Errorf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize)
	}
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage(`{}`), nil
	}
	return trimmed, nil
}

func encodeOutput(value any) (json.RawMessage, error) {
	switch v := value.(type) {
	case nil:
		return json.RawMessage(`null`), nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, fmt.Errorf("tool returned invalid JSON")
		}
		return v, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return data, nil
}

func truncateName(name string) string {
	if len(name) > 64 {
		return name[:64] + "..."
	}
	return name
}
