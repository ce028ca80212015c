// Package agent drives conversation turns: it streams model output to an
// EventSink, intercepts tool calls, runs them through the dispatcher and
// feeds the results back until the model produces a final answer.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/jarvis/internal/observability"
	"github.com/haasonsaas/jarvis/internal/sessions"
	"github.com/haasonsaas/jarvis/internal/tools"
	"github.com/haasonsaas/jarvis/pkg/models"
)

const (
	// MaxResponseTextSize caps the text of a single round.
	MaxResponseTextSize = 1 << 20

	// MaxToolCallsPerIteration caps the tool calls a single round may request.
	MaxToolCallsPerIteration = 32

	// MaxIterationsNotice completes a turn that exhausted its tool loop.
	MaxIterationsNotice = "Maximum tool iterations reached. Please try a simpler request."

	persistTimeout = 5 * time.Second
)

// errTurnStopped marks a turn ended by a stop request or by its caller.
var errTurnStopped = errors.New("turn stopped")

// Config configures turn behavior.
type Config struct {
	// Model overrides the provider's default model.
	Model        string
	SystemPrompt string
	MaxTokens    int

	// MaxToolIterations bounds the model rounds that may request tools.
	MaxToolIterations int

	// TurnTimeout bounds a whole turn, tool calls included.
	TurnTimeout time.Duration

	// HistoryLimit is how many stored messages are sent to the model.
	// Zero or negative sends the whole session.
	HistoryLimit int

	// ClassifyQueries narrows the tool list by the user's message.
	ClassifyQueries bool

	// Location is used for the current time in the system prompt.
	Location *time.Location
}

// DefaultConfig returns the default turn configuration.
func DefaultConfig() *Config {
	return &Config{
		SystemPrompt:      DefaultSystemPrompt,
		MaxTokens:         4096,
		MaxToolIterations: 10,
		TurnTimeout:       5 * time.Minute,
		HistoryLimit:      50,
		Location:          time.UTC,
	}
}

func sanitizeConfig(config *Config) *Config {
	if config == nil {
		return DefaultConfig()
	}
	cfg := *config
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = defaults.SystemPrompt
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = defaults.MaxToolIterations
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = defaults.TurnTimeout
	}
	if cfg.Location == nil {
		cfg.Location = defaults.Location
	}
	return &cfg
}

// Orchestrator runs turns against one provider, store and dispatcher.
// It is safe for concurrent use; turns of different sessions run
// independently and a session runs at most one turn at a time.
type Orchestrator struct {
	provider   LLMProvider
	store      sessions.Store
	dispatcher ToolDispatcher
	turns      *TurnRegistry
	config     *Config

	metrics *observability.Metrics
	tracer  *observability.Tracer
	logger  *observability.Logger
	now     func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTurnRegistry shares a registry, e.g. with the session cleaner's busy check.
func WithTurnRegistry(r *TurnRegistry) Option {
	return func(o *Orchestrator) { o.turns = r }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithTracer(t *observability.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

func WithLogger(l *observability.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator. dispatcher may be nil, in which case the
// model is offered no tools. If config is nil, DefaultConfig is used.
func New(provider LLMProvider, store sessions.Store, dispatcher ToolDispatcher, config *Config, opts ...Option) (*Orchestrator, error) {
	if provider == nil {
		return nil, ErrNoProvider
	}
	if store == nil {
		return nil, errors.New("session store is required")
	}
	o := &Orchestrator{
		provider:   provider,
		store:      store,
		dispatcher: dispatcher,
		config:     sanitizeConfig(config),
		logger:     observability.NopLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.turns == nil {
		o.turns = NewTurnRegistry(nil)
	}
	return o, nil
}

// Provider returns the model backend.
func (o *Orchestrator) Provider() LLMProvider { return o.provider }

// Turns returns the registry of active turns.
func (o *Orchestrator) Turns() *TurnRegistry { return o.turns }

// Stop requests cancellation of the session's active turn.
func (o *Orchestrator) Stop(sessionID string) bool { return o.turns.Stop(sessionID) }

// IsBusy reports whether the session has an active turn.
func (o *Orchestrator) IsBusy(sessionID string) bool { return o.turns.IsBusy(sessionID) }

// TurnResult summarizes a finished turn.
type TurnResult struct {
	TurnID     string
	SessionID  string
	State      State
	Text       string
	MessageID  string
	Iterations int
	ToolCalls  int
	States     []State
}

// RunOption customizes a single Run.
type RunOption func(*runOptions)

type runOptions struct {
	reject EventSink
}

// WithRejectSink routes the error of a turn that never started, such as a
// busy session, to sink instead of the turn's own sink. A turn that was
// refused is not part of the session's event stream.
func WithRejectSink(sink EventSink) RunOption {
	return func(o *runOptions) { o.reject = sink }
}

// Run executes one turn for text in sessionID, emitting events to sink as
// they happen. A turn that reaches Completed or Cancelled returns a nil
// error; every other outcome returns the cause after a single error event.
func (o *Orchestrator) Run(ctx context.Context, sessionID, text string, sink EventSink, opts ...RunOption) (*TurnResult, error) {
	if sink == nil {
		sink = NopSink{}
	}
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}
	reject := sink
	if ro.reject != nil {
		reject = ro.reject
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	handle, err := o.turns.Begin(ctx, sessionID)
	if err != nil {
		o.metrics.RecordTurn("rejected", 0)
		code := models.CodeTurnInProgress
		if !errors.Is(err, ErrTurnInProgress) {
			code = models.CodeInternal
		}
		ev := models.ErrorEvent(sessionID, code, userMessage(err))
		ev.Timestamp = o.now()
		reject.Emit(ctx, ev)
		return nil, err
	}
	defer o.turns.End(handle)

	start := o.now()
	ctx = observability.AddSessionID(ctx, sessionID)
	ctx = observability.AddTurnID(ctx, handle.ID)
	ctx, span := o.tracer.TraceTurn(ctx, sessionID, o.provider.Name())
	defer span.End()

	turnCtx, cancel := context.WithTimeout(ctx, o.config.TurnTimeout)
	defer cancel()

	r := &turnRun{
		o:       o,
		ctx:     ctx,
		turnCtx: turnCtx,
		handle:  handle,
		turn:    newTurn(handle.ID, sessionID),
		sink:    sink,
		span:    span,
	}
	runErr := r.finish(r.run(text))

	o.metrics.RecordTurn(string(r.turn.State), o.now().Sub(start).Seconds())
	result := &TurnResult{
		TurnID:     r.turn.ID,
		SessionID:  r.turn.SessionID,
		State:      r.turn.State,
		Text:       r.turn.Text.String(),
		MessageID:  r.messageID,
		Iterations: r.turn.Iterations,
		ToolCalls:  r.turn.ToolCalls,
		States:     r.turn.States(),
	}
	return result, runErr
}

// turnRun carries one turn through its states.
type turnRun struct {
	o       *Orchestrator
	ctx     context.Context
	turnCtx context.Context
	handle  *TurnHandle
	turn    *Turn
	sink    EventSink
	span    trace.Span

	started        bool
	roundPersisted bool
	messageID      string
}

func (r *turnRun) emit(e models.Event) {
	e.SessionID = r.turn.SessionID
	if e.Type != models.EventMessage && e.Type != models.EventTyping {
		e.TurnID = r.turn.ID
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.o.now()
	}
	r.sink.Emit(r.ctx, e)
}

func (r *turnRun) to(next State) error {
	return r.turn.transition(next)
}

// interrupted maps a done turn context or a stop request to its cause.
func (r *turnRun) interrupted() error {
	if r.handle.Stopped() {
		return errTurnStopped
	}
	if r.turnCtx.Err() == nil {
		return nil
	}
	if r.ctx.Err() != nil {
		return errTurnStopped
	}
	return fmt.Errorf("%w after %s", ErrTurnDeadlineExceeded, r.o.config.TurnTimeout)
}

// storeErr prefers the interruption cause over the store's own error.
func (r *turnRun) storeErr(what string, err error) error {
	if ierr := r.interrupted(); ierr != nil {
		return ierr
	}
	return &storeError{err: fmt.Errorf("failed to %s: %w", what, err)}
}

type storeError struct{ err error }

func (e *storeError) Error() string { return e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }

func (r *turnRun) run(text string) error {
	o := r.o
	session, err := o.store.GetOrCreate(r.turnCtx, r.turn.SessionID)
	if err != nil {
		return r.storeErr("open session", err)
	}
	r.turn.SessionID = session.ID

	userMsg := &models.Message{Role: models.RoleUser, Content: text}
	if err := o.store.AppendMessage(r.turnCtx, session.ID, userMsg); err != nil {
		return r.storeErr("save message", err)
	}
	r.emit(models.Event{
		Type:      models.EventMessage,
		ID:        userMsg.ID,
		Role:      models.RoleUser,
		Content:   userMsg.Content,
		Timestamp: userMsg.CreatedAt,
	})
	r.emit(models.TypingEvent(session.ID, true))

	history, err := o.store.GetHistory(r.turnCtx, session.ID, o.config.HistoryLimit)
	if err != nil {
		return r.storeErr("load history", err)
	}
	if err := r.to(StateAwaitingModel); err != nil {
		return err
	}
	req := o.buildRequest(text, history)

	r.emit(models.TypingEvent(session.ID, false))
	r.emit(models.Event{Type: models.EventStreamStart, ID: r.turn.ID})
	r.started = true

	for {
		// A stop during the last tool call must not open another round.
		if ierr := r.interrupted(); ierr != nil {
			return ierr
		}
		if r.turn.Iterations >= o.config.MaxToolIterations {
			o.logger.Warn(r.ctx, "max tool iterations reached", "iterations", r.turn.Iterations)
			return r.complete(MaxIterationsNotice, true)
		}
		r.turn.Iterations++

		calls, err := r.streamRound(req)
		if err != nil {
			return err
		}
		if len(calls) == 0 {
			return r.complete(r.turn.Round.String(), false)
		}
		if err := r.runTools(req, calls); err != nil {
			return err
		}
	}
}

// streamRound forwards one model response and returns the tool calls it
// requested. The stop flag is checked before every chunk.
func (r *turnRun) streamRound(req *CompletionRequest) ([]pendingCall, error) {
	o := r.o
	name := o.provider.Name()
	r.turn.Round.Reset()
	r.turn.Pending = nil
	r.roundPersisted = false

	roundCtx, cancelRound := context.WithCancel(r.turnCtx)
	defer cancelRound()

	started := o.now()
	chunks, err := o.provider.Complete(roundCtx, req)
	if err != nil {
		if ierr := r.interrupted(); ierr != nil {
			return nil, ierr
		}
		o.metrics.RecordLLMRequest(name, "error", o.now().Sub(started).Seconds())
		return nil, NewModelProviderError(name, err)
	}

	for {
		if r.handle.Stopped() {
			o.metrics.RecordLLMRequest(name, "cancelled", o.now().Sub(started).Seconds())
			return nil, errTurnStopped
		}

		var chunk *CompletionChunk
		var ok bool
		select {
		case <-r.handle.StopRequested():
			o.metrics.RecordLLMRequest(name, "cancelled", o.now().Sub(started).Seconds())
			return nil, errTurnStopped
		case <-r.turnCtx.Done():
			o.metrics.RecordLLMRequest(name, "cancelled", o.now().Sub(started).Seconds())
			return nil, r.interrupted()
		case chunk, ok = <-chunks:
		}
		if !ok {
			// Providers close the stream when ctx ends, so a closed channel
			// alone does not mean the round finished.
			if ierr := r.interrupted(); ierr != nil {
				o.metrics.RecordLLMRequest(name, "cancelled", o.now().Sub(started).Seconds())
				return nil, ierr
			}
			break
		}
		if chunk == nil {
			continue
		}

		if chunk.Error != nil {
			if ierr := r.interrupted(); ierr != nil {
				return nil, ierr
			}
			o.metrics.RecordLLMRequest(name, "error", o.now().Sub(started).Seconds())
			return nil, NewModelProviderError(name, chunk.Error)
		}
		if chunk.Text != "" {
			if r.turn.Round.Len()+len(chunk.Text) > MaxResponseTextSize {
				return nil, NewModelProviderError(name, fmt.Errorf("response text exceeds maximum size of %d bytes", MaxResponseTextSize))
			}
			if err := r.to(StateStreamingText); err != nil {
				return nil, err
			}
			r.turn.Round.WriteString(chunk.Text)
			r.turn.Text.WriteString(chunk.Text)
			o.metrics.TokenStreamed(name)
			r.emit(models.Event{Type: models.EventStreamToken, Content: chunk.Text})
		}
		if chunk.ToolCall != nil {
			if len(r.turn.Pending) >= MaxToolCallsPerIteration {
				return nil, NewModelProviderError(name, fmt.Errorf("tool calls exceed maximum of %d per iteration", MaxToolCallsPerIteration))
			}
			r.turn.Pending = append(r.turn.Pending, r.pendingFrom(chunk.ToolCall))
		}
		if chunk.Done {
			break
		}
	}

	o.metrics.RecordLLMRequest(name, "success", o.now().Sub(started).Seconds())
	return r.turn.Pending, nil
}

func (r *turnRun) pendingFrom(tc *models.ToolCall) pendingCall {
	id := strings.TrimSpace(tc.ID)
	if id == "" {
		id = fmt.Sprintf("call_%d_%d", r.turn.Iterations, len(r.turn.Pending))
	}
	input := []byte(tc.Input)
	if len(strings.TrimSpace(string(input))) == 0 {
		input = []byte("{}")
	}
	call := pendingCall{ID: id, Name: tc.Name, Input: input}
	if !json.Valid(input) {
		call.BadInput = string(input)
		call.Input = []byte("{}")
	}
	return call
}

// runTools persists the round's assistant message, executes every call in
// order and appends the results to req for the next round.
func (r *turnRun) runTools(req *CompletionRequest, calls []pendingCall) error {
	o := r.o
	if err := r.to(StateAwaitingTool); err != nil {
		return err
	}

	toolCalls := make([]models.ToolCall, len(calls))
	for i, c := range calls {
		toolCalls[i] = models.ToolCall{ID: c.ID, Name: c.Name, Input: json.RawMessage(c.Input)}
	}
	assistant := &models.Message{
		Role:      models.RoleAssistant,
		Content:   r.turn.Round.String(),
		ToolCalls: toolCalls,
	}
	if err := o.store.AppendMessage(r.turnCtx, r.turn.SessionID, assistant); err != nil {
		return r.storeErr("save tool calls", err)
	}
	r.roundPersisted = true
	req.Messages = append(req.Messages, CompletionMessage{
		Role:      string(models.RoleAssistant),
		Content:   assistant.Content,
		ToolCalls: toolCalls,
	})

	results := make([]models.ToolResult, 0, len(calls))
	for _, call := range calls {
		if ierr := r.interrupted(); ierr != nil {
			return ierr
		}
		r.emit(models.Event{
			Type: models.EventToolCall,
			ID:   call.ID,
			Tool: call.Name,
			Args: json.RawMessage(call.Input),
		})
		r.turn.ToolCalls++

		content, isErr := r.execute(call)
		meta := map[string]any{models.MetaToolName: call.Name}
		if isErr {
			meta[models.MetaIsError] = true
		}
		toolMsg := &models.Message{
			Role:       models.RoleTool,
			Content:    content,
			ToolCallID: call.ID,
			Metadata:   meta,
		}
		if err := o.store.AppendMessage(r.turnCtx, r.turn.SessionID, toolMsg); err != nil {
			return r.storeErr("save tool result", err)
		}
		r.emit(models.Event{
			Type:    models.EventToolResult,
			ID:      call.ID,
			Tool:    call.Name,
			Result:  json.RawMessage(content),
			IsError: isErr,
		})
		results = append(results, models.ToolResult{ToolCallID: call.ID, Content: content, IsError: isErr})
	}

	req.Messages = append(req.Messages, CompletionMessage{
		Role:        string(models.RoleTool),
		ToolResults: results,
	})
	return r.to(StateStreamingText)
}

// execute runs one call. Dispatcher failures become an error payload for the
// model instead of aborting the turn.
func (r *turnRun) execute(call pendingCall) (string, bool) {
	o := r.o
	if call.BadInput != "" {
		o.logger.Warn(r.ctx, "tool call has invalid arguments", "tool", call.Name, "tool_call_id", call.ID, "bytes", len(call.BadInput))
		return toolErrorPayload(&tools.Error{
			Kind: tools.KindExecution,
			Tool: call.Name,
			Err:  fmt.Errorf("invalid arguments: not valid JSON: %s", truncate(call.BadInput, maxBadInputEcho)),
		}), true
	}
	if o.dispatcher == nil {
		return toolErrorPayload(&tools.Error{Kind: tools.KindUnknownTool, Tool: call.Name}), true
	}
	res, err := o.dispatcher.Execute(r.turnCtx, call.Name, json.RawMessage(call.Input))
	if err != nil {
		o.logger.Warn(r.ctx, "tool call failed", "tool", call.Name, "tool_call_id", call.ID, "error", err)
		return toolErrorPayload(err), true
	}
	o.logger.Debug(r.ctx, "tool call succeeded", "tool", call.Name, "duration", res.Duration)
	return res.Content(), false
}

// maxBadInputEcho bounds how much of malformed arguments is echoed back.
const maxBadInputEcho = 200

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func toolErrorPayload(err error) string {
	payload := map[string]string{"error": err.Error()}
	if kind := tools.KindOf(err); kind != "" {
		payload["kind"] = string(kind)
	}
	data, _ := json.Marshal(payload)
	return string(data)
}

// complete persists the final assistant message and emits stream_end.
// A notice is also streamed so the tokens always add up to the final text.
func (r *turnRun) complete(text string, notice bool) error {
	o := r.o
	if notice {
		r.turn.Text.WriteString(text)
		r.emit(models.Event{Type: models.EventStreamToken, Content: text})
	}
	if text != "" {
		msg := &models.Message{Role: models.RoleAssistant, Content: text}
		if err := o.store.AppendMessage(r.turnCtx, r.turn.SessionID, msg); err != nil {
			return r.storeErr("save response", err)
		}
		r.messageID = msg.ID
	} else if err := o.store.Touch(r.turnCtx, r.turn.SessionID); err != nil {
		o.logger.Warn(r.ctx, "failed to touch session", "error", err)
	}
	if err := r.to(StateCompleted); err != nil {
		return err
	}
	r.emit(models.Event{Type: models.EventStreamEnd, ID: r.messageID, Content: r.turn.Text.String()})
	o.logger.Info(r.ctx, "turn completed",
		"iterations", r.turn.Iterations,
		"tool_calls", r.turn.ToolCalls,
		"chars", r.turn.Text.Len())
	return nil
}

// finish emits the terminal event for a turn that did not complete.
func (r *turnRun) finish(err error) error {
	if err == nil {
		return nil
	}
	if r.started && errors.Is(err, errTurnStopped) {
		r.cancel()
		return nil
	}
	if errors.Is(err, errTurnStopped) {
		err = context.Canceled
	}
	r.fail(err)
	return err
}

// cancel persists the current round's partial text and emits stream_cancelled.
func (r *turnRun) cancel() {
	o := r.o
	ctx, done := context.WithTimeout(context.WithoutCancel(r.ctx), persistTimeout)
	defer done()

	partial := r.turn.Round.String()
	if partial != "" && !r.roundPersisted {
		msg := &models.Message{
			Role:     models.RoleAssistant,
			Content:  partial,
			Metadata: map[string]any{models.MetaCancelled: true},
		}
		if err := o.store.AppendMessage(ctx, r.turn.SessionID, msg); err != nil {
			o.logger.Error(r.ctx, "failed to save partial response", "error", err)
		} else {
			r.messageID = msg.ID
		}
	}
	if err := r.to(StateCancelled); err != nil {
		o.logger.Error(r.ctx, "cancel from terminal state", "error", err)
	}
	r.emit(models.Event{Type: models.EventStreamCancelled, ID: r.messageID, Content: r.turn.Text.String()})
	o.logger.Info(r.ctx, "turn cancelled", "chars", len(partial))
}

func (r *turnRun) fail(err error) {
	o := r.o
	if err := r.to(StateError); err != nil {
		o.logger.Error(r.ctx, "fail from terminal state", "error", err)
	}
	o.tracer.RecordError(r.span, err)
	o.logger.Error(r.ctx, "turn failed", "error", err, "state", r.turn.State)
	r.emit(models.ErrorEvent(r.turn.SessionID, errorCode(err), userMessage(err)))
}

func errorCode(err error) string {
	var se *storeError
	switch {
	case errors.Is(err, ErrTurnInProgress):
		return models.CodeTurnInProgress
	case errors.Is(err, ErrTurnDeadlineExceeded):
		return models.CodeDeadlineExceeded
	case IsModelProviderError(err):
		return models.CodeProviderError
	case errors.As(err, &se):
		return models.CodeStoreError
	default:
		return models.CodeInternal
	}
}

// userMessage is the text clients see for err. Only provider errors carry
// their detail; store and internal failures stay in the log.
func userMessage(err error) string {
	var se *storeError
	switch {
	case errors.Is(err, ErrTurnInProgress):
		return "A response is already being generated for this session."
	case errors.Is(err, ErrTurnDeadlineExceeded):
		return "The response took too long and was stopped. Please try again."
	case IsModelProviderError(err):
		return err.Error()
	case errors.As(err, &se):
		return "The conversation could not be saved. Please try again."
	default:
		return "Something went wrong while generating the response. Please try again."
	}
}

// buildRequest assembles the first round's request.
func (o *Orchestrator) buildRequest(text string, history []*models.Message) *CompletionRequest {
	defs, category := o.toolDefinitions(text)
	base := o.config.SystemPrompt
	if o.config.ClassifyQueries && category == tools.CategorySimple && base == DefaultSystemPrompt {
		base = ShortSystemPrompt
	}
	return &CompletionRequest{
		Model:     o.config.Model,
		System:    buildSystemPrompt(base, o.now(), o.config.Location),
		Messages:  toCompletionMessages(history),
		Tools:     defs,
		MaxTokens: o.config.MaxTokens,
	}
}

func (o *Orchestrator) toolDefinitions(text string) ([]tools.Definition, tools.Category) {
	if o.dispatcher == nil || !o.provider.SupportsTools() {
		return nil, tools.CategoryFull
	}
	if o.config.ClassifyQueries {
		return o.dispatcher.DefinitionsForQuery(text)
	}
	return o.dispatcher.ListSchemas(), tools.CategoryFull
}
