package providers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/jarvis/internal/agent"
	"github.com/haasonsaas/jarvis/internal/observability"
)

// FailoverConfig configures the circuit breaker of a FailoverProvider.
type FailoverConfig struct {
	// Threshold is the number of consecutive failures that opens a
	// provider's circuit.
	Threshold int
	// Cooldown is how long an open circuit skips its provider.
	Cooldown time.Duration
}

func DefaultFailoverConfig() FailoverConfig {
	return FailoverConfig{Threshold: 3, Cooldown: 30 * time.Second}
}

// ProviderState is the breaker state of one provider.
type ProviderState struct {
	Name        string
	Failures    int
	LastFailure time.Time
	OpenUntil   time.Time
}

// FailoverProvider tries its providers in order when opening a stream.
// Each provider retries on its own first; the next one is tried only when the
// failure is classified as worth failing over. Once a stream is open its
// errors belong to the caller.
type FailoverProvider struct {
	providers []agent.LLMProvider
	config    FailoverConfig
	logger    *observability.Logger
	now       func() time.Time

	mu        sync.Mutex
	states    map[string]*ProviderState
	failovers int64
}

var _ agent.LLMProvider = (*FailoverProvider)(nil)

// NewFailoverProvider wraps primary and its fallbacks. A nil logger is
// allowed.
func NewFailoverProvider(cfg FailoverConfig, logger *observability.Logger, primary agent.LLMProvider, fallbacks ...agent.LLMProvider) *FailoverProvider {
	defaults := DefaultFailoverConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaults.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaults.Cooldown
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &FailoverProvider{
		providers: append([]agent.LLMProvider{primary}, fallbacks...),
		config:    cfg,
		logger:    logger,
		now:       time.Now,
		states:    make(map[string]*ProviderState),
	}
}

// Name reports the primary provider.
func (f *FailoverProvider) Name() string {
	return f.providers[0].Name()
}

func (f *FailoverProvider) Models() []agent.Model {
	seen := make(map[string]bool)
	var all []agent.Model
	for _, p := range f.providers {
		for _, m := range p.Models() {
			if !seen[m.ID] {
				seen[m.ID] = true
				all = append(all, m)
			}
		}
	}
	return all
}

// SupportsTools follows the primary, so the tool list offered to the model
// does not change when a fallback answers.
func (f *FailoverProvider) SupportsTools() bool {
	return f.providers[0].SupportsTools()
}

// Complete opens a stream on the first available provider. Fallbacks get the
// request without its model override so each uses its default model.
func (f *FailoverProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	var lastErr error
	tried := 0
	for i, p := range f.providers {
		if !f.available(p.Name()) && i < len(f.providers)-1 {
			continue
		}
		attempt := req
		if i > 0 && req.Model != "" {
			clone := *req
			clone.Model = ""
			attempt = &clone
		}
		if tried > 0 {
			f.mu.Lock()
			f.failovers++
			f.mu.Unlock()
			f.logger.Warn(ctx, "failing over to next provider", "provider", p.Name(), "error", lastErr)
		}
		tried++

		chunks, err := p.Complete(ctx, attempt)
		if err == nil {
			f.recordSuccess(p.Name())
			return chunks, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		f.recordFailure(p.Name())
		if !failoverWorthy(err) {
			return nil, err
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no available providers")
	}
	return nil, lastErr
}

// failoverWorthy is true for failures another provider may not share:
// exhausted retries on transient errors as well as auth, billing and model
// availability problems.
func failoverWorthy(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return ShouldFailover(err) || IsRetryable(err)
}

func (f *FailoverProvider) available(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[name]
	return !ok || !f.now().Before(state.OpenUntil)
}

func (f *FailoverProvider) recordSuccess(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if state, ok := f.states[name]; ok {
		state.Failures = 0
		state.OpenUntil = time.Time{}
	}
}

func (f *FailoverProvider) recordFailure(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[name]
	if !ok {
		state = &ProviderState{Name: name}
		f.states[name] = state
	}
	now := f.now()
	state.Failures++
	state.LastFailure = now
	if state.Failures >= f.config.Threshold {
		state.OpenUntil = now.Add(f.config.Cooldown)
	}
}

// States returns a snapshot of every provider that has failed at least once.
func (f *FailoverProvider) States() []ProviderState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ProviderState, 0, len(f.states))
	for _, p := range f.providers {
		if s, ok := f.states[p.Name()]; ok {
			out = append(out, *s)
		}
	}
	return out
}

// Failovers counts switches from one provider to the next.
func (f *FailoverProvider) Failovers() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failovers
}

// Reset closes the circuit of name, or of every provider when name is empty.
func (f *FailoverProvider) Reset(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, state := range f.states {
		if name == "" || strings.EqualFold(key, name) {
			state.Failures = 0
			state.OpenUntil = time.Time{}
		}
	}
}
