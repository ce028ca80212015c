// Package providers implements streaming model providers for the agent
// orchestrator.
package providers

import (
	"context"
	"time"

	"github.com/haasonsaas/jarvis/internal/agent"
	"github.com/haasonsaas/jarvis/internal/retry"
)

// BaseProvider holds shared naming and retry configuration.
type BaseProvider struct {
	name         string
	defaultModel string
	retry        retry.Config
}

// NewBaseProvider creates a base provider with sane defaults. Retries use
// exponential backoff starting at retryDelay.
func NewBaseProvider(name, defaultModel string, maxRetries int, retryDelay time.Duration) BaseProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = maxRetries
	cfg.InitialDelay = retryDelay
	cfg.MaxDelay = retryDelay * 8
	cfg.ShouldRetry = IsRetryable
	return BaseProvider{name: name, defaultModel: defaultModel, retry: cfg}
}

// Name returns the provider identifier.
func (b *BaseProvider) Name() string {
	return b.name
}

// model resolves an empty request model to the default.
func (b *BaseProvider) model(requested string) string {
	if requested == "" {
		return b.defaultModel
	}
	return requested
}

// Retry runs op until it succeeds or fails with a non-retryable error.
// Errors from op are wrapped as *ProviderError before classification.
func (b *BaseProvider) Retry(ctx context.Context, model string, op func() error) error {
	res := retry.Do(ctx, b.retry, func() error {
		return wrapError(b.name, model, op())
	})
	return res.Err
}

// send delivers chunk unless ctx is done first.
func send(ctx context.Context, chunks chan<- *agent.CompletionChunk, chunk *agent.CompletionChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
