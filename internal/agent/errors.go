package agent

import (
	"errors"
	"fmt"
)

// Common sentinel errors for orchestrator operations.
var (
	// ErrTurnInProgress is returned when a session already has an active turn.
	ErrTurnInProgress = errors.New("a response is already being generated for this session")

	// ErrTurnDeadlineExceeded indicates the per-turn deadline elapsed.
	ErrTurnDeadlineExceeded = errors.New("turn deadline exceeded")

	// ErrMaxToolIterations indicates the tool loop hit its bound. It never
	// reaches clients as an error; the turn completes with a notice instead.
	ErrMaxToolIterations = errors.New("max tool iterations exceeded")

	// ErrNoProvider indicates no LLM provider is configured.
	ErrNoProvider = errors.New("no provider configured")

	// ErrEmptyMessage is returned for blank user input.
	ErrEmptyMessage = errors.New("message content is empty")

	// ErrIllegalTransition indicates a state machine bug.
	ErrIllegalTransition = errors.New("illegal turn state transition")
)

// ModelProviderError wraps a failure reported by the model backend.
type ModelProviderError struct {
	Provider string
	// Reason is the failover classification when the provider reports one.
	Reason string
	Err    error
}

func (e *ModelProviderError) Error() string {
	if e.Reason != "" && e.Reason != "unknown" {
		return fmt.Sprintf("model provider %s failed (%s): %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("model provider %s failed: %v", e.Provider, e.Err)
}

func (e *ModelProviderError) Unwrap() error {
	return e.Err
}

// reasoner is implemented by provider errors that carry a failover reason.
type reasoner interface {
	FailoverReasonString() string
}

// NewModelProviderError wraps err unless it already is a ModelProviderError.
func NewModelProviderError(provider string, err error) *ModelProviderError {
	var existing *ModelProviderError
	if errors.As(err, &existing) {
		return existing
	}
	pe := &ModelProviderError{Provider: provider, Err: err}
	var r reasoner
	if errors.As(err, &r) {
		pe.Reason = r.FailoverReasonString()
	}
	return pe
}

// IsModelProviderError reports whether err came from the model backend.
func IsModelProviderError(err error) bool {
	var pe *ModelProviderError
	return errors.As(err, &pe)
}
