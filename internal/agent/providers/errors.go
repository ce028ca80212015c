package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// FailoverReason categorizes why a provider request failed.
type FailoverReason string

const (
	// FailoverBilling indicates payment or quota issues (HTTP 402).
	FailoverBilling FailoverReason = "billing"

	// FailoverRateLimit indicates rate limiting (HTTP 429).
	FailoverRateLimit FailoverReason = "rate_limit"

	// FailoverAuth indicates authentication failure (HTTP 401, 403).
	FailoverAuth FailoverReason = "auth"

	// FailoverTimeout indicates a request timeout.
	FailoverTimeout FailoverReason = "timeout"

	// FailoverServerError indicates server-side issues (HTTP 5xx).
	FailoverServerError FailoverReason = "server_error"

	// FailoverInvalidRequest indicates client-side issues (HTTP 400).
	FailoverInvalidRequest FailoverReason = "invalid_request"

	// FailoverModelUnavailable indicates the model is not available.
	FailoverModelUnavailable FailoverReason = "model_unavailable"

	// FailoverContentFilter indicates content was blocked by safety filters.
	FailoverContentFilter FailoverReason = "content_filter"

	// FailoverUnknown indicates an unclassified error.
	FailoverUnknown FailoverReason = "unknown"
)

// IsRetryable reports whether retrying the same request may succeed.
func (r FailoverReason) IsRetryable() bool {
	switch r {
	case FailoverRateLimit, FailoverTimeout, FailoverServerError:
		return true
	default:
		return false
	}
}

// ShouldFailover reports whether a different provider should be tried.
func (r FailoverReason) ShouldFailover() bool {
	switch r {
	case FailoverBilling, FailoverAuth, FailoverModelUnavailable:
		return true
	default:
		return false
	}
}

// ProviderError is a classified failure from a model provider.
type ProviderError struct {
	Reason    FailoverReason
	Provider  string
	Model     string
	Status    int
	Code      string
	Message   string
	RequestID string
	Cause     error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// FailoverReasonString exposes the reason to packages that cannot import
// this one.
func (e *ProviderError) FailoverReasonString() string {
	return string(e.Reason)
}

// NewProviderError classifies cause and wraps it.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   FailoverUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = ClassifyError(cause)
	}
	return err
}

// WithStatus records the HTTP status and reclassifies from it.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if reason := classifyStatusCode(status); reason != FailoverUnknown {
		e.Reason = reason
	}
	return e
}

// WithCode records a provider-specific error code.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	if reason := classifyErrorCode(code); reason != FailoverUnknown {
		e.Reason = reason
	}
	return e
}

// WithRequestID records the provider's request id.
func (e *ProviderError) WithRequestID(id string) *ProviderError {
	e.RequestID = id
	return e
}

// WithMessage replaces the message.
func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

// wrapError converts SDK errors into a *ProviderError, reading structured
// status and codes where the SDK exposes them.
func wrapError(provider, model string, err error) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	pe := NewProviderError(provider, model, err)

	var oaiErr *openai.APIError
	var oaiReq *openai.RequestError
	var antErr *anthropic.Error
	var genErr genai.APIError
	var genErrPtr *genai.APIError
	switch {
	case errors.As(err, &oaiErr):
		pe.WithStatus(oaiErr.HTTPStatusCode).WithMessage(oaiErr.Message)
		if code, ok := oaiErr.Code.(string); ok && code != "" {
			pe.WithCode(code)
		} else if oaiErr.Type != "" {
			pe.WithCode(oaiErr.Type)
		}
	case errors.As(err, &oaiReq):
		pe.WithStatus(oaiReq.HTTPStatusCode)
	case errors.As(err, &antErr):
		pe.WithStatus(antErr.StatusCode).WithRequestID(antErr.RequestID)
	case errors.As(err, &genErr):
		pe.WithStatus(genErr.Code).WithMessage(genErr.Message)
	case errors.As(err, &genErrPtr):
		pe.WithStatus(genErrPtr.Code).WithMessage(genErrPtr.Message)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		pe.Reason = FailoverTimeout
	}
	return pe
}

// ClassifyError inspects an error message and returns a FailoverReason.
func ClassifyError(err error) FailoverReason {
	if err == nil {
		return FailoverUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailoverTimeout
	}

	msg := strings.ToLower(err.Error())
	has := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(msg, s) {
				return true
			}
		}
		return false
	}

	switch {
	case has("timeout", "deadline exceeded", "etimedout"):
		return FailoverTimeout
	case has("rate limit", "rate_limit", "too many requests", "resource exhausted", "429"):
		return FailoverRateLimit
	case has("unauthorized", "invalid api key", "invalid_api_key", "authentication", "401", "403"):
		return FailoverAuth
	case has("billing", "payment", "quota", "insufficient", "402"):
		return FailoverBilling
	case has("content_filter", "content policy", "safety", "blocked"):
		return FailoverContentFilter
	case has("model not found", "model_not_found", "does not exist", "unavailable"):
		return FailoverModelUnavailable
	case has("internal server", "server error", "bad gateway", "500", "502", "503", "504"):
		return FailoverServerError
	}
	return FailoverUnknown
}

func classifyStatusCode(status int) FailoverReason {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailoverAuth
	case status == http.StatusPaymentRequired:
		return FailoverBilling
	case status == http.StatusTooManyRequests:
		return FailoverRateLimit
	case status == http.StatusBadRequest:
		return FailoverInvalidRequest
	case status == http.StatusNotFound:
		return FailoverModelUnavailable
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return FailoverTimeout
	case status >= 500:
		return FailoverServerError
	default:
		return FailoverUnknown
	}
}

func classifyErrorCode(code string) FailoverReason {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded":
		return FailoverRateLimit
	case "authentication_error", "invalid_api_key", "permission_error":
		return FailoverAuth
	case "billing_error", "insufficient_quota":
		return FailoverBilling
	case "model_not_found", "model_not_available", "not_found_error":
		return FailoverModelUnavailable
	case "content_policy_violation", "content_filter":
		return FailoverContentFilter
	case "server_error", "internal_error", "api_error", "overloaded_error":
		return FailoverServerError
	case "invalid_request_error":
		return FailoverInvalidRequest
	default:
		return FailoverUnknown
	}
}

// IsProviderError reports whether err wraps a *ProviderError.
func IsProviderError(err error) bool {
	var providerErr *ProviderError
	return errors.As(err, &providerErr)
}

// GetProviderError extracts a *ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

// IsRetryable reports whether err should be retried. Caller cancellation
// never is.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}
	return ClassifyError(err).IsRetryable()
}

// ShouldFailover reports whether err warrants trying a different provider.
func ShouldFailover(err error) bool {
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.ShouldFailover()
	}
	return ClassifyError(err).ShouldFailover()
}
