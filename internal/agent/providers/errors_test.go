package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want FailoverReason
	}{
		{errors.New("request timeout"), FailoverTimeout},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), FailoverTimeout},
		{errors.New("429 Too Many Requests"), FailoverRateLimit},
		{errors.New("invalid api key provided"), FailoverAuth},
		{errors.New("insufficient quota"), FailoverBilling},
		{errors.New("blocked by safety settings"), FailoverContentFilter},
		{errors.New("model not found"), FailoverModelUnavailable},
		{errors.New("502 bad gateway"), FailoverServerError},
		{errors.New("something odd"), FailoverUnknown},
		{nil, FailoverUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.want {
			t.Errorf("ClassifyError(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestProviderErrorStatusAndCode(t *testing.T) {
	err := NewProviderError("openai", "gpt-4o", errors.New("nope")).WithStatus(http.StatusUnauthorized)
	if err.Reason != FailoverAuth {
		t.Fatalf("Reason = %s, want auth", err.Reason)
	}
	if err.FailoverReasonString() != "auth" {
		t.Fatalf("FailoverReasonString() = %q", err.FailoverReasonString())
	}
	err.WithCode("rate_limit_error")
	if err.Reason != FailoverRateLimit || !err.Reason.IsRetryable() {
		t.Fatalf("code should reclassify to a retryable rate limit, got %s", err.Reason)
	}
	want := "[rate_limit] openai model=gpt-4o status=401 code=rate_limit_error nope"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapErrorReadsSDKErrors(t *testing.T) {
	apiErr := &openai.APIError{HTTPStatusCode: 503, Message: "overloaded", Type: "server_error"}
	err := wrapError("openai", "gpt-4o", fmt.Errorf("stream: %w", apiErr))
	pe, ok := GetProviderError(err)
	if !ok {
		t.Fatalf("wrapError() = %T, want *ProviderError", err)
	}
	if pe.Status != 503 || pe.Reason != FailoverServerError || pe.Message != "overloaded" {
		t.Fatalf("ProviderError = %+v", pe)
	}
	if !errors.Is(err, apiErr) {
		t.Fatal("cause should stay in the chain")
	}
	if wrapError("openai", "", pe) != pe {
		t.Fatal("provider errors should not be wrapped twice")
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(context.Canceled) {
		t.Fatal("cancellation is never retryable")
	}
	if !IsRetryable(NewProviderError("x", "", errors.New("503 service error"))) {
		t.Fatal("server errors should be retryable")
	}
	if IsRetryable(NewProviderError("x", "", nil).WithStatus(http.StatusBadRequest)) {
		t.Fatal("bad requests should not be retryable")
	}
	if !ShouldFailover(NewProviderError("x", "", nil).WithStatus(http.StatusPaymentRequired)) {
		t.Fatal("billing failures should fail over")
	}
}
