package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Reason
	}{
		{401, ReasonAuth},
		{402, ReasonAuth},
		{403, ReasonAuth},
		{404, ReasonModelNotFound},
		{408, ReasonTimeout},
		{429, ReasonRateLimit},
		{400, ReasonInvalidRequest},
		{422, ReasonInvalidRequest},
		{500, ReasonServerError},
		{503, ReasonServerError},
		{200, ReasonUnknown},
	}
	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestClassifyCause(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Reason
	}{
		{"nil", nil, ReasonUnknown},
		{"deadline", context.DeadlineExceeded, ReasonTimeout},
		{"wrapped deadline", fmt.Errorf("request: %w", context.DeadlineExceeded), ReasonTimeout},
		{"rate limit", errors.New("429 Too Many Requests: rate limit exceeded"), ReasonRateLimit},
		{"quota", errors.New("RESOURCE_EXHAUSTED: quota exceeded"), ReasonRateLimit},
		{"auth", errors.New("invalid x-api-key"), ReasonAuth},
		{"permission", errors.New("permission denied for project"), ReasonAuth},
		{"model", errors.New("model not found: claude-99"), ReasonModelNotFound},
		{"does not exist", errors.New("the model `gpt-99` does not exist"), ReasonModelNotFound},
		{"server", errors.New("upstream connection reset by peer"), ReasonServerError},
		{"overloaded", errors.New("Overloaded"), ReasonServerError},
		{"invalid", errors.New("bad request: messages must not be empty"), ReasonInvalidRequest},
		{"unknown", errors.New("gremlins"), ReasonUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyCause(tt.err); got != tt.want {
				t.Errorf("classifyCause(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestReasonRetryable(t *testing.T) {
	retryable := []Reason{ReasonRateLimit, ReasonTimeout, ReasonServerError}
	for _, r := range retryable {
		if !r.IsRetryable() {
			t.Errorf("%q should be retryable", r)
		}
	}
	terminal := []Reason{ReasonAuth, ReasonInvalidRequest, ReasonModelNotFound, ReasonUnknown}
	for _, r := range terminal {
		if r.IsRetryable() {
			t.Errorf("%q should not be retryable", r)
		}
	}
}

func TestReasonShouldFailover(t *testing.T) {
	failover := []Reason{ReasonAuth, ReasonModelNotFound}
	for _, r := range failover {
		if !r.ShouldFailover() {
			t.Errorf("%q should fail over", r)
		}
	}
	stay := []Reason{ReasonRateLimit, ReasonTimeout, ReasonServerError, ReasonInvalidRequest, ReasonUnknown}
	for _, r := range stay {
		if r.ShouldFailover() {
			t.Errorf("%q should not fail over", r)
		}
	}
}

func TestProviderErrorMessage(t *testing.T) {
	perr := NewProviderError("openai", "gpt-4o", errors.New("boom")).
		WithStatus(500).
		WithCode("server_error").
		WithMessage("internal failure").
		WithRequestID("req-123")

	msg := perr.Error()
	for _, want := range []string{"openai", "server_error", "gpt-4o", "500", "internal failure", "req-123"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := errors.New("socket closed")
	perr := NewProviderError("anthropic", "", cause)

	if !errors.Is(perr, cause) {
		t.Fatalf("expected errors.Is to reach the cause")
	}
}

func TestWithStatusReclassifies(t *testing.T) {
	perr := NewProviderError("google", "", errors.New("gremlins"))
	if perr.Reason != ReasonUnknown {
		t.Fatalf("Reason = %q, want unknown before status", perr.Reason)
	}

	perr = perr.WithStatus(429)
	if perr.Reason != ReasonRateLimit {
		t.Errorf("Reason = %q, want rate_limit after 429", perr.Reason)
	}

	// A status the classifier cannot place keeps the current reason.
	perr = perr.WithStatus(302)
	if perr.Reason != ReasonRateLimit {
		t.Errorf("Reason = %q, want rate_limit preserved", perr.Reason)
	}
}

func TestErrorChainHelpers(t *testing.T) {
	perr := &ProviderError{Reason: ReasonAuth, Provider: "anthropic"}
	wrapped := fmt.Errorf("complete: %w", perr)

	if !ShouldFailover(wrapped) {
		t.Errorf("ShouldFailover should see through wrapping")
	}
	if IsRetryable(wrapped) {
		t.Errorf("auth errors are not retryable")
	}

	if got, ok := AsProviderError(wrapped); !ok || got.Provider != "anthropic" {
		t.Errorf("AsProviderError = %+v, %v", got, ok)
	}

	plain := errors.New("no classification")
	if ShouldFailover(plain) || IsRetryable(plain) {
		t.Errorf("unclassified errors neither retry nor fail over")
	}
}
