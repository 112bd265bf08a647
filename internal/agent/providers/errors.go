package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Reason classifies a provider transport failure. The reason decides both
// retry behavior inside an adapter and failover behavior in the loop.
type Reason string

const (
	// ReasonRateLimit means the provider throttled the request (429).
	ReasonRateLimit Reason = "rate_limit"

	// ReasonTimeout means the request or stream timed out.
	ReasonTimeout Reason = "timeout"

	// ReasonServerError means a 5xx or equivalent upstream failure.
	ReasonServerError Reason = "server_error"

	// ReasonAuth means the credential was rejected (401/403) or the account
	// is not permitted to use the endpoint (402).
	ReasonAuth Reason = "auth"

	// ReasonInvalidRequest means the request itself was malformed (400).
	ReasonInvalidRequest Reason = "invalid_request"

	// ReasonModelNotFound means the requested model does not exist on this
	// provider (404).
	ReasonModelNotFound Reason = "model_not_found"

	// ReasonUnknown is anything the classifier could not place.
	ReasonUnknown Reason = "unknown"
)

// IsRetryable reports whether the same request may succeed if retried
// against the same provider.
func (r Reason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError:
		return true
	default:
		return false
	}
}

// ShouldFailover reports whether the failure is about this provider or
// model rather than the request, making another provider in the fallback
// chain worth trying.
func (r Reason) ShouldFailover() bool {
	switch r {
	case ReasonAuth, ReasonModelNotFound:
		return true
	default:
		return false
	}
}

// ProviderError is a classified transport failure from a model provider.
// Auth material never appears in it; Message carries only what the vendor
// returned as a human-readable description.
type ProviderError struct {
	Reason    Reason
	Provider  string
	Model     string
	Status    int
	Code      string
	Message   string
	RequestID string
	Cause     error
}

// NewProviderError wraps cause with provider context, classifying the
// reason from the cause's shape and message.
func NewProviderError(provider, model string, cause error) *ProviderError {
	return &ProviderError{
		Reason:   classifyCause(cause),
		Provider: provider,
		Model:    model,
		Cause:    cause,
	}
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Provider, e.Reason)
	if e.Model != "" {
		fmt.Fprintf(&b, " (model=%s)", e.Model)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status=%d)", e.Status)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " (code=%s)", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	} else if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, " (request_id=%s)", e.RequestID)
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is / errors.As chains.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// WithStatus records the HTTP status and reclassifies the reason from it
// when the status gives a more specific answer than the current one.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if r := classifyStatus(status); r != ReasonUnknown {
		e.Reason = r
	}
	return e
}

// WithCode records the vendor error code.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	return e
}

// WithMessage records the vendor's human-readable message.
func (e *ProviderError) WithMessage(message string) *ProviderError {
	e.Message = message
	return e
}

// WithRequestID records the vendor request id for support correlation.
func (e *ProviderError) WithRequestID(id string) *ProviderError {
	e.RequestID = id
	return e
}

// classifyStatus maps an HTTP status code to a failure reason.
func classifyStatus(status int) Reason {
	switch {
	case status == 401 || status == 402 || status == 403:
		return ReasonAuth
	case status == 404:
		return ReasonModelNotFound
	case status == 408:
		return ReasonTimeout
	case status == 429:
		return ReasonRateLimit
	case status == 400 || (status >= 405 && status < 500):
		return ReasonInvalidRequest
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

// classifyCause classifies an error by shape and message when no status
// code is available.
func classifyCause(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "quota"):
		return ReasonRateLimit
	case strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "timed out"):
		return ReasonTimeout
	case strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "unauthenticated") ||
		strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "invalid x-api-key") ||
		strings.Contains(msg, "authentication"):
		return ReasonAuth
	case strings.Contains(msg, "model not found") ||
		strings.Contains(msg, "model_not_found") ||
		strings.Contains(msg, "does not exist"):
		return ReasonModelNotFound
	case strings.Contains(msg, "internal server error") ||
		strings.Contains(msg, "bad gateway") ||
		strings.Contains(msg, "service unavailable") ||
		strings.Contains(msg, "gateway timeout") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused"):
		return ReasonServerError
	case strings.Contains(msg, "invalid request") ||
		strings.Contains(msg, "invalid_request") ||
		strings.Contains(msg, "bad request"):
		return ReasonInvalidRequest
	default:
		return ReasonUnknown
	}
}

// AsProviderError extracts a ProviderError from an error chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}

// IsRetryable reports whether err is a retryable provider failure.
// Unclassified errors are not retried.
func IsRetryable(err error) bool {
	if perr, ok := AsProviderError(err); ok {
		return perr.Reason.IsRetryable()
	}
	return false
}

// ShouldFailover reports whether err warrants trying the next provider in
// the fallback chain.
func ShouldFailover(err error) bool {
	if perr, ok := AsProviderError(err); ok {
		return perr.Reason.ShouldFailover()
	}
	return false
}
