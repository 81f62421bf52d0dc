package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailoverReason categorizes why a provider request failed.
type FailoverReason string

const (
	// FailoverBilling indicates payment/quota issues (HTTP 402)
	FailoverBilling FailoverReason = "billing"

	// FailoverRateLimit indicates rate limiting (HTTP 429)
	FailoverRateLimit FailoverReason = "rate_limit"

	// FailoverAuth indicates authentication failure (HTTP 401, 403)
	FailoverAuth FailoverReason = "auth"

	// FailoverTimeout indicates the call exceeded its deadline
	FailoverTimeout FailoverReason = "timeout"

	// FailoverServerError indicates server-side issues (HTTP 5xx)
	FailoverServerError FailoverReason = "server_error"

	// FailoverInvalidRequest indicates client-side issues (HTTP 400)
	FailoverInvalidRequest FailoverReason = "invalid_request"

	// FailoverModelUnavailable indicates the model is not available
	FailoverModelUnavailable FailoverReason = "model_unavailable"

	// FailoverContentFilter indicates content was blocked by safety filters
	FailoverContentFilter FailoverReason = "content_filter"

	// FailoverUnknown indicates an unclassified error
	FailoverUnknown FailoverReason = "unknown"
)

// IsRetryable returns true if retrying the same request may succeed.
func (r FailoverReason) IsRetryable() bool {
	switch r {
	case FailoverRateLimit, FailoverTimeout, FailoverServerError:
		return true
	default:
		return false
	}
}

// ShouldFailover returns true if the error warrants trying a different provider.
// Failover itself is the caller's policy.
func (r FailoverReason) ShouldFailover() bool {
	switch r {
	case FailoverBilling, FailoverAuth, FailoverModelUnavailable:
		return true
	default:
		return false
	}
}

// ProviderError is the error every adapter returns for a failed backend call.
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
	switch {
	case e.Message != "":
		parts = append(parts, e.Message)
	case e.Cause != nil:
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError wraps cause and classifies it.
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

// WithStatus records the HTTP status and reclassifies by it.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if reason := classifyStatusCode(status); reason != FailoverUnknown {
		e.Reason = reason
	}
	return e
}

// WithCode records a provider error code and reclassifies when it is known.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	if reason, ok := errorCodeReasons[strings.ToLower(code)]; ok {
		e.Reason = reason
	}
	return e
}

// WithRequestID records the provider's request ID.
func (e *ProviderError) WithRequestID(id string) *ProviderError {
	e.RequestID = id
	return e
}

// WithMessage sets the error message.
func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

// reasonPatterns are matched in order against lowercased error text.
var reasonPatterns = []struct {
	reason   FailoverReason
	patterns []string
}{
	{FailoverTimeout, []string{"timeout", "deadline exceeded", "etimedout"}},
	{FailoverRateLimit, []string{"rate limit", "rate_limit", "too many requests", "resource exhausted", "resource_exhausted", "429"}},
	{FailoverAuth, []string{"unauthorized", "unauthenticated", "invalid api key", "invalid_api_key", "permission denied", "authentication", "401", "403"}},
	{FailoverBilling, []string{"billing", "payment", "insufficient_quota", "insufficient quota", "402"}},
	{FailoverContentFilter, []string{"content_filter", "content policy", "safety", "blocked"}},
	{FailoverModelUnavailable, []string{"model not found", "model_not_found", "does not exist"}},
	{FailoverServerError, []string{"internal server", "server error", "bad gateway", "service unavailable", "overloaded", "connection reset", "connection refused", "500", "502", "503", "504", "529"}},
}

// ClassifyError inspects an error and returns the matching FailoverReason.
func ClassifyError(err error) FailoverReason {
	if err == nil {
		return FailoverUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailoverTimeout
	}
	msg := strings.ToLower(err.Error())
	for _, group := range reasonPatterns {
		for _, pattern := range group.patterns {
			if strings.Contains(msg, pattern) {
				return group.reason
			}
		}
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
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return FailoverTimeout
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return FailoverInvalidRequest
	case status == http.StatusNotFound:
		return FailoverModelUnavailable
	case status >= 500:
		return FailoverServerError
	default:
		return FailoverUnknown
	}
}

var errorCodeReasons = map[string]FailoverReason{
	"rate_limit_error":         FailoverRateLimit,
	"rate_limit_exceeded":      FailoverRateLimit,
	"resource_exhausted":       FailoverRateLimit,
	"authentication_error":     FailoverAuth,
	"permission_error":         FailoverAuth,
	"invalid_api_key":          FailoverAuth,
	"unauthenticated":          FailoverAuth,
	"permission_denied":        FailoverAuth,
	"billing_error":            FailoverBilling,
	"insufficient_quota":       FailoverBilling,
	"model_not_found":          FailoverModelUnavailable,
	"not_found_error":          FailoverModelUnavailable,
	"content_policy_violation": FailoverContentFilter,
	"content_filter":           FailoverContentFilter,
	"server_error":             FailoverServerError,
	"api_error":                FailoverServerError,
	"overloaded_error":         FailoverServerError,
	"internal":                 FailoverServerError,
	"unavailable":              FailoverServerError,
	"deadline_exceeded":        FailoverTimeout,
	"invalid_request_error":    FailoverInvalidRequest,
	"invalid_argument":         FailoverInvalidRequest,
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

// IsRetryable checks if an error should be retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}
	return ClassifyError(err).IsRetryable()
}

// ShouldFailover checks if an error warrants trying a different provider.
func ShouldFailover(err error) bool {
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.ShouldFailover()
	}
	return ClassifyError(err).ShouldFailover()
}
