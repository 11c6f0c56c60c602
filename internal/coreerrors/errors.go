// Package coreerrors defines the provider error taxonomy shared by the LLM
// Gateway, providers, and the action dispatcher.
package coreerrors

import "fmt"

// Code classifies a ProviderError for retry and failover decisions.
type Code string

const (
	CodeNetworkTimeout     Code = "network_timeout"
	CodeConnectionError    Code = "connection_error"
	CodeDNSError           Code = "dns_error"
	CodeRateLimited        Code = "rate_limited"
	CodeServerOverload     Code = "server_overload"
	CodeGatewayError       Code = "gateway_error"
	CodeProviderUnavailable Code = "provider_unavailable"

	CodeInvalidRequest     Code = "invalid_request"
	CodeAuthFailed         Code = "auth_failed"
	CodeQuotaExceeded      Code = "quota_exceeded"
	CodeUnsupportedModel   Code = "unsupported_model"
	CodeContentFilterBlock Code = "content_filter_block"
	CodeInputTooLarge      Code = "input_too_large"
	CodeMalformedResponse  Code = "malformed_response"
)

// RetryableCodes is the fixed set of codes eligible for retry by
// retry.Controller before failover to the next provider.
var RetryableCodes = map[Code]bool{
	CodeNetworkTimeout:      true,
	CodeConnectionError:     true,
	CodeDNSError:            true,
	CodeRateLimited:         true,
	CodeServerOverload:      true,
	CodeGatewayError:        true,
	CodeProviderUnavailable: true,
}

// NonRetryableCodes is the fixed set of codes that fail over to the next
// provider immediately without a retry attempt.
var NonRetryableCodes = map[Code]bool{
	CodeInvalidRequest:     true,
	CodeAuthFailed:         true,
	CodeQuotaExceeded:      true,
	CodeUnsupportedModel:   true,
	CodeContentFilterBlock: true,
	CodeInputTooLarge:      true,
	CodeMalformedResponse:  true,
}

// IsRetryable reports whether code is a member of RetryableCodes.
func IsRetryable(code Code) bool {
	return RetryableCodes[code]
}

// ProviderError is the single error type LLM providers and the Gateway use
// to communicate classified failures.
type ProviderError struct {
	Code      Code
	Retriable bool
	Status    int
	Provider  string
	Details   map[string]any
	TraceID   string
}

func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s (status=%d, trace=%s)", e.Provider, e.Code, e.Status, e.TraceID)
	}
	return fmt.Sprintf("%s (status=%d, trace=%s)", e.Code, e.Status, e.TraceID)
}

// New constructs a ProviderError, inferring Retriable from Code unless the
// caller has an overriding reason to set it explicitly.
func New(code Code, provider string, status int, traceID string, details map[string]any) *ProviderError {
	return &ProviderError{
		Code:      code,
		Retriable: IsRetryable(code),
		Status:    status,
		Provider:  provider,
		Details:   details,
		TraceID:   traceID,
	}
}

// AsProviderError extracts a *ProviderError from err, returning nil if err
// does not carry one.
func AsProviderError(err error) *ProviderError {
	var pe *ProviderError
	if e, ok := err.(*ProviderError); ok {
		return e
	}
	type wrapper interface{ Unwrap() error }
	for w, ok := err.(wrapper); ok; w, ok = err.(wrapper) {
		err = w.Unwrap()
		if e, ok := err.(*ProviderError); ok {
			return e
		}
	}
	return pe
}
