package providers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/starpig1129/pigpig-core/internal/coreerrors"
)

// ParseRetryAfter parses an HTTP Retry-After header, which may be a number
// of seconds or an HTTP-date. It returns zero if the header is absent or
// unparseable.
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// classifyStatus maps an HTTP response's status code into the fixed
// ProviderError taxonomy used across the Gateway and retry policy.
func classifyStatus(provider string, status int, body string, retryAfter time.Duration) *coreerrors.ProviderError {
	details := map[string]any{"body": body}
	if retryAfter > 0 {
		details["retry_after_ms"] = retryAfter.Milliseconds()
	}

	var code coreerrors.Code
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = coreerrors.CodeAuthFailed
	case status == http.StatusTooManyRequests:
		code = coreerrors.CodeRateLimited
	case status == http.StatusRequestEntityTooLarge:
		code = coreerrors.CodeInputTooLarge
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		code = coreerrors.CodeInvalidRequest
	case status == http.StatusNotFound:
		code = coreerrors.CodeUnsupportedModel
	case status == 529: // Anthropic "overloaded"
		code = coreerrors.CodeServerOverload
	case status >= 500:
		code = coreerrors.CodeGatewayError
	default:
		code = coreerrors.CodeInvalidRequest
	}

	return coreerrors.New(code, provider, status, "", details)
}

// classifyTransportError maps a low-level transport failure (connection
// refused, DNS failure, context deadline) into the taxonomy. net/http
// wraps these distinctly enough that a simple string check is sufficient
// here; a dedicated net.Error type switch would not add precision since
// both client.Do timeouts and dial errors surface through the same *url.Error.
func classifyTransportError(provider string, err error) *coreerrors.ProviderError {
	msg := err.Error()
	code := coreerrors.CodeConnectionError
	switch {
	case strings.Contains(msg, "context deadline exceeded"), strings.Contains(msg, "timeout"):
		code = coreerrors.CodeNetworkTimeout
	case strings.Contains(msg, "no such host"), strings.Contains(msg, "dns"):
		code = coreerrors.CodeDNSError
	}
	return coreerrors.New(code, provider, 0, "", map[string]any{"error": msg})
}
