package providers

import (
	"context"

	"github.com/starpig1129/pigpig-core/internal/retry"
)

// RetryConfig is a per-provider retry policy. It wraps a retry.Controller
// so existing call sites (RetryDo(ctx, p.retryConfig, fn)) stay put while
// the actual backoff math lives in internal/retry.
type RetryConfig struct {
	controller *retry.Controller
}

// DefaultRetryConfig matches the Gateway's default provider-attempt policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{controller: retry.New(retry.DefaultConfig())}
}

// RetryDo runs fn under cfg's backoff policy, retrying only errors
// classified as retriable (see coreerrors.RetryableCodes).
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	c := cfg.controller
	if c == nil {
		c = retry.New(retry.DefaultConfig())
	}
	return retry.Do(ctx, c, fn, nil, nil)
}
