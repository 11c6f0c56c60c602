// Package retry implements a stateless, reentrant exponential-backoff
// controller used by the LLM Gateway to retry classified provider errors
// before failing over to the next provider in priority order.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/starpig1129/pigpig-core/internal/coreerrors"
)

// Config parameterizes a Controller. It carries no mutable state, so a
// single Config value may be shared across concurrent calls.
type Config struct {
	MaxRetries     int
	BaseDelay      time.Duration
	Jitter         float64
	RetryableCodes map[coreerrors.Code]bool
	TimeoutCeiling time.Duration // zero is replaced by DefaultConfig's ceiling in New
}

// DefaultConfig matches the Gateway's default retry policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     2,
		BaseDelay:      600 * time.Millisecond,
		Jitter:         0.4,
		RetryableCodes: coreerrors.RetryableCodes,
		TimeoutCeiling: 6 * time.Second,
	}
}

// Controller runs a function under Config's backoff policy. It holds no
// per-call state, so one Controller may be reused across goroutines.
type Controller struct {
	cfg Config
}

// New builds a Controller from cfg, filling unset fields from DefaultConfig.
func New(cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.Jitter == 0 {
		cfg.Jitter = def.Jitter
	}
	if cfg.RetryableCodes == nil {
		cfg.RetryableCodes = def.RetryableCodes
	}
	if cfg.TimeoutCeiling == 0 {
		cfg.TimeoutCeiling = def.TimeoutCeiling
	}
	return &Controller{cfg: cfg}
}

// delay computes the backoff for the given 1-indexed attempt using
// base * 2^(attempt-1) * (1 + U[0,jitter]), clamped to TimeoutCeiling.
func (c *Controller) delay(attempt int) time.Duration {
	mult := math.Pow(2, float64(attempt-1))
	jittered := 1 + rand.Float64()*c.cfg.Jitter
	d := time.Duration(float64(c.cfg.BaseDelay) * mult * jittered)
	if c.cfg.TimeoutCeiling > 0 && d > c.cfg.TimeoutCeiling {
		d = c.cfg.TimeoutCeiling
	}
	return d
}

func (c *Controller) shouldRetry(err error) bool {
	pe := coreerrors.AsProviderError(err)
	if pe == nil {
		return false
	}
	return c.cfg.RetryableCodes[pe.Code]
}

// OnTry is called before each attempt, receiving the 1-indexed attempt number.
type OnTry func(attempt int)

// OnRetry is called after a retriable failure, before sleeping, receiving
// the attempt that just failed, the delay about to be slept, and the code.
type OnRetry func(attempt int, delay time.Duration, code coreerrors.Code)

// Do runs fn under the controller's backoff policy. It returns fn's result
// on success, or the last error if fn exhausts MaxRetries or returns a
// non-retriable error. ctx cancellation aborts the wait between attempts.
func Do[T any](ctx context.Context, c *Controller, fn func() (T, error), onTry OnTry, onRetry OnRetry) (T, error) {
	var zero T
	attempt := 0
	for {
		attempt++
		if onTry != nil {
			onTry(attempt)
		}
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if !c.shouldRetry(err) || attempt > c.cfg.MaxRetries {
			return zero, err
		}
		pe := coreerrors.AsProviderError(err)
		d := c.delay(attempt)
		if onRetry != nil {
			onRetry(attempt, d, pe.Code)
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(d):
		}
	}
}
