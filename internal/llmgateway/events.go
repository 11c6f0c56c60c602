package llmgateway

import (
	"log/slog"
	"time"

	"github.com/starpig1129/pigpig-core/internal/coreerrors"
)

func (g *Gateway) eventProviderTry(provider, traceID string, attempt int) {
	g.log.Debug("provider_try", slog.String("provider", provider), slog.String("trace_id", traceID), slog.Int("attempt", attempt))
}

func (g *Gateway) eventProviderRetry(provider, traceID string, attempt int, delay time.Duration, code coreerrors.Code) {
	g.log.Warn("provider_retry",
		slog.String("provider", provider),
		slog.String("trace_id", traceID),
		slog.Int("attempt", attempt),
		slog.Int64("delay_ms", delay.Milliseconds()),
		slog.String("code", string(code)),
	)
}

func (g *Gateway) eventProviderFail(provider, traceID string, err *coreerrors.ProviderError) {
	g.log.Warn("provider_fail",
		slog.String("provider", provider),
		slog.String("trace_id", traceID),
		slog.String("code", string(err.Code)),
		slog.Bool("retriable", err.Retriable),
		slog.Int("status", err.Status),
	)
	g.reporter.ReportError("llmgateway", err, map[string]any{"provider": provider, "trace_id": traceID})
}

// eventProviderFailover marks the transition from one provider to the next
// in priority order, after from has exhausted its retries or failed with a
// non-retriable error. Generate logs exactly one of these per failover,
// distinct from the per-attempt provider_retry events.
func (g *Gateway) eventProviderFailover(from, to, traceID string, reason coreerrors.Code) {
	g.log.Warn("provider_failover",
		slog.String("from", from),
		slog.String("to", to),
		slog.String("trace_id", traceID),
		slog.String("reason", string(reason)),
	)
}
