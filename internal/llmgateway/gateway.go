// Package llmgateway implements the provider-agnostic LLM Gateway: a
// priority list of providers, per-provider retry, failover between
// providers, and the deferred-output streaming discipline that prevents a
// retried attempt from duplicating tokens the caller already received.
package llmgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/starpig1129/pigpig-core/internal/coreerrors"
	"github.com/starpig1129/pigpig-core/internal/providers"
	"github.com/starpig1129/pigpig-core/internal/retry"
	"github.com/starpig1129/pigpig-core/internal/telemetry"
)

// Request is the input to Generate.
type Request struct {
	SystemPrompt string
	Messages     []providers.Message
	Tools        []providers.ToolDefinition
	Options      map[string]interface{}
	// ResponseSchema is carried on the request for GenerateStructured
	// callers. Neither Generate nor GenerateStructured passes it to the
	// provider or validates output against it; GenerateStructured only
	// checks that the reply decodes as JSON into its target value.
	ResponseSchema map[string]interface{}
	TraceID        string
}

// Chunk is one unit the Gateway's output channel yields: either a content
// delta or a terminal error envelope.
type Chunk struct {
	Content string
	Done    bool
	Err     *coreerrors.ProviderError
}

// Gateway holds the provider priority list and default retry policy.
type Gateway struct {
	registry     *providers.Registry
	priority     []string
	retryCfg     retry.Config
	reporter     telemetry.ErrorReporter
	log          *slog.Logger
}

// Option configures a Gateway at construction.
type Option func(*Gateway)

// WithPriority overrides the provider iteration order (provider names).
func WithPriority(names []string) Option {
	return func(g *Gateway) { g.priority = names }
}

// WithRetryConfig overrides the default retry policy used per provider
// attempt.
func WithRetryConfig(cfg retry.Config) Option {
	return func(g *Gateway) { g.retryCfg = cfg }
}

// WithErrorReporter injects the async error-reporting seam.
func WithErrorReporter(r telemetry.ErrorReporter) Option {
	return func(g *Gateway) { g.reporter = r }
}

// WithLogger overrides the operator-facing slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// New constructs a Gateway over registry with sensible defaults.
func New(registry *providers.Registry, opts ...Option) *Gateway {
	g := &Gateway{
		registry: registry,
		retryCfg: retry.DefaultConfig(),
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	if g.reporter == nil {
		g.reporter = telemetry.NewMailbox(64, g.log)
	}
	return g
}

// Generate runs the deferred-output streaming discipline described for the
// core: it tries each provider in priority order, retrying retriable
// errors via internal/retry and failing over to the next provider on
// non-retriable errors or retry exhaustion. Output is buffered internally
// for the first chunk (and the second, tolerating a single-chunk success)
// before anything is handed to the caller, so a mid-stream failure that
// triggers failover never leaks partial output; the caller receives either
// a clean stream or a single terminal error chunk.
func (g *Gateway) Generate(ctx context.Context, req Request) <-chan Chunk {
	out := make(chan Chunk, 4)
	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	go func() {
		defer close(out)

		ctx, span := telemetry.StartSpan(ctx, "llmgateway.Generate")
		defer span.End()

		providerList := g.registry.Priority(g.priority)
		if len(providerList) == 0 {
			out <- errorChunk(coreerrors.New(coreerrors.CodeProviderUnavailable, "", 0, traceID, nil), "No available provider.")
			return
		}

		var lastErr *coreerrors.ProviderError
		for i, p := range providerList {
			first, second, rest, err := g.attemptProvider(ctx, p, req, traceID)
			if err != nil {
				lastErr = err
				g.eventProviderFail(p.Name(), traceID, err)
				if i+1 < len(providerList) {
					g.eventProviderFailover(p.Name(), providerList[i+1].Name(), traceID, err.Code)
				}
				continue
			}
			if first != "" {
				out <- Chunk{Content: first}
			}
			if second != "" {
				out <- Chunk{Content: second}
			}
			for c := range rest {
				out <- c
			}
			out <- Chunk{Done: true}
			return
		}

		msg := "Provider failed unexpectedly."
		if lastErr != nil && lastErr.Retriable {
			msg = "Provider failed after retries."
		}
		if lastErr == nil {
			lastErr = coreerrors.New(coreerrors.CodeProviderUnavailable, "", 0, traceID, nil)
			msg = "No available provider."
		}
		out <- errorChunk(lastErr, msg)
	}()

	return out
}

func errorChunk(pe *coreerrors.ProviderError, msg string) Chunk {
	pe.Details = mergeDetails(pe.Details, map[string]any{"message": msg})
	return Chunk{Err: pe, Done: true}
}

func mergeDetails(base map[string]any, add map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(add))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range add {
		out[k] = v
	}
	return out
}

// attemptProvider runs one provider's streaming attempt under retry,
// applying the deferred-output discipline: it buffers the first chunk
// (required) and second chunk (optional) before returning, so callers of
// Generate never see partial output from an attempt that ultimately fails
// before the buffer is released.
//
// Everything the attempt streams past that buffered prefix is accumulated
// into an unbounded slice rather than pushed onto a bounded channel while
// ChatStream is still running: nothing drains a channel until the whole
// attempt has already succeeded or failed, so a bounded channel would
// deadlock once a response produced more chunks than its capacity. Only
// once the attempt is known to have succeeded is the accumulated slice
// drained onto the channel handed back to the caller; a failed attempt's
// slice is simply discarded, so a retry can never duplicate tokens a
// caller already saw.
func (g *Gateway) attemptProvider(ctx context.Context, p providers.Provider, req Request, traceID string) (first, second string, rest <-chan Chunk, err *coreerrors.ProviderError) {
	ctx, span := telemetry.StartSpan(ctx, "llmgateway.attemptProvider")
	defer span.End()

	controller := retry.New(g.retryCfg)
	chatReq := toChatRequest(req)

	g.log.Debug("gateway provider attempt",
		slog.String("provider", p.Name()),
		slog.String("trace_id", traceID),
		slog.String("preview", coreerrors.MaskLines(previewMessages(chatReq.Messages), 40)),
	)

	// Each retry attempt gets its own buffer: a failed attempt's partial
	// output (anything streamed past the first/second slot) must never
	// reach the caller once a later attempt replaces it, or a retry would
	// duplicate tokens the caller already saw.
	var (
		firstC, secondC     string
		gotFirst, gotSecond bool
		tail                []string
	)

	onTry := func(attempt int) {
		g.eventProviderTry(p.Name(), traceID, attempt)
	}
	onRetry := func(attempt int, delay time.Duration, code coreerrors.Code) {
		g.eventProviderRetry(p.Name(), traceID, attempt, delay, code)
	}

	_, rerr := retry.Do(ctx, controller, func() (*providers.ChatResponse, error) {
		firstC, secondC, gotFirst, gotSecond = "", "", false, false
		tail = nil
		resp, err := p.ChatStream(ctx, chatReq, func(chunk providers.StreamChunk) {
			if chunk.Done && chunk.Content == "" {
				return
			}
			if !gotFirst {
				firstC = chunk.Content
				gotFirst = true
				return
			}
			if !gotSecond {
				secondC = chunk.Content
				gotSecond = true
				return
			}
			tail = append(tail, chunk.Content)
		})
		return resp, err
	}, onTry, onRetry)

	if rerr != nil {
		pe := coreerrors.AsProviderError(rerr)
		if pe == nil {
			pe = coreerrors.New(coreerrors.CodeMalformedResponse, p.Name(), 0, traceID, map[string]any{"error": rerr.Error()})
		}
		return "", "", nil, pe
	}
	if !gotFirst {
		return "", "", nil, coreerrors.New(coreerrors.CodeMalformedResponse, p.Name(), 0, traceID, map[string]any{"reason": "empty stream"})
	}

	ch := make(chan Chunk, len(tail))
	for _, c := range tail {
		ch <- Chunk{Content: c}
	}
	close(ch)

	return firstC, secondC, ch, nil
}

func previewMessages(msgs []providers.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	last := msgs[len(msgs)-1]
	return fmt.Sprintf("[%s] %s", last.Role, last.Content)
}

func toChatRequest(req Request) providers.ChatRequest {
	msgs := make([]providers.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, providers.Message{Role: "system", Content: req.SystemPrompt})
	}
	msgs = append(msgs, req.Messages...)
	return providers.ChatRequest{
		Messages: msgs,
		Tools:    req.Tools,
		Options:  req.Options,
	}
}

// GenerateStructured runs one non-streamed Chat call per provider, in
// priority order and each under retry, and decodes the response content as
// JSON into out. A provider whose call fails, or whose output does not
// decode (malformed_response), is skipped in favour of the next one; the
// last error is returned when no provider succeeds.
func (g *Gateway) GenerateStructured(ctx context.Context, req Request, out any) error {
	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	providerList := g.registry.Priority(g.priority)
	if len(providerList) == 0 {
		return coreerrors.New(coreerrors.CodeProviderUnavailable, "", 0, traceID, nil)
	}

	chatReq := toChatRequest(req)
	chatReq.Messages = append(chatReq.Messages, providers.Message{
		Role:    "system",
		Content: "Respond with JSON only, matching the required schema. No prose, no markdown fences.",
	})

	var lastErr *coreerrors.ProviderError
	for _, p := range providerList {
		controller := retry.New(g.retryCfg)
		resp, err := retry.Do(ctx, controller, func() (*providers.ChatResponse, error) {
			return p.Chat(ctx, chatReq)
		}, nil, nil)
		if err != nil {
			pe := coreerrors.AsProviderError(err)
			if pe == nil {
				pe = coreerrors.New(coreerrors.CodeGatewayError, p.Name(), 0, traceID, map[string]any{"error": err.Error()})
			}
			lastErr = pe
			g.eventProviderFail(p.Name(), traceID, pe)
			continue
		}
		if jsonErr := json.Unmarshal([]byte(extractJSON(resp.Content)), out); jsonErr != nil {
			lastErr = coreerrors.New(coreerrors.CodeMalformedResponse, p.Name(), 0, traceID, map[string]any{"error": jsonErr.Error()})
			g.eventProviderFail(p.Name(), traceID, lastErr)
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = coreerrors.New(coreerrors.CodeProviderUnavailable, "", 0, traceID, nil)
	}
	return lastErr
}

// extractJSON returns the substring from the first '{' or '[' to the last
// matching '}' or ']', tolerating providers that wrap JSON in prose or
// markdown fences despite instructions not to.
func extractJSON(s string) string {
	start := -1
	for i, r := range s {
		if r == '{' || r == '[' {
			start = i
			break
		}
	}
	if start < 0 {
		return s
	}
	end := -1
	for i := len(s) - 1; i >= start; i-- {
		if s[i] == '}' || s[i] == ']' {
			end = i
			break
		}
	}
	if end < 0 {
		return s[start:]
	}
	return s[start : end+1]
}
