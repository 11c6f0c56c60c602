package llmgateway

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/starpig1129/pigpig-core/internal/coreerrors"
	"github.com/starpig1129/pigpig-core/internal/providers"
	"github.com/starpig1129/pigpig-core/internal/retry"
)

// scriptedProvider replays a fixed sequence of ChatStream outcomes, one per
// call, so tests can exercise retry/failover deterministically.
type scriptedProvider struct {
	name  string
	calls int
	plan  []func(onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error)
}

func (s *scriptedProvider) Name() string        { return s.name }
func (s *scriptedProvider) DefaultModel() string { return "test-model" }

func (s *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: "ok"}, nil
}

func (s *scriptedProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	idx := s.calls
	s.calls++
	if idx >= len(s.plan) {
		idx = len(s.plan) - 1
	}
	return s.plan[idx](onChunk)
}

func chunkSeq(contents ...string) func(func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return func(onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
		for _, c := range contents {
			onChunk(providers.StreamChunk{Content: c})
		}
		onChunk(providers.StreamChunk{Done: true})
		return &providers.ChatResponse{FinishReason: "stop"}, nil
	}
}

func failWith(code coreerrors.Code) func(func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return func(onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
		return nil, coreerrors.New(code, "test", 0, "t", nil)
	}
}

func collect(t *testing.T, ch <-chan Chunk) []Chunk {
	t.Helper()
	var out []Chunk
	deadline := time.After(2 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
			if c.Done {
				return out
			}
		case <-deadline:
			t.Fatal("timed out waiting for gateway output")
		}
	}
}

func newTestGateway(reg *providers.Registry) *Gateway {
	return New(reg, WithRetryConfig(retry.Config{MaxRetries: 2, BaseDelay: time.Millisecond, Jitter: 0}))
}

func TestGenerateHappyPathStreamsAllContent(t *testing.T) {
	reg := providers.NewRegistry()
	reg.Register(&scriptedProvider{name: "p1", plan: []func(func(providers.StreamChunk)) (*providers.ChatResponse, error){
		chunkSeq("hello", " ", "world"),
	}})
	g := newTestGateway(reg)

	chunks := collect(t, g.Generate(context.Background(), Request{Messages: []providers.Message{{Role: "user", Content: "hi"}}}))
	var text strings.Builder
	for _, c := range chunks {
		if c.Err != nil {
			t.Fatalf("unexpected error chunk: %v", c.Err)
		}
		text.WriteString(c.Content)
	}
	if text.String() != "hello world" {
		t.Fatalf("got %q", text.String())
	}
}

func TestGenerateRetriesRetryableErrorThenSucceeds(t *testing.T) {
	reg := providers.NewRegistry()
	reg.Register(&scriptedProvider{name: "p1", plan: []func(func(providers.StreamChunk)) (*providers.ChatResponse, error){
		failWith(coreerrors.CodeServerOverload),
		chunkSeq("recovered"),
	}})
	g := newTestGateway(reg)

	chunks := collect(t, g.Generate(context.Background(), Request{}))
	var text strings.Builder
	for _, c := range chunks {
		text.WriteString(c.Content)
	}
	if text.String() != "recovered" {
		t.Fatalf("got %q", text.String())
	}
}

func TestGenerateFailsOverToNextProviderOnNonRetryableError(t *testing.T) {
	reg := providers.NewRegistry()
	reg.Register(&scriptedProvider{name: "p1", plan: []func(func(providers.StreamChunk)) (*providers.ChatResponse, error){
		failWith(coreerrors.CodeAuthFailed),
	}})
	reg.Register(&scriptedProvider{name: "p2", plan: []func(func(providers.StreamChunk)) (*providers.ChatResponse, error){
		chunkSeq("from p2"),
	}})
	g := newTestGateway(reg)

	chunks := collect(t, g.Generate(context.Background(), Request{}))
	var text strings.Builder
	for _, c := range chunks {
		text.WriteString(c.Content)
	}
	if text.String() != "from p2" {
		t.Fatalf("expected failover to p2, got %q", text.String())
	}
}

func TestGenerateReturnsErrorEnvelopeWhenAllProvidersExhausted(t *testing.T) {
	reg := providers.NewRegistry()
	reg.Register(&scriptedProvider{name: "p1", plan: []func(func(providers.StreamChunk)) (*providers.ChatResponse, error){
		failWith(coreerrors.CodeAuthFailed),
	}})
	g := newTestGateway(reg)

	chunks := collect(t, g.Generate(context.Background(), Request{}))
	if len(chunks) != 1 || chunks[0].Err == nil {
		t.Fatalf("expected a single terminal error chunk, got %+v", chunks)
	}
}

func TestGenerateNoCrossRetryTokenDuplication(t *testing.T) {
	// First attempt streams extra content past the buffered first/second
	// slot, then fails; the retry must not replay those leaked tokens.
	reg := providers.NewRegistry()
	reg.Register(&scriptedProvider{name: "p1", plan: []func(func(providers.StreamChunk)) (*providers.ChatResponse, error){
		func(onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
			onChunk(providers.StreamChunk{Content: "leaked-1"})
			onChunk(providers.StreamChunk{Content: "leaked-2"})
			onChunk(providers.StreamChunk{Content: "leaked-3"})
			return nil, coreerrors.New(coreerrors.CodeNetworkTimeout, "test", 0, "t", nil)
		},
		chunkSeq("clean", "-output"),
	}})
	g := newTestGateway(reg)

	chunks := collect(t, g.Generate(context.Background(), Request{}))
	var text strings.Builder
	for _, c := range chunks {
		if c.Err != nil {
			t.Fatalf("unexpected error chunk: %v", c.Err)
		}
		text.WriteString(c.Content)
	}
	if strings.Contains(text.String(), "leaked") {
		t.Fatalf("leaked tokens from failed attempt reached the caller: %q", text.String())
	}
	if text.String() != "clean-output" {
		t.Fatalf("got %q", text.String())
	}
}

func TestGenerateStructuredParsesJSONDespiteProse(t *testing.T) {
	reg := providers.NewRegistry()
	reg.Register(&jsonProvider{name: "p1", content: "Sure, here you go:\n```json\n{\"fragments\":[{\"query_key\":\"k\"}]}\n```"})
	g := newTestGateway(reg)

	var out struct {
		Fragments []struct {
			QueryKey string `json:"query_key"`
		} `json:"fragments"`
	}
	if err := g.GenerateStructured(context.Background(), Request{}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Fragments) != 1 || out.Fragments[0].QueryKey != "k" {
		t.Fatalf("got %+v", out)
	}
}

type jsonProvider struct {
	name    string
	content string
}

func (j *jsonProvider) Name() string        { return j.name }
func (j *jsonProvider) DefaultModel() string { return "test-model" }
func (j *jsonProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: j.content}, nil
}
func (j *jsonProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	onChunk(providers.StreamChunk{Content: j.content, Done: true})
	return &providers.ChatResponse{Content: j.content}, nil
}
