package summarization

import (
	"context"
	"testing"

	"github.com/starpig1129/pigpig-core/internal/llmgateway"
	"github.com/starpig1129/pigpig-core/internal/providers"
	"github.com/starpig1129/pigpig-core/internal/store"
)

type fakeProvider struct {
	content string
}

func (f *fakeProvider) Name() string          { return "fake" }
func (f *fakeProvider) DefaultModel() string  { return "fake-model" }
func (f *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: f.content, FinishReason: "stop"}, nil
}
func (f *fakeProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	onChunk(providers.StreamChunk{Content: f.content, Done: true})
	return &providers.ChatResponse{Content: f.content, FinishReason: "stop"}, nil
}

func newTestGateway(content string) *llmgateway.Gateway {
	reg := providers.NewRegistry()
	reg.Register(&fakeProvider{content: content})
	return llmgateway.New(reg)
}

func TestSummarizeEventsResolvesMetadataFromFragmentIDs(t *testing.T) {
	gw := newTestGateway(`{"fragments":[{"query_key":"discussed release plan","query_keywords":["release","plan"],"query_value":"The team agreed to ship Friday.","start_message_id":"m1","end_message_id":"m2"}]}`)
	svc := New(gw, nil)

	messages := []store.Message{
		{MessageID: "m1", ChannelID: "c1", GuildID: "g1", UserID: "u1", Content: "let's ship Friday", TimestampSec: 100},
		{MessageID: "m2", ChannelID: "c1", GuildID: "g1", UserID: "u2", Content: "agreed", TimestampSec: 110, ReactionsJSON: `[{"emoji":"👍"}]`},
	}

	summaries, err := svc.SummarizeEvents(context.Background(), messages)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	s := summaries[0]
	if s.Metadata.StartMessageID != "m1" || s.Metadata.EndMessageID != "m2" {
		t.Fatalf("unexpected metadata ids: %+v", s.Metadata)
	}
	if len(s.Metadata.UserIDs) != 2 {
		t.Fatalf("expected 2 distinct users, got %v", s.Metadata.UserIDs)
	}
	if s.Metadata.ChannelID != "c1" {
		t.Fatalf("expected channel c1, got %q", s.Metadata.ChannelID)
	}
}

func TestSummarizeEventsFallsBackWhenIDsNotInGroup(t *testing.T) {
	gw := newTestGateway(`{"fragments":[{"query_key":"k","query_keywords":[],"query_value":"v","start_message_id":"unknown-1","end_message_id":"unknown-2"}]}`)
	svc := New(gw, nil)

	messages := []store.Message{
		{MessageID: "m1", ChannelID: "c1", UserID: "u1", Content: "first", TimestampSec: 50},
		{MessageID: "m2", ChannelID: "c1", UserID: "u1", Content: "second", TimestampSec: 60},
	}

	summaries, err := svc.SummarizeEvents(context.Background(), messages)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	if summaries[0].Metadata.StartMessageID != "m1" || summaries[0].Metadata.EndMessageID != "m2" {
		t.Fatalf("expected fallback to earliest/latest by timestamp, got %+v", summaries[0].Metadata)
	}
}

func TestSummarizeEventsEmptyInput(t *testing.T) {
	svc := New(newTestGateway(`{"fragments":[]}`), nil)
	summaries, err := svc.SummarizeEvents(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summaries) != 0 {
		t.Fatalf("expected no summaries for empty input, got %d", len(summaries))
	}
}
