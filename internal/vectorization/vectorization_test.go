package vectorization

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/starpig1129/pigpig-core/internal/store"
	"github.com/starpig1129/pigpig-core/internal/summarization"
	"github.com/starpig1129/pigpig-core/internal/vectorstore"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "core.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return st
}

func TestProcessEventSummariesArchivesByDefault(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	if err := st.StoreMessagesBatch(ctx, []store.Message{
		{MessageID: "m1", ChannelID: "c1", GuildID: "g1", UserID: "u1", Content: "a", TimestampSec: 1},
		{MessageID: "m2", ChannelID: "c1", GuildID: "g1", UserID: "u2", Content: "b", TimestampSec: 2},
	}); err != nil {
		t.Fatalf("store messages: %v", err)
	}

	vstore := vectorstore.NewMemoryStore(&zeroEmbed{})
	svc := New(vstore, st, "", nil)

	summaries := []summarization.EventSummary{{
		QueryKey:   "discussed plan",
		QueryValue: "they discussed the plan",
		Metadata: summarization.EventMetadata{
			StartMessageID: "m1", EndMessageID: "m2", ChannelID: "c1", GuildID: "g1",
			UserIDs: []string{"u1", "u2"}, StartTimestamp: 1, EndTimestamp: 2,
		},
	}}

	if err := svc.ProcessEventSummaries(ctx, summaries); err != nil {
		t.Fatalf("process event summaries: %v", err)
	}

	remaining, err := st.GetUnvectorized(ctx, 10)
	if err != nil {
		t.Fatalf("get unvectorized: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected no unvectorized messages left, got %d", len(remaining))
	}

	frags, err := vstore.Search(ctx, vectorstore.SearchQuery{KeywordQuery: "plan", Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(frags) != 1 {
		t.Fatalf("expected 1 fragment in vector store, got %d", len(frags))
	}
}

type zeroEmbed struct{}

func (zeroEmbed) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0, 0}
	}
	return out, nil
}

func (zeroEmbed) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{0, 0}, nil
}
