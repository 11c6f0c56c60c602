package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "core.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestPendingProcessedFlagIsMonotonic(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id, err := st.AddPending(ctx, PendingMessageRef{MessageID: "m1", ChannelID: "c1", GuildID: "g1", UserID: "u1", TimestampSec: 1})
	if err != nil {
		t.Fatalf("add pending: %v", err)
	}

	pending, err := st.GetPending(ctx, 10)
	if err != nil || len(pending) != 1 || pending[0].ProcessedFlag {
		t.Fatalf("expected one unprocessed pending row, got %+v err=%v", pending, err)
	}

	if err := st.MarkPendingProcessed(ctx, []int64{id}); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	pending, err = st.GetPending(ctx, 10)
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected processed row to disappear from GetPending, got %+v", pending)
	}

	// Marking again must not error and must not un-process anything.
	if err := st.MarkPendingProcessed(ctx, []int64{id}); err != nil {
		t.Fatalf("mark processed twice: %v", err)
	}
	pending, err = st.GetPending(ctx, 10)
	if err != nil || len(pending) != 0 {
		t.Fatalf("processed_flag reverted: %+v err=%v", pending, err)
	}
}

func TestArchiveMessagesIsExactlyOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	msgs := []Message{
		{MessageID: "10", ChannelID: "c1", GuildID: "g1", UserID: "u1", Content: "a", TimestampSec: 100},
		{MessageID: "11", ChannelID: "c1", GuildID: "g1", UserID: "u1", Content: "b", TimestampSec: 101},
		{MessageID: "12", ChannelID: "c1", GuildID: "g1", UserID: "u1", Content: "c", TimestampSec: 102},
	}
	if err := st.StoreMessagesBatch(ctx, msgs); err != nil {
		t.Fatalf("store messages: %v", err)
	}
	if err := st.MarkVectorized(ctx, []string{"10", "11", "12"}); err != nil {
		t.Fatalf("mark vectorized: %v", err)
	}

	ids := []string{"10", "11", "12"}
	if err := st.ArchiveMessages(ctx, ids); err != nil {
		t.Fatalf("archive messages: %v", err)
	}

	remaining, err := st.GetMessagesByIDs(ctx, ids)
	if err != nil {
		t.Fatalf("get messages by ids: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected archived messages gone from primary table, got %+v", remaining)
	}

	// Archiving again must be a no-op, not an error, and must not
	// duplicate rows in message_archive.
	if err := st.ArchiveMessages(ctx, ids); err != nil {
		t.Fatalf("re-archive: %v", err)
	}

	var count int
	row := st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM message_archive WHERE message_id IN ('10','11','12')`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count archive rows: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected exactly 3 archived rows, got %d", count)
	}
}

func TestUpsertUserIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.UpsertUser(ctx, "u1", "Alice", "", ""); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	u, err := st.UpsertUser(ctx, "u1", "Alice", "", "")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	count := 0
	for _, n := range u.DisplayNames {
		if n == "Alice" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected display name 'Alice' exactly once, got %v", u.DisplayNames)
	}

	u2, err := st.UpsertUser(ctx, "u1", "Ally", "", "")
	if err != nil {
		t.Fatalf("third upsert with new name: %v", err)
	}
	if len(u2.DisplayNames) != 2 {
		t.Fatalf("expected display names to accumulate, got %v", u2.DisplayNames)
	}
}

func TestStoreMessagesBatchPreservesVectorizedFlag(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.StoreMessagesBatch(ctx, []Message{{MessageID: "1", ChannelID: "c", GuildID: "g", UserID: "u", Content: "hi", TimestampSec: 1}}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := st.MarkVectorized(ctx, []string{"1"}); err != nil {
		t.Fatalf("mark vectorized: %v", err)
	}

	// Re-upserting the same message must not reset vectorized back to 0.
	if err := st.StoreMessagesBatch(ctx, []Message{{MessageID: "1", ChannelID: "c", GuildID: "g", UserID: "u", Content: "hi edited", TimestampSec: 2}}); err != nil {
		t.Fatalf("re-store: %v", err)
	}

	msgs, err := st.GetMessagesByIDs(ctx, []string{"1"})
	if err != nil || len(msgs) != 1 {
		t.Fatalf("get messages: %+v err=%v", msgs, err)
	}
	if !msgs[0].Vectorized {
		t.Fatalf("expected vectorized flag to survive re-upsert")
	}
	if msgs[0].Content != "hi edited" {
		t.Fatalf("expected content to update, got %q", msgs[0].Content)
	}
}

func TestChannelStateLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if cs, err := st.GetChannelState(ctx, "c1"); err != nil || cs != nil {
		t.Fatalf("expected no channel state yet, got %+v err=%v", cs, err)
	}

	if err := st.UpsertChannelState(ctx, "c1", 3, "m0"); err != nil {
		t.Fatalf("upsert channel state: %v", err)
	}
	cs, err := st.GetChannelState(ctx, "c1")
	if err != nil || cs == nil || cs.MessageCount != 3 || cs.StartMessageID != "m0" {
		t.Fatalf("unexpected channel state %+v err=%v", cs, err)
	}

	if err := st.ResetChannelState(ctx, "c1"); err != nil {
		t.Fatalf("reset channel state: %v", err)
	}
	cs, err = st.GetChannelState(ctx, "c1")
	if err != nil || cs == nil || cs.MessageCount != 0 || cs.StartMessageID != "m0" {
		t.Fatalf("expected count reset but start id kept, got %+v err=%v", cs, err)
	}
}

func TestConfigKVRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := st.GetConfig(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing key to be absent, ok=%v err=%v", ok, err)
	}
	if err := st.SetConfig(ctx, "k", "v1"); err != nil {
		t.Fatalf("set config: %v", err)
	}
	if err := st.SetConfig(ctx, "k", "v2"); err != nil {
		t.Fatalf("overwrite config: %v", err)
	}
	v, ok, err := st.GetConfig(ctx, "k")
	if err != nil || !ok || v != "v2" {
		t.Fatalf("expected v2, got %q ok=%v err=%v", v, ok, err)
	}
}
