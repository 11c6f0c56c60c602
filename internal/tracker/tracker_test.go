package tracker

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/starpig1129/pigpig-core/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "core.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st })
	return st
}

func TestTrackAddsPendingAndAdvancesChannelCount(t *testing.T) {
	st := newTestStore(t)
	tr := New(st, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tr.Track(ctx, IncomingMessage{
			MessageID:    fmt.Sprintf("m%d", i),
			ChannelID:    "c1",
			GuildID:      "g1",
			UserID:       "u1",
			TimestampSec: int64(1000 + i),
		})
	}

	if tr.PendingCount() != 3 {
		t.Fatalf("expected pending count 3, got %d", tr.PendingCount())
	}

	pending, err := st.GetPending(ctx, 10)
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 durable pending rows, got %d", len(pending))
	}

	state, err := st.GetChannelState(ctx, "c1")
	if err != nil {
		t.Fatalf("get channel state: %v", err)
	}
	if state == nil || state.MessageCount != 3 {
		t.Fatalf("expected channel count 3, got %+v", state)
	}
	if state.StartMessageID != "m0" {
		t.Fatalf("expected start message id m0, got %q", state.StartMessageID)
	}
}

func TestResetPendingCountZeroesInProcessCounterOnly(t *testing.T) {
	st := newTestStore(t)
	tr := New(st, nil)
	ctx := context.Background()

	tr.Track(ctx, IncomingMessage{MessageID: "m0", ChannelID: "c1", TimestampSec: 1})
	tr.ResetPendingCount()
	if tr.PendingCount() != 0 {
		t.Fatalf("expected pending count reset to 0, got %d", tr.PendingCount())
	}

	pending, err := st.GetPending(ctx, 10)
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected durable pending row to survive reset, got %d", len(pending))
	}
}
