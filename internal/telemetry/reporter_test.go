package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestMailboxDrainsReportsAsynchronously(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	m := NewMailbox(8, logger)
	defer m.Stop()

	m.ReportError("etl", errors.New("fetch failed"), map[string]any{"channel_id": "123"})

	deadline := time.Now().Add(time.Second)
	for buf.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if buf.Len() == 0 {
		t.Fatal("expected the mailbox worker to log the report")
	}
}

func TestMailboxDropsWhenFull(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
	m := NewMailbox(1, logger)
	defer m.Stop()

	for i := 0; i < 100; i++ {
		m.ReportError("test", errors.New("x"), nil)
	}
	if m.DroppedCount() == 0 {
		t.Fatal("expected some reports dropped under flood")
	}
}

func TestFromContextReturnsNoopWhenUnset(t *testing.T) {
	r := FromContext(context.Background())
	r.ReportError("x", errors.New("should not panic"), nil)
}
