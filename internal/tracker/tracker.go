// Package tracker implements the Message Tracker: the first stage of the
// episodic memory pipeline. It records every inbound channel message as a
// pending reference for later fetch-and-store, and maintains the
// per-channel message count the Episodic ETL Service windows against.
package tracker

import (
	"context"
	"fmt"

	"github.com/starpig1129/pigpig-core/internal/store"
	"github.com/starpig1129/pigpig-core/internal/telemetry"
)

// Tracker tracks new messages for the memory system. It mirrors the
// original's in-process pending counter: a fast, approximate count kept
// alongside the durable pending_messages table, reset whenever the
// Episodic ETL Service completes a cycle.
type Tracker struct {
	store    *store.Store
	reporter telemetry.ErrorReporter

	pendingCount int
}

// New builds a Tracker over st, reporting unexpected failures to reporter.
func New(st *store.Store, reporter telemetry.ErrorReporter) *Tracker {
	if reporter == nil {
		reporter = telemetry.FromContext(context.Background())
	}
	return &Tracker{store: st, reporter: reporter}
}

// IncomingMessage is the minimal shape the chat-service adapter hands the
// Tracker for every non-bot message it observes.
type IncomingMessage struct {
	MessageID    string
	ChannelID    string
	GuildID      string
	UserID       string
	TimestampSec int64
}

// Track records msg as pending and advances the channel's message count.
// Failures are reported, not returned, matching the original's
// fire-and-forget tracking hook: a dropped track must never block message
// delivery.
func (t *Tracker) Track(ctx context.Context, msg IncomingMessage) {
	ref := store.PendingMessageRef{
		MessageID:    msg.MessageID,
		ChannelID:    msg.ChannelID,
		GuildID:      msg.GuildID,
		UserID:       msg.UserID,
		TimestampSec: msg.TimestampSec,
	}
	if _, err := t.store.AddPending(ctx, ref); err != nil {
		t.reporter.ReportError("tracker.track", fmt.Errorf("add pending message %s: %w", msg.MessageID, err), map[string]any{
			"channel_id": msg.ChannelID,
			"message_id": msg.MessageID,
		})
		return
	}
	t.pendingCount++

	state, err := t.store.GetChannelState(ctx, msg.ChannelID)
	if err != nil {
		t.reporter.ReportError("tracker.track", fmt.Errorf("get channel state %s: %w", msg.ChannelID, err), map[string]any{
			"channel_id": msg.ChannelID,
		})
		return
	}
	count := 1
	startMessageID := msg.MessageID
	if state != nil {
		count = state.MessageCount + 1
		startMessageID = state.StartMessageID
	}
	if err := t.store.UpsertChannelState(ctx, msg.ChannelID, count, startMessageID); err != nil {
		t.reporter.ReportError("tracker.track", fmt.Errorf("update channel state %s: %w", msg.ChannelID, err), map[string]any{
			"channel_id": msg.ChannelID,
		})
	}
}

// PendingCount returns the in-process pending message count. It is
// observability-only: the durable source of truth is the pending_messages
// table, drained by the Episodic ETL Service regardless of this counter.
func (t *Tracker) PendingCount() int { return t.pendingCount }

// ResetPendingCount zeroes the in-process counter, called by the Episodic
// ETL Service after a drain cycle completes.
func (t *Tracker) ResetPendingCount() { t.pendingCount = 0 }
