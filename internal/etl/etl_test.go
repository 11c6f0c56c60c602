package etl

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/starpig1129/pigpig-core/internal/chatservice"
	"github.com/starpig1129/pigpig-core/internal/store"
	"github.com/starpig1129/pigpig-core/internal/tracker"
)

type fakeChat struct {
	textChannels map[string]bool
	messages     map[string]*chatservice.Message
	errs         map[string][]error // per message id, consumed in order
}

func (f *fakeChat) FetchMessage(ctx context.Context, channelID, messageID string) (*chatservice.Message, error) {
	if errs, ok := f.errs[messageID]; ok && len(errs) > 0 {
		err := errs[0]
		f.errs[messageID] = errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if m, ok := f.messages[messageID]; ok {
		return m, nil
	}
	return nil, chatservice.ErrNotFound
}

func (f *fakeChat) IsTextChannel(ctx context.Context, channelID string) (bool, error) {
	return f.textChannels[channelID], nil
}

func (f *fakeChat) SendResponse(ctx context.Context, channelID, content string) error { return nil }
func (f *fakeChat) JumpURL(guildID, channelID, messageID string) string              { return "" }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "core.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return st
}

func TestTickFetchesAndStoresMessages(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	trk := tracker.New(st, nil)
	trk.Track(ctx, tracker.IncomingMessage{MessageID: "m1", ChannelID: "c1", GuildID: "g1", UserID: "u1", TimestampSec: 10})

	chat := &fakeChat{
		textChannels: map[string]bool{"c1": true},
		messages: map[string]*chatservice.Message{
			"m1": {ID: "m1", ChannelID: "c1", GuildID: "g1", UserID: "u1", Content: "hello", TimestampUnix: 10},
		},
		errs: map[string][]error{},
	}

	svc := New(Config{}, st, chat, trk, nil, nil, nil)
	svc.tick(ctx)

	msgs, err := st.GetUnvectorized(ctx, 10)
	if err != nil {
		t.Fatalf("get unvectorized: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Fatalf("expected stored message hello, got %+v", msgs)
	}

	pending, err := st.GetPending(ctx, 10)
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no remaining pending, got %d", len(pending))
	}
}

func TestTickMarksNonTextChannelProcessedWithoutFetch(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	trk := tracker.New(st, nil)
	trk.Track(ctx, tracker.IncomingMessage{MessageID: "m1", ChannelID: "voice1", TimestampSec: 10})

	chat := &fakeChat{textChannels: map[string]bool{}, messages: map[string]*chatservice.Message{}, errs: map[string][]error{}}
	svc := New(Config{}, st, chat, trk, nil, nil, nil)
	svc.tick(ctx)

	pending, err := st.GetPending(ctx, 10)
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected pending drained for non-text channel, got %d", len(pending))
	}
	msgs, err := st.GetUnvectorized(ctx, 10)
	if err != nil {
		t.Fatalf("get unvectorized: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages stored, got %d", len(msgs))
	}
}

func TestFetchWithRetryRetriesServerErrorsThenSucceeds(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	chat := &fakeChat{
		textChannels: map[string]bool{"c1": true},
		messages: map[string]*chatservice.Message{
			"m1": {ID: "m1", ChannelID: "c1", Content: "recovered"},
		},
		errs: map[string][]error{
			"m1": {&chatservice.ServerError{Status: 503, Err: errors.New("unavailable")}, nil},
		},
	}
	svc := New(Config{BackoffBase: time.Millisecond}, st, chat, nil, nil, nil, nil)
	msg, ok := svc.fetchWithRetry(ctx, store.PendingMessageRef{ChannelID: "c1", MessageID: "m1"})
	if !ok {
		t.Fatal("expected eventual success")
	}
	if msg.Content != "recovered" {
		t.Fatalf("expected recovered content, got %q", msg.Content)
	}
}

func TestFetchWithRetryStopsOnForbidden(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	chat := &fakeChat{
		textChannels: map[string]bool{"c1": true},
		messages:     map[string]*chatservice.Message{},
		errs:         map[string][]error{"m1": {chatservice.ErrForbidden}},
	}
	svc := New(Config{BackoffBase: time.Millisecond}, st, chat, nil, nil, nil, nil)
	_, ok := svc.fetchWithRetry(ctx, store.PendingMessageRef{ChannelID: "c1", MessageID: "m1"})
	if ok {
		t.Fatal("expected forbidden to be terminal")
	}
}
