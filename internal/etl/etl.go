// Package etl implements the Episodic ETL Service: the first-stage loop
// that drains pending message references left by the Message Tracker,
// fetches each message's full body from the chat service, classifies
// fetch failures for retry, and stores the captured bodies for later
// summarization and vectorization.
package etl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/starpig1129/pigpig-core/internal/chatservice"
	"github.com/starpig1129/pigpig-core/internal/store"
	"github.com/starpig1129/pigpig-core/internal/telemetry"
	"github.com/starpig1129/pigpig-core/internal/tracker"
)

// Pipeline is the downstream collaborator the ETL hands freshly stored
// messages to, one call per channel: summarize into event fragments, then
// vectorize and retain per policy. Background cycles call it after each
// fetch-and-store; ForceUpdate runs it inline so the command that triggered
// it can report completion.
type Pipeline interface {
	ProcessChannel(ctx context.Context, channelID string, messageIDs []string) error
}

// Config configures the Service's cadence and retry policy.
type Config struct {
	TickInterval   time.Duration // default 10s
	PendingLimit   int           // default 100
	FetchRetries   int           // default 3
	BackoffBase    time.Duration // default 1s, applied only to server errors
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 10 * time.Second
	}
	if c.PendingLimit <= 0 {
		c.PendingLimit = 100
	}
	if c.FetchRetries <= 0 {
		c.FetchRetries = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	return c
}

// Service runs the fixed-cadence fetch-and-store loop.
type Service struct {
	cfg      Config
	store    *store.Store
	chat     chatservice.ChatService
	tracker  *tracker.Tracker
	pipeline Pipeline
	reporter telemetry.ErrorReporter
	logger   *slog.Logger

	processing atomic.Bool
}

// New builds a Service. pipeline may be nil if the summarize/vectorize
// step is not wired (e.g. in tests exercising only the fetch stage);
// fetched messages are then only stored.
func New(cfg Config, st *store.Store, chat chatservice.ChatService, trk *tracker.Tracker, pipeline Pipeline, reporter telemetry.ErrorReporter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if reporter == nil {
		reporter = telemetry.FromContext(context.Background())
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		store:    st,
		chat:     chat,
		tracker:  trk,
		pipeline: pipeline,
		reporter: reporter,
		logger:   logger,
	}
}

// Run drives the ETL loop on cfg.TickInterval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one fetch-and-store cycle, skipping entirely if the previous
// cycle is still running: the fixed interval is a cadence, not a guarantee,
// and overlapping cycles would double-fetch the same pending batch.
func (s *Service) tick(ctx context.Context) {
	if !s.processing.CompareAndSwap(false, true) {
		s.logger.Debug("etl: previous cycle still running, skipping tick")
		return
	}
	defer s.processing.Store(false)

	pending, err := s.store.GetPending(ctx, s.cfg.PendingLimit)
	if err != nil {
		s.reporter.ReportError("etl.tick", fmt.Errorf("get pending: %w", err), nil)
		return
	}
	if len(pending) == 0 {
		return
	}
	s.logger.Info("etl: fetched pending messages", slog.Int("count", len(pending)))
	s.fetchAndStore(ctx, pending)
	if s.tracker != nil {
		s.tracker.ResetPendingCount()
	}
}

// fetchAndStore fetches each pending reference's body, classifying errors
// per chatservice's NotFound/Forbidden/ServerError/other taxonomy, then
// stores whatever was fetched and marks every attempted id processed —
// including permanently-failed ones, so a deleted or unreachable message
// never blocks the pending queue forever. Once stored, the fetched
// messages are handed to the Pipeline (when wired), one call per channel.
func (s *Service) fetchAndStore(ctx context.Context, pending []store.PendingMessageRef) {
	byChannel := make(map[string][]store.PendingMessageRef)
	for _, ref := range pending {
		byChannel[ref.ChannelID] = append(byChannel[ref.ChannelID], ref)
	}

	var fetched []store.Message
	var processedIDs []int64

	for channelID, refs := range byChannel {
		isText, err := s.chat.IsTextChannel(ctx, channelID)
		if err != nil || !isText {
			if err != nil {
				s.reporter.ReportError("etl.fetch_and_store", fmt.Errorf("check channel %s: %w", channelID, err), map[string]any{"channel_id": channelID})
			} else {
				s.logger.Warn("etl: channel is not a text channel, marking pending processed", slog.String("channel_id", channelID))
			}
			for _, ref := range refs {
				processedIDs = append(processedIDs, ref.ID)
			}
			continue
		}

		for _, ref := range refs {
			msg, ok := s.fetchWithRetry(ctx, ref)
			if ok {
				fetched = append(fetched, msg)
			}
			processedIDs = append(processedIDs, ref.ID)
		}
	}

	stored := false
	if len(fetched) > 0 {
		if err := s.store.StoreMessagesBatch(ctx, fetched); err != nil {
			s.reporter.ReportError("etl.fetch_and_store", fmt.Errorf("store messages batch: %w", err), nil)
		} else {
			stored = true
			s.logger.Info("etl: stored fetched messages", slog.Int("count", len(fetched)))
		}
	}
	if len(processedIDs) > 0 {
		if err := s.store.MarkPendingProcessed(ctx, processedIDs); err != nil {
			s.reporter.ReportError("etl.fetch_and_store", fmt.Errorf("mark pending processed: %w", err), nil)
		} else {
			s.logger.Info("etl: marked pending processed", slog.Int("count", len(processedIDs)))
		}
	}
	if stored && s.pipeline != nil {
		idsByChannel := make(map[string][]string)
		for _, m := range fetched {
			idsByChannel[m.ChannelID] = append(idsByChannel[m.ChannelID], m.MessageID)
		}
		for channelID, ids := range idsByChannel {
			if err := s.pipeline.ProcessChannel(ctx, channelID, ids); err != nil {
				s.reporter.ReportError("etl.fetch_and_store", fmt.Errorf("pipeline channel %s: %w", channelID, err), map[string]any{"channel_id": channelID})
			}
		}
	}
}

// fetchWithRetry fetches one message, retrying only *chatservice.ServerError,
// for at most cfg.FetchRetries attempts in total, with exponential backoff.
// NotFound, Forbidden,
// and any other error are terminal: the attempt stops and the message is
// reported (except NotFound, which is an expected steady-state event, not
// a failure).
func (s *Service) fetchWithRetry(ctx context.Context, ref store.PendingMessageRef) (store.Message, bool) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.FetchRetries; attempt++ {
		msg, err := s.chat.FetchMessage(ctx, ref.ChannelID, ref.MessageID)
		if err == nil {
			return store.Message{
				MessageID:     msg.ID,
				ChannelID:     msg.ChannelID,
				GuildID:       msg.GuildID,
				UserID:        msg.UserID,
				Content:       msg.Content,
				TimestampSec:  msg.TimestampUnix,
				ReactionsJSON: msg.ReactionsJSON,
			}, true
		}
		lastErr = err

		if errors.Is(err, chatservice.ErrNotFound) {
			s.logger.Warn("etl: message not found, may have been deleted", slog.String("message_id", ref.MessageID))
			return store.Message{}, false
		}
		if errors.Is(err, chatservice.ErrForbidden) {
			s.reporter.ReportError("etl.fetch_message", fmt.Errorf("forbidden fetching %s: %w", ref.MessageID, err), map[string]any{"message_id": ref.MessageID})
			return store.Message{}, false
		}

		var serverErr *chatservice.ServerError
		if errors.As(err, &serverErr) {
			if attempt == s.cfg.FetchRetries {
				s.reporter.ReportError("etl.fetch_message", fmt.Errorf("max retries fetching %s: %w", ref.MessageID, err), map[string]any{"message_id": ref.MessageID})
				break
			}
			backoff := s.cfg.BackoffBase * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return store.Message{}, false
			}
			continue
		}

		// Non-server HTTP error or unknown failure: do not retry.
		s.reporter.ReportError("etl.fetch_message", fmt.Errorf("fetch %s: %w", ref.MessageID, err), map[string]any{"message_id": ref.MessageID})
		return store.Message{}, false
	}
	_ = lastErr
	return store.Message{}, false
}

// ForceUpdate stores the caller-supplied history for channelID and, if a
// pipeline is wired, runs summarization and vectorization on it inline
// before returning, so the operator command that triggered it can report a
// definite outcome. It fetches nothing from the chat service and does not
// read the channel's pending references: only the messages passed in are
// processed.
func (s *Service) ForceUpdate(ctx context.Context, channelID string, history []chatservice.Message) error {
	if len(history) == 0 {
		return nil
	}
	msgs := make([]store.Message, len(history))
	ids := make([]string, len(history))
	for i, m := range history {
		msgs[i] = store.Message{
			MessageID:     m.ID,
			ChannelID:     m.ChannelID,
			GuildID:       m.GuildID,
			UserID:        m.UserID,
			Content:       m.Content,
			TimestampSec:  m.TimestampUnix,
			ReactionsJSON: m.ReactionsJSON,
		}
		ids[i] = m.ID
	}
	if err := s.store.StoreMessagesBatch(ctx, msgs); err != nil {
		return fmt.Errorf("etl: force update store batch: %w", err)
	}
	if s.pipeline == nil {
		return nil
	}
	if err := s.pipeline.ProcessChannel(ctx, channelID, ids); err != nil {
		return fmt.Errorf("etl: force update pipeline: %w", err)
	}
	return nil
}
