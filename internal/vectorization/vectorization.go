// Package vectorization implements the Vectorization Service: the final
// ETL stage. It converts event summaries into durable memory fragments,
// uploads them to the vector store, marks their source messages
// vectorized, and then retains (archives or deletes) those messages per
// configured policy.
package vectorization

import (
	"context"
	"fmt"

	"github.com/starpig1129/pigpig-core/internal/store"
	"github.com/starpig1129/pigpig-core/internal/summarization"
	"github.com/starpig1129/pigpig-core/internal/telemetry"
	"github.com/starpig1129/pigpig-core/internal/vectorstore"
)

// RetentionArchive moves a vectorized message's body into the archive
// table (the default). RetentionDelete removes it outright.
const (
	RetentionArchive = "archive"
	RetentionDelete  = "delete"
)

// Service converts event summaries into memory fragments and applies
// retention to their source messages.
type Service struct {
	vstore    vectorstore.Store
	store     *store.Store
	retention string
	reporter  telemetry.ErrorReporter
}

// New builds a Service. retention selects what happens to a message's row
// in the relational store once it has been vectorized; "" defaults to
// RetentionArchive.
func New(vstore vectorstore.Store, st *store.Store, retention string, reporter telemetry.ErrorReporter) *Service {
	if retention == "" {
		retention = RetentionArchive
	}
	if reporter == nil {
		reporter = telemetry.FromContext(context.Background())
	}
	return &Service{vstore: vstore, store: st, retention: retention, reporter: reporter}
}

// ProcessEventSummaries converts summaries into fragments, stores them,
// marks their source messages vectorized, and applies retention. A
// conversion failure for one summary is reported and skipped; it never
// aborts the rest of the batch.
func (s *Service) ProcessEventSummaries(ctx context.Context, summaries []summarization.EventSummary) error {
	if len(summaries) == 0 {
		return nil
	}

	fragments := make([]vectorstore.MemoryFragment, 0, len(summaries))
	var sourceIDs []string
	for _, evt := range summaries {
		frag, err := convertToFragment(evt)
		if err != nil {
			s.reporter.ReportError("vectorization.convert", fmt.Errorf("convert event summary: %w", err), nil)
			continue
		}
		fragments = append(fragments, frag)
		sourceIDs = append(sourceIDs, frag.Metadata.SourceMessageIDs...)
	}
	if len(fragments) == 0 {
		return nil
	}

	if err := s.vstore.AddMemories(ctx, fragments); err != nil {
		return fmt.Errorf("vectorization: add memories: %w", err)
	}

	uniqueIDs := dedupe(sourceIDs)
	if err := s.store.MarkVectorized(ctx, uniqueIDs); err != nil {
		return fmt.Errorf("vectorization: mark vectorized: %w", err)
	}

	switch s.retention {
	case RetentionDelete:
		if err := s.store.DeleteMessages(ctx, uniqueIDs); err != nil {
			return fmt.Errorf("vectorization: delete messages: %w", err)
		}
	default:
		if err := s.store.ArchiveMessages(ctx, uniqueIDs); err != nil {
			return fmt.Errorf("vectorization: archive messages: %w", err)
		}
	}
	return nil
}

// ProcessUnvectorized drains up to limit unvectorized messages straight
// from the store and summarizes and vectorizes them as one batch. Nothing
// in the core calls it; the ETL hands its batches to Pipeline instead.
func (s *Service) ProcessUnvectorized(ctx context.Context, summarizer *summarization.Service, limit int) error {
	msgs, err := s.store.GetUnvectorized(ctx, limit)
	if err != nil {
		return fmt.Errorf("vectorization: get unvectorized: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}
	summaries, err := summarizer.SummarizeEvents(ctx, msgs)
	if err != nil {
		return fmt.Errorf("vectorization: summarize events: %w", err)
	}
	return s.ProcessEventSummaries(ctx, summaries)
}

// Pipeline adapts a Service and a summarization.Service into the
// etl.Pipeline seam: fetch the named messages, summarize, vectorize, and
// retain, all synchronously, for the ETL's background cycles and its
// force-update path.
type Pipeline struct {
	store      *store.Store
	summarizer *summarization.Service
	vectorizer *Service
}

// NewPipeline builds a Pipeline over the given collaborators.
func NewPipeline(st *store.Store, summarizer *summarization.Service, vectorizer *Service) *Pipeline {
	return &Pipeline{store: st, summarizer: summarizer, vectorizer: vectorizer}
}

// ProcessChannel fetches messageIDs' stored bodies, summarizes them into
// events, and vectorizes the result. channelID is accepted for interface
// symmetry with a future per-channel grouping strategy; message lookup is
// by id.
func (p *Pipeline) ProcessChannel(ctx context.Context, channelID string, messageIDs []string) error {
	msgs, err := p.store.GetMessagesByIDs(ctx, messageIDs)
	if err != nil {
		return fmt.Errorf("vectorization: pipeline fetch messages: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}
	summaries, err := p.summarizer.SummarizeEvents(ctx, msgs)
	if err != nil {
		return fmt.Errorf("vectorization: pipeline summarize: %w", err)
	}
	return p.vectorizer.ProcessEventSummaries(ctx, summaries)
}

func convertToFragment(evt summarization.EventSummary) (vectorstore.MemoryFragment, error) {
	m := evt.Metadata
	if m.StartMessageID == "" {
		return vectorstore.MemoryFragment{}, fmt.Errorf("event summary missing start_message_id")
	}
	fragmentID := "event-" + m.StartMessageID
	jumpURL := fmt.Sprintf("https://discord.com/channels/%s/%s/%s", m.GuildID, m.ChannelID, m.StartMessageID)
	return vectorstore.MemoryFragment{
		ID:       m.StartMessageID,
		Content:  evt.QueryValue,
		QueryKey: evt.QueryKey,
		Metadata: vectorstore.FragmentMetadata{
			FragmentID:       fragmentID,
			SourceMessageIDs: []string{m.StartMessageID, m.EndMessageID},
			JumpURL:          jumpURL,
			AuthorIDs:        m.UserIDs,
			ChannelID:        m.ChannelID,
			GuildID:          m.GuildID,
			StartTS:          m.StartTimestamp,
			EndTS:            m.EndTimestamp,
			ReactionsJSON:    m.ReactionsJSON,
			EventType:        m.EventType,
		},
	}, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
