// Package summarization implements the Event Summarization stage: it turns
// a raw group of captured messages into one or more structured event
// summaries via the LLM Gateway's structured-output mode, deriving each
// summary's metadata (participants, reactions, time span) from the
// messages the model selected as that event's boundaries.
package summarization

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/starpig1129/pigpig-core/internal/llmgateway"
	"github.com/starpig1129/pigpig-core/internal/providers"
	"github.com/starpig1129/pigpig-core/internal/store"
	"github.com/starpig1129/pigpig-core/internal/telemetry"
)

const systemPrompt = `You are an AI expert specializing in analyzing conversation histories ` +
	`to extract key facts, events, and statements as structured memory fragments. Your purpose ` +
	`is to create a concise, machine-readable, and human-readable record of significant moments ` +
	`from a dialogue.`

// fragmentSchema is set as the request's ResponseSchema, mirroring
// MemoryFragmentList in the original service. The Gateway neither sends it
// to the provider nor validates the reply against it; the reply is only
// decoded into fragmentList.
var fragmentSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"fragments": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query_key":        map[string]interface{}{"type": "string"},
					"query_keywords":   map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
					"query_value":      map[string]interface{}{"type": "string"},
					"start_message_id": map[string]interface{}{"type": "string"},
					"end_message_id":   map[string]interface{}{"type": "string"},
				},
				"required": []string{"query_key", "query_keywords", "query_value", "start_message_id", "end_message_id"},
			},
		},
	},
	"required": []string{"fragments"},
}

type fragmentList struct {
	Fragments []fragment `json:"fragments"`
}

type fragment struct {
	QueryKey       string   `json:"query_key"`
	QueryKeywords  []string `json:"query_keywords"`
	QueryValue     string   `json:"query_value"`
	StartMessageID string   `json:"start_message_id"`
	EndMessageID   string   `json:"end_message_id"`
}

// EventMetadata is everything Vectorization needs beyond the summary text.
type EventMetadata struct {
	StartMessageID string
	EndMessageID   string
	ChannelID      string
	GuildID        string
	UserIDs        []string
	StartTimestamp int64
	EndTimestamp   int64
	ReactionsJSON  string
	EventType      string
}

// EventSummary is one extracted event, ready for vectorization.
type EventSummary struct {
	QueryKey      string
	QueryKeywords []string
	QueryValue    string
	Metadata      EventMetadata
}

// Service summarizes message groups into events using the LLM Gateway.
type Service struct {
	gateway  *llmgateway.Gateway
	reporter telemetry.ErrorReporter
}

// New builds a Service over gateway.
func New(gateway *llmgateway.Gateway, reporter telemetry.ErrorReporter) *Service {
	if reporter == nil {
		reporter = telemetry.FromContext(context.Background())
	}
	return &Service{gateway: gateway, reporter: reporter}
}

// SummarizeEvents groups messages (currently: a single group, matching the
// foundation the original lays for future grouping algorithms) and asks
// the Gateway for a structured list of event fragments, one per
// significant event it identifies in the group.
func (s *Service) SummarizeEvents(ctx context.Context, messages []store.Message) ([]EventSummary, error) {
	if len(messages) == 0 {
		return nil, nil
	}
	for _, group := range groupMessages(messages) {
		return s.processGroup(ctx, group)
	}
	return nil, nil
}

// groupMessages splits messages into events. The only implementation today
// treats the whole batch as a single event; it is the seam a smarter
// time/topic-boundary grouping algorithm would replace.
func groupMessages(messages []store.Message) [][]store.Message {
	return [][]store.Message{messages}
}

func (s *Service) processGroup(ctx context.Context, group []store.Message) ([]EventSummary, error) {
	var list fragmentList
	req := llmgateway.Request{
		SystemPrompt:   systemPrompt,
		Messages:       []providers.Message{{Role: "user", Content: userPrompt(group)}},
		ResponseSchema: fragmentSchema,
	}
	if err := s.gateway.GenerateStructured(ctx, req, &list); err != nil {
		s.reporter.ReportError("summarization.process_group", fmt.Errorf("generate structured: %w", err), nil)
		return nil, nil
	}

	summaries := make([]EventSummary, 0, len(list.Fragments))
	for _, f := range list.Fragments {
		summaries = append(summaries, s.createEventSummary(group, f))
	}
	return summaries, nil
}

func userPrompt(group []store.Message) string {
	type messageView struct {
		Author    string `json:"author"`
		Timestamp int64  `json:"timestamp"`
		Content   string `json:"content"`
	}
	views := make([]messageView, len(group))
	for i, m := range group {
		views[i] = messageView{Author: m.UserID, Timestamp: m.TimestampSec, Content: m.Content}
	}
	payload, _ := json.MarshalIndent(views, "", "  ")
	return fmt.Sprintf(
		"Process the following conversation history:\n\n%s\n\n"+
			"Extract significant events into a structured JSON list of memory fragments. "+
			"Return ONLY the JSON list without additional text.",
		string(payload),
	)
}

func (s *Service) createEventSummary(group []store.Message, f fragment) EventSummary {
	meta := s.buildMetadata(group, f)
	return EventSummary{
		QueryKey:      f.QueryKey,
		QueryKeywords: f.QueryKeywords,
		QueryValue:    f.QueryValue,
		Metadata:      meta,
	}
}

// buildMetadata resolves the fragment's declared start/end message ids
// against the group, falling back to earliest/latest by timestamp when the
// model names ids outside the group (matching the original's fallback).
func (s *Service) buildMetadata(group []store.Message, f fragment) EventMetadata {
	byID := make(map[string]store.Message, len(group))
	for _, m := range group {
		byID[m.MessageID] = m
	}

	startMsg, startOK := byID[f.StartMessageID]
	endMsg, endOK := byID[f.EndMessageID]
	startID, endID := f.StartMessageID, f.EndMessageID

	inRange := group
	if !startOK || !endOK {
		sorted := make([]store.Message, len(group))
		copy(sorted, group)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].TimestampSec < sorted[j].TimestampSec })
		if !startOK {
			startMsg = sorted[0]
			startID = startMsg.MessageID
		}
		if !endOK {
			endMsg = sorted[len(sorted)-1]
			endID = endMsg.MessageID
		}
		inRange = sorted
	} else {
		inRange = messagesInIDRange(group, f.StartMessageID, f.EndMessageID)
		if len(inRange) == 0 {
			inRange = group
		}
	}

	userSet := make(map[string]struct{})
	var userIDs []string
	for _, m := range inRange {
		if _, ok := userSet[m.UserID]; !ok {
			userSet[m.UserID] = struct{}{}
			userIDs = append(userIDs, m.UserID)
		}
	}

	reactions := collectReactions(inRange)
	reactionsJSON, _ := json.Marshal(reactions)

	return EventMetadata{
		StartMessageID: startID,
		EndMessageID:   endID,
		ChannelID:      startMsg.ChannelID,
		GuildID:        startMsg.GuildID,
		UserIDs:        userIDs,
		StartTimestamp: startMsg.TimestampSec,
		EndTimestamp:   endMsg.TimestampSec,
		ReactionsJSON:  string(reactionsJSON),
		EventType:      "conversation",
	}
}

// messagesInIDRange is a stand-in for the original's integer snowflake
// range test: message ids in this core are opaque strings, so range
// membership is approximated by timestamp order between the two boundary
// messages' positions.
func messagesInIDRange(group []store.Message, startID, endID string) []store.Message {
	sorted := make([]store.Message, len(group))
	copy(sorted, group)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TimestampSec < sorted[j].TimestampSec })

	startIdx, endIdx := -1, -1
	for i, m := range sorted {
		if m.MessageID == startID {
			startIdx = i
		}
		if m.MessageID == endID {
			endIdx = i
		}
	}
	if startIdx == -1 || endIdx == -1 || startIdx > endIdx {
		return nil
	}
	return sorted[startIdx : endIdx+1]
}

type reactionEntry struct {
	Raw       string `json:"reactions_json"`
	MessageID string `json:"message_id"`
}

func collectReactions(messages []store.Message) []reactionEntry {
	var out []reactionEntry
	for _, m := range messages {
		if m.ReactionsJSON == "" || m.ReactionsJSON == "[]" {
			continue
		}
		out = append(out, reactionEntry{Raw: m.ReactionsJSON, MessageID: m.MessageID})
	}
	return out
}
