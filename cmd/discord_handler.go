package cmd

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/starpig1129/pigpig-core/internal/chatservice"
	"github.com/starpig1129/pigpig-core/internal/dispatcher"
	"github.com/starpig1129/pigpig-core/internal/perfmon"
	"github.com/starpig1129/pigpig-core/internal/providers"
	"github.com/starpig1129/pigpig-core/internal/telemetry"
	"github.com/starpig1129/pigpig-core/internal/tracker"
)

// registerMessageHandler wires the chat-service's inbound message stream
// into the Message Tracker (every non-bot message is recorded as a pending
// reference) and, for messages addressed directly to the assistant (a DM
// or an @-mention), into the Action Dispatcher for a live reply.
func registerMessageHandler(chat *chatservice.DiscordChatService, trk *tracker.Tracker, disp *dispatcher.Dispatcher, monitor *perfmon.Monitor, systemPrompt string, reporter telemetry.ErrorReporter) {
	session := chat.Session()

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}

		ctx := context.Background()
		trk.Track(ctx, tracker.IncomingMessage{
			MessageID:    m.ID,
			ChannelID:    m.ChannelID,
			GuildID:      m.GuildID,
			UserID:       m.Author.ID,
			TimestampSec: m.Timestamp.Unix(),
		})
		monitor.Increment("messages_tracked", 1)

		if !addressedToBot(s, m) {
			return
		}

		go respond(ctx, chat, disp, monitor, systemPrompt, reporter, m)
	})
}

// addressedToBot reports whether m is a DM or @-mentions the bot's own
// user, matching the original's "only act when spoken to" gate.
func addressedToBot(s *discordgo.Session, m *discordgo.MessageCreate) bool {
	if m.GuildID == "" {
		return true
	}
	if s.State == nil || s.State.User == nil {
		return false
	}
	for _, mention := range m.Mentions {
		if mention.ID == s.State.User.ID {
			return true
		}
	}
	return false
}

func respond(ctx context.Context, chat *chatservice.DiscordChatService, disp *dispatcher.Dispatcher, monitor *perfmon.Monitor, systemPrompt string, reporter telemetry.ErrorReporter, m *discordgo.MessageCreate) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	monitor.Start("dispatch")
	prompt := stripMention(m.Content)
	reply, err := disp.Dispatch(ctx, systemPrompt, prompt, []providers.Message{})
	monitor.Stop("dispatch")
	if err != nil {
		monitor.Increment("dispatch_errors", 1)
		reporter.ReportError("cmd.respond", err, map[string]any{"channel_id": m.ChannelID})
		reply = "Sorry, I ran into a problem answering that. The issue has been logged."
	}
	if sendErr := chat.SendResponse(ctx, m.ChannelID, reply); sendErr != nil {
		reporter.ReportError("cmd.respond", sendErr, map[string]any{"channel_id": m.ChannelID})
		slog.Error("send response failed", "error", sendErr, "channel_id", m.ChannelID)
	}
}

func stripMention(content string) string {
	fields := strings.Fields(content)
	out := fields[:0]
	for _, f := range fields {
		if strings.HasPrefix(f, "<@") && strings.HasSuffix(f, ">") {
			continue
		}
		out = append(out, f)
	}
	return strings.TrimSpace(strings.Join(out, " "))
}

const defaultSystemPromptPreamble = "You are a helpful Discord assistant. Use tools when they genuinely help answer the user's question; otherwise choose directly_answer."
