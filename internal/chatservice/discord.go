package chatservice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// DiscordChatService implements ChatService over the Discord Bot API.
type DiscordChatService struct {
	session  *discordgo.Session
	chatHost string
}

// NewDiscordChatService opens a bot session for token. chatHost is used to
// build jump URLs (default "discord.com").
func NewDiscordChatService(token, chatHost string) (*DiscordChatService, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	if chatHost == "" {
		chatHost = "discord.com"
	}
	return &DiscordChatService{session: session, chatHost: chatHost}, nil
}

// Open starts the gateway connection. Call before FetchMessage/SendResponse.
func (d *DiscordChatService) Open() error {
	return d.session.Open()
}

// Close ends the gateway connection.
func (d *DiscordChatService) Close() error {
	return d.session.Close()
}

// Session exposes the underlying discordgo.Session for the Message Tracker's
// inbound-message handler registration.
func (d *DiscordChatService) Session() *discordgo.Session { return d.session }

func (d *DiscordChatService) FetchMessage(ctx context.Context, channelID, messageID string) (*Message, error) {
	m, err := d.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classifyRESTError(err)
	}

	reactions, _ := json.Marshal(m.Reactions)
	guildID := m.GuildID
	if guildID == "" {
		if ch, chErr := d.session.State.Channel(channelID); chErr == nil {
			guildID = ch.GuildID
		}
	}

	return &Message{
		ID:            m.ID,
		ChannelID:     m.ChannelID,
		GuildID:       guildID,
		UserID:        m.Author.ID,
		Content:       m.Content,
		TimestampUnix: m.Timestamp.Unix(),
		ReactionsJSON: string(reactions),
	}, nil
}

func (d *DiscordChatService) IsTextChannel(ctx context.Context, channelID string) (bool, error) {
	ch, err := d.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return false, classifyRESTError(err)
	}
	switch ch.Type {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeDM, discordgo.ChannelTypeGroupDM, discordgo.ChannelTypeGuildPrivateThread, discordgo.ChannelTypeGuildPublicThread:
		return true, nil
	default:
		return false, nil
	}
}

func (d *DiscordChatService) SendResponse(ctx context.Context, channelID string, content string) error {
	_, err := d.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return classifyRESTError(err)
	}
	return nil
}

func (d *DiscordChatService) JumpURL(guildID, channelID, messageID string) string {
	g := guildID
	if g == "" {
		g = "@me"
	}
	return fmt.Sprintf("https://%s/channels/%s/%s/%s", d.chatHost, g, channelID, messageID)
}

// classifyRESTError maps discordgo's REST error into the core's chatservice
// error taxonomy: 404→ErrNotFound, 403→ErrForbidden, 5xx→*ServerError,
// anything else is returned unwrapped for "other HTTP" classification.
func classifyRESTError(err error) error {
	restErr, ok := err.(*discordgo.RESTError)
	if !ok || restErr.Response == nil {
		return err
	}
	switch {
	case restErr.Response.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case restErr.Response.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case restErr.Response.StatusCode >= 500:
		return &ServerError{Status: restErr.Response.StatusCode, Err: err}
	default:
		return err
	}
}
