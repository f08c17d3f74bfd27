package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"standin/internal/domain"
)

const (
	discordMaxMsgLen     = 2000
	discordHistoryWindow = 50
)

// Discord answers as a bot user in DMs and guild channels.
type Discord struct {
	token   string
	guildID string
	owners  map[string]bool
	session *discordgo.Session
	bus     domain.MessageBus
	logger  *slog.Logger
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Token    string
	GuildID  string // optional; restricts guild traffic to one server
	OwnerIDs []string
	Logger   *slog.Logger
}

func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		owners:  idSet(cfg.OwnerIDs),
		logger:  cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

// Start connects to Discord using a bot token and blocks until ctx is done.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	d.bus = bus

	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	d.session = session

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if msg, ok := d.convert(s, m); ok {
			bus.Publish(msg)
		}
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

func (d *Discord) Stop() error { return nil }

func (d *Discord) convert(s *discordgo.Session, m *discordgo.MessageCreate) (domain.InboundMessage, bool) {
	if m.Author == nil || (s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return domain.InboundMessage{}, false
	}
	if d.guildID != "" && m.GuildID != "" && m.GuildID != d.guildID {
		return domain.InboundMessage{}, false
	}

	text := strings.TrimSpace(m.Content)
	if text == "" && len(m.Attachments) > 0 {
		text = attachmentText
	}
	if text == "" {
		return domain.InboundMessage{}, false
	}

	var convName string
	if m.GuildID != "" {
		if ch, err := s.State.Channel(m.ChannelID); err == nil {
			convName = ch.Name
		}
	}

	return domain.InboundMessage{
		ID:               m.ID,
		Transport:        d.Name(),
		ConversationID:   m.ChannelID,
		ConversationName: convName,
		SenderID:         m.Author.ID,
		SenderName:       discordName(m),
		Text:             text,
		IsGroup:          m.GuildID != "",
		ReceivedAt:       m.Timestamp,
		IsFromOwner:      d.owners[m.Author.ID],
	}, true
}

func discordName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

func (d *Discord) Send(ctx context.Context, channelID, content string) error {
	if d.session == nil {
		return errors.New("discord: not connected")
	}
	for _, chunk := range splitMessage(content, discordMaxMsgLen) {
		if _, err := d.session.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

// MessagesSince reads the channel's recent history from the API.
func (d *Discord) MessagesSince(ctx context.Context, channelID string, since time.Time) ([]domain.ObservedMessage, error) {
	if d.session == nil {
		return nil, errors.New("discord: not connected")
	}
	msgs, err := d.session.ChannelMessages(channelID, discordHistoryWindow, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord history: %w", err)
	}
	var out []domain.ObservedMessage
	for _, m := range msgs {
		if m.Author == nil || m.Timestamp.Before(since) {
			continue
		}
		out = append(out, domain.ObservedMessage{
			AuthorIsOwner: d.owners[m.Author.ID],
			Timestamp:     m.Timestamp,
		})
	}
	return out, nil
}
