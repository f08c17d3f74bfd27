package channel

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"standin/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureBus struct {
	msgs []domain.InboundMessage
	ch   chan domain.InboundMessage
}

func (b *captureBus) Publish(m domain.InboundMessage)         { b.msgs = append(b.msgs, m) }
func (b *captureBus) Subscribe() <-chan domain.InboundMessage { return b.ch }
func (b *captureBus) Close()                                  {}

func fixedNow() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }

func TestCLI_ParsePlainLineIsDirect(t *testing.T) {
	c := NewCLI(CLIConfig{Logger: quietLogger(), Now: fixedNow})
	m := c.Parse("are you free tonight?")

	assert.Equal(t, "cli", m.Transport)
	assert.Equal(t, "direct", m.ConversationID)
	assert.False(t, m.IsGroup)
	assert.False(t, m.IsFromOwner)
	assert.Equal(t, "are you free tonight?", m.Text)
}

func TestCLI_ParseGroupAndOwner(t *testing.T) {
	c := NewCLI(CLIConfig{Logger: quietLogger(), Now: fixedNow})

	g := c.Parse("/group Family Dad: dinner at 7?")
	assert.Equal(t, "group:Family", g.ConversationID)
	assert.Equal(t, "Family", g.ConversationName)
	assert.Equal(t, "Dad", g.SenderName)
	assert.True(t, g.IsGroup)
	assert.Equal(t, "dinner at 7?", g.Text)

	o := c.Parse("/owner on my way")
	assert.True(t, o.IsFromOwner)
	assert.Equal(t, "group:Family", o.ConversationID, "owner speaks where the last message went")
	assert.True(t, o.IsGroup)
	assert.Equal(t, "on my way", o.Text)
	assert.NotEqual(t, g.ID, o.ID)
}

func TestCLI_ParseGroupDefaultSender(t *testing.T) {
	c := NewCLI(CLIConfig{Logger: quietLogger(), Now: fixedNow})
	m := c.Parse("/group Book Club: anyone finish it?")
	assert.Equal(t, "group:Book", m.ConversationID)
	assert.Equal(t, "Club", m.SenderName)

	m = c.Parse("/group Runners: 6am tomorrow")
	assert.Equal(t, "member", m.SenderName)
}

func TestCLI_ParseFrom(t *testing.T) {
	c := NewCLI(CLIConfig{Logger: quietLogger(), Now: fixedNow})
	m := c.Parse("/from Mom: call me asap")
	assert.Equal(t, "dm:mom", m.ConversationID)
	assert.Equal(t, "Mom", m.Sender())
	assert.Equal(t, "call me asap", m.Text)
}

func TestCLI_MessagesSinceSeesOwner(t *testing.T) {
	c := NewCLI(CLIConfig{Logger: quietLogger(), Now: fixedNow})
	c.Parse("/from Sam: hey")
	c.Parse("/owner hey sam")

	got, err := c.MessagesSince(context.Background(), "dm:sam", fixedNow())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.False(t, got[0].AuthorIsOwner)
	assert.True(t, got[1].AuthorIsOwner)
}

func TestCLI_StartPublishesUntilQuit(t *testing.T) {
	out := &bytes.Buffer{}
	c := NewCLI(CLIConfig{
		Persona: "Kyle",
		Logger:  quietLogger(),
		In:      strings.NewReader("hello\n\n/quit\nignored\n"),
		Out:     out,
		Now:     fixedNow,
	})
	b := &captureBus{}
	require.NoError(t, c.Start(context.Background(), b))
	require.Len(t, b.msgs, 1)
	assert.Equal(t, "hello", b.msgs[0].Text)

	require.NoError(t, c.Send(context.Background(), "direct", "hey!"))
	assert.Contains(t, out.String(), "[Kyle → direct] hey!")
}

func TestHistoryLog_BoundedAndFiltered(t *testing.T) {
	h := newHistoryLog(3)
	base := fixedNow()
	for i := 0; i < 5; i++ {
		h.record("c", domain.ObservedMessage{Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}
	all := h.since("c", time.Time{})
	require.Len(t, all, 3)
	assert.Equal(t, base.Add(2*time.Minute), all[0].Timestamp)

	assert.Len(t, h.since("c", base.Add(4*time.Minute)), 1)
	assert.Empty(t, h.since("other", time.Time{}))
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))

	msg := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	chunks := splitMessage(msg, 10)
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("a", 8)+"\n", chunks[0])
	assert.Equal(t, strings.Repeat("b", 8), chunks[1])

	chunks = splitMessage(strings.Repeat("x", 25), 10)
	assert.Len(t, chunks, 3)
}

func TestTelegram_Convert(t *testing.T) {
	tg := NewTelegram(TelegramConfig{OwnerIDs: []string{"42"}, Logger: quietLogger()})

	msg, ok := tg.convert(&tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: 99, FirstName: "Dana", LastName: "K"},
		Chat:      &tgbotapi.Chat{ID: -100123, Type: "supergroup", Title: "Family"},
		Date:      int(fixedNow().Unix()),
		Text:      " anyone up? ",
	})
	require.True(t, ok)
	assert.Equal(t, "7", msg.ID)
	assert.Equal(t, "-100123", msg.ConversationID)
	assert.Equal(t, "Family", msg.ConversationName)
	assert.Equal(t, "Dana K", msg.SenderName)
	assert.True(t, msg.IsGroup)
	assert.False(t, msg.IsFromOwner)
	assert.Equal(t, "anyone up?", msg.Text)

	owner, ok := tg.convert(&tgbotapi.Message{
		MessageID: 8,
		From:      &tgbotapi.User{ID: 42, UserName: "kyle"},
		Chat:      &tgbotapi.Chat{ID: -100123, Type: "supergroup"},
		Date:      int(fixedNow().Unix()) + 5,
		Text:      "yep",
	})
	require.True(t, ok)
	assert.True(t, owner.IsFromOwner)

	seen, _ := tg.MessagesSince(context.Background(), "-100123", fixedNow())
	require.Len(t, seen, 2)
	assert.True(t, seen[1].AuthorIsOwner)
}

func TestTelegram_ConvertAttachmentAndPrivate(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Logger: quietLogger()})
	msg, ok := tg.convert(&tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: 5, FirstName: "Al"},
		Chat:      &tgbotapi.Chat{ID: 5, Type: "private"},
		Photo:     []tgbotapi.PhotoSize{{FileID: "f"}},
	})
	require.True(t, ok)
	assert.Equal(t, "[Attachment]", msg.Text)
	assert.False(t, msg.IsGroup)

	_, ok = tg.convert(&tgbotapi.Message{From: &tgbotapi.User{ID: 5}, Chat: &tgbotapi.Chat{ID: 5, Type: "private"}})
	assert.False(t, ok, "empty non-media message is ignored")
}

func TestDiscord_Convert(t *testing.T) {
	d := NewDiscord(DiscordConfig{OwnerIDs: []string{"own"}, Logger: quietLogger()})
	s := &discordgo.Session{State: discordgo.NewState()}
	s.State.User = &discordgo.User{ID: "bot"}

	_, ok := d.convert(s, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "1", ChannelID: "c", Content: "hi", Author: &discordgo.User{ID: "bot"},
	}})
	assert.False(t, ok, "own messages are ignored")

	msg, ok := d.convert(s, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "2",
		ChannelID: "dm1",
		Content:   "",
		Author:    &discordgo.User{ID: "own", Username: "kyle", GlobalName: "Kyle"},
		Timestamp: fixedNow(),
		Attachments: []*discordgo.MessageAttachment{{ID: "a"}},
	}})
	require.True(t, ok)
	assert.Equal(t, "[Attachment]", msg.Text)
	assert.Equal(t, "Kyle", msg.SenderName)
	assert.True(t, msg.IsFromOwner)
	assert.False(t, msg.IsGroup)
}

func TestDiscord_GuildFilter(t *testing.T) {
	d := NewDiscord(DiscordConfig{GuildID: "g1", Logger: quietLogger()})
	s := &discordgo.Session{State: discordgo.NewState()}
	s.State.User = &discordgo.User{ID: "bot"}

	_, ok := d.convert(s, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "1", ChannelID: "c", GuildID: "g2", Content: "hi", Author: &discordgo.User{ID: "u"},
	}})
	assert.False(t, ok)
}

func TestSlack_Convert(t *testing.T) {
	s := NewSlack(SlackConfig{OwnerIDs: []string{"UOWNER"}, Logger: quietLogger()})
	s.botUID = "UBOT"

	msg, ok := s.convert(context.Background(), &slackevents.MessageEvent{
		User:        "UFRIEND",
		Channel:     "D123",
		ChannelType: "im",
		Text:        "lunch?",
		TimeStamp:   "1792400000.000200",
	})
	require.True(t, ok)
	assert.False(t, msg.IsGroup)
	assert.Equal(t, "UFRIEND", msg.SenderName, "falls back to the id without an API client")
	assert.Equal(t, time.Unix(1792400000, 200000), msg.ReceivedAt)

	_, ok = s.convert(context.Background(), &slackevents.MessageEvent{User: "UBOT", Channel: "C1", Text: "x"})
	assert.False(t, ok)
	_, ok = s.convert(context.Background(), &slackevents.MessageEvent{User: "U1", Channel: "C1", Text: "x", SubType: "message_changed"})
	assert.False(t, ok)

	grp, ok := s.convert(context.Background(), &slackevents.MessageEvent{User: "UOWNER", Channel: "C1", ChannelType: "channel", Text: "on it"})
	require.True(t, ok)
	assert.True(t, grp.IsGroup)
	assert.True(t, grp.IsFromOwner)
}

func TestSlackTimestamps(t *testing.T) {
	ts := time.Unix(1792400000, 123456000)
	assert.Equal(t, "1792400000.123456", formatSlackTS(ts))
	assert.Equal(t, ts, parseSlackTS("1792400000.123456"))
	assert.Equal(t, time.Unix(5, 0), parseSlackTS("5"))
	assert.True(t, parseSlackTS("junk").IsZero())
}
