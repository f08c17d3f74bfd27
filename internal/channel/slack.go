package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"standin/internal/domain"
)

const (
	slackMaxMsgLen     = 4000
	slackHistoryWindow = 50
)

// Slack answers through a bot user over Socket Mode.
type Slack struct {
	botToken string
	appToken string
	owners   map[string]bool
	client   *slack.Client
	bus      domain.MessageBus
	logger   *slog.Logger
	botUID   string // the bot's own user ID, to avoid replying to self

	namesMu sync.Mutex
	users   map[string]string // user id -> display name
	convs   map[string]string // channel id -> name
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	BotToken string
	AppToken string
	OwnerIDs []string
	Logger   *slog.Logger
}

func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Slack{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		owners:   idSet(cfg.OwnerIDs),
		logger:   cfg.Logger,
		users:    make(map[string]string),
		convs:    make(map[string]string),
	}
}

func (s *Slack) Name() string { return "slack" }

// Start connects to Slack via Socket Mode and blocks until ctx is done.
func (s *Slack) Start(ctx context.Context, bus domain.MessageBus) error {
	s.bus = bus

	api := slack.New(s.botToken, slack.OptionAppLevelToken(s.appToken))
	s.client = api

	authResp, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)

	socketClient := socketmode.New(api)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-socketClient.Events:
				if !ok {
					return
				}
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
				if evt.Type != socketmode.EventTypeEventsAPI {
					continue
				}
				if apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent); ok {
					s.handleEventsAPI(ctx, apiEvent)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		<-errCh
		return nil
	case err := <-errCh:
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

func (s *Slack) Stop() error { return nil }

func (s *Slack) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	if msg, ok := s.convert(ctx, ev); ok {
		s.bus.Publish(msg)
	}
}

func (s *Slack) convert(ctx context.Context, ev *slackevents.MessageEvent) (domain.InboundMessage, bool) {
	// Ignore the bot itself, bot posts, and edits/deletes.
	if ev.User == "" || ev.User == s.botUID || ev.BotID != "" {
		return domain.InboundMessage{}, false
	}
	if ev.SubType != "" && ev.SubType != "file_share" {
		return domain.InboundMessage{}, false
	}

	text := strings.TrimSpace(ev.Text)
	if text == "" && ev.SubType == "file_share" {
		text = attachmentText
	}
	if text == "" {
		return domain.InboundMessage{}, false
	}

	isGroup := ev.ChannelType != "im" && !strings.HasPrefix(ev.Channel, "D")
	var convName string
	if isGroup {
		convName = s.conversationName(ctx, ev.Channel)
	}

	return domain.InboundMessage{
		ID:               ev.TimeStamp,
		Transport:        s.Name(),
		ConversationID:   ev.Channel,
		ConversationName: convName,
		SenderID:         ev.User,
		SenderName:       s.userName(ctx, ev.User),
		Text:             text,
		IsGroup:          isGroup,
		ReceivedAt:       parseSlackTS(ev.TimeStamp),
		IsFromOwner:      s.owners[ev.User],
	}, true
}

func (s *Slack) userName(ctx context.Context, userID string) string {
	s.namesMu.Lock()
	name, ok := s.users[userID]
	s.namesMu.Unlock()
	if ok {
		return name
	}

	name = userID
	if s.client != nil {
		if u, err := s.client.GetUserInfoContext(ctx, userID); err == nil {
			name = u.RealName
			if name == "" {
				name = u.Name
			}
		} else {
			s.logger.Debug("slack user lookup failed", "user", userID, "err", err)
		}
	}
	s.namesMu.Lock()
	s.users[userID] = name
	s.namesMu.Unlock()
	return name
}

func (s *Slack) conversationName(ctx context.Context, channelID string) string {
	s.namesMu.Lock()
	name, ok := s.convs[channelID]
	s.namesMu.Unlock()
	if ok {
		return name
	}

	if s.client != nil {
		ch, err := s.client.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
		if err != nil {
			s.logger.Debug("slack conversation lookup failed", "channel", channelID, "err", err)
			return ""
		}
		name = ch.Name
	}
	s.namesMu.Lock()
	s.convs[channelID] = name
	s.namesMu.Unlock()
	return name
}

func (s *Slack) Send(ctx context.Context, channelID, content string) error {
	if s.client == nil {
		return errors.New("slack: not connected")
	}
	for _, chunk := range splitMessage(content, slackMaxMsgLen) {
		if _, _, err := s.client.PostMessageContext(ctx, channelID, slack.MsgOptionText(chunk, false)); err != nil {
			return fmt.Errorf("slack send: %w", err)
		}
	}
	return nil
}

// MessagesSince reads conversations.history from since onward.
func (s *Slack) MessagesSince(ctx context.Context, channelID string, since time.Time) ([]domain.ObservedMessage, error) {
	if s.client == nil {
		return nil, errors.New("slack: not connected")
	}
	resp, err := s.client.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Oldest:    formatSlackTS(since),
		Inclusive: true,
		Limit:     slackHistoryWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("slack history: %w", err)
	}
	out := make([]domain.ObservedMessage, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		out = append(out, domain.ObservedMessage{
			AuthorIsOwner: s.owners[m.User],
			Timestamp:     parseSlackTS(m.Timestamp),
		})
	}
	return out, nil
}

// parseSlackTS converts "1700000000.123456" to a time.
func parseSlackTS(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var micros int64
	if frac != "" {
		for len(frac) < 6 {
			frac += "0"
		}
		micros, _ = strconv.ParseInt(frac[:6], 10, 64)
	}
	return time.Unix(s, micros*1000)
}

func formatSlackTS(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}
