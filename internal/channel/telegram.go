package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"standin/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram answers as a bot account. The Bot API has no history endpoint,
// so MessagesSince is served from messages seen while running.
type Telegram struct {
	token   string
	owners  map[string]bool
	history *historyLog

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token       string
	OwnerIDs    []string
	HistorySize int
	Logger      *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:   cfg.Token,
		owners:  idSet(cfg.OwnerIDs),
		history: newHistoryLog(cfg.HistorySize),
		logger:  cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is done.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if msg, ok := t.convert(update.Message); ok {
				t.bus.Publish(msg)
			}
		}
	}
}

// Stop is a no-op: polling ends when Start's context is cancelled, and
// StopReceivingUpdates panics if called twice.
func (t *Telegram) Stop() error { return nil }

// convert maps a Telegram message to an inbound message and records it.
func (t *Telegram) convert(m *tgbotapi.Message) (domain.InboundMessage, bool) {
	if m == nil || m.From == nil || m.Chat == nil {
		return domain.InboundMessage{}, false
	}
	if t.bot != nil && m.From.ID == t.bot.Self.ID {
		return domain.InboundMessage{}, false
	}

	senderID := strconv.FormatInt(m.From.ID, 10)
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	sentAt := time.Unix(int64(m.Date), 0)
	owner := t.owners[senderID]

	t.history.record(chatID, domain.ObservedMessage{AuthorIsOwner: owner, Timestamp: sentAt})

	text := strings.TrimSpace(m.Text)
	if text == "" {
		text = strings.TrimSpace(m.Caption)
	}
	if text == "" && hasTelegramMedia(m) {
		text = attachmentText
	}
	if text == "" {
		return domain.InboundMessage{}, false
	}

	t.logger.Debug("telegram message received",
		"chat_id", chatID,
		"chat_type", m.Chat.Type,
		"text_len", len(text),
	)

	return domain.InboundMessage{
		ID:               strconv.Itoa(m.MessageID),
		Transport:        t.Name(),
		ConversationID:   chatID,
		ConversationName: m.Chat.Title,
		SenderID:         senderID,
		SenderName:       telegramName(m.From),
		Text:             text,
		IsGroup:          !m.Chat.IsPrivate(),
		ReceivedAt:       sentAt,
		IsFromOwner:      owner,
	}, true
}

func hasTelegramMedia(m *tgbotapi.Message) bool {
	return len(m.Photo) > 0 || m.Document != nil || m.Sticker != nil ||
		m.Voice != nil || m.Video != nil || m.Audio != nil || m.Animation != nil
}

func telegramName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}

// Send delivers text, splitting at Telegram's message limit.
func (t *Telegram) Send(ctx context.Context, chatID string, content string) error {
	if t.bot == nil {
		return errors.New("telegram: not connected")
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	for _, chunk := range splitMessage(content, telegramMaxMsgLen) {
		if err := t.sendChunk(ctx, id, chunk); err != nil {
			return err
		}
	}
	return nil
}

// sendChunk retries rate limits and transient errors with backoff.
func (t *Telegram) sendChunk(ctx context.Context, chatID int64, text string) error {
	var lastErr error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		_, err := t.bot.Send(tgbotapi.NewMessage(chatID, text))
		if err == nil {
			return nil
		}
		lastErr = err

		backoff := time.Duration(attempt+1) * time.Second
		if strings.Contains(err.Error(), "Too Many Requests") || strings.Contains(err.Error(), "429") {
			backoff = time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off", "retry_after", backoff, "attempt", attempt+1)
		} else {
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
		}
		if attempt == telegramMaxSendRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", telegramMaxSendRetries+1, lastErr)
}

func (t *Telegram) MessagesSince(_ context.Context, chatID string, since time.Time) ([]domain.ObservedMessage, error) {
	return t.history.since(chatID, since), nil
}
