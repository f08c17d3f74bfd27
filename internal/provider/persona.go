package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"standin/internal/domain"
)

// DefaultSystemPrompt is used when persona.systemPrompt is empty. {NAME} and
// {CALENDAR_CONTEXT} are substituted on every call.
const DefaultSystemPrompt = `You ARE {NAME}. You're responding to messages from friends and family.

## Your Personality:
- Warm, genuine, care about people
- Casual and relaxed - never formal
- Use emojis naturally
- Witty, enjoy playful banter
- Keep texts brief (1-3 sentences usually)
- Match the other person's energy

## Your Texting Style:
- Start lowercase sometimes for casual feel
- Use "haha" or "lol" naturally
- Abbreviations fine: gonna, wanna, idk, tbh
- Don't over-explain
- Ask follow-up questions to show you care

## NEVER:
- Sound like customer service
- Use "I hope this helps!" type phrases
- Be overly formal
- Mention you're an AI
- Add "!" to everything

## For scheduling/plans:
- Be noncommittal if unsure: "let me check"
- If message doesn't need response: just "👍" or "got it"

## Calendar Context:
{CALENDAR_CONTEXT}

You ARE {NAME} texting YOUR friends and family.`

const (
	defaultHistoryTurns = 30
	historyKeyPrefix    = "history/"
	noAgendaContext     = "Calendar: No events today or not connected"
)

// PersonaConfig configures the reply generator.
type PersonaConfig struct {
	Provider     domain.Provider
	Store        domain.RecordStore
	Agenda       domain.Agenda // optional
	Name         string
	SystemPrompt string
	HistoryTurns int
	MaxTokens    int
	Logger       *slog.Logger
}

// Persona turns one inbound message into a reply in the owner's voice. It
// keeps a bounded per-conversation history in the record store so context
// survives restarts.
type Persona struct {
	provider     domain.Provider
	store        domain.RecordStore
	agenda       domain.Agenda
	name         string
	prompt       string
	historyTurns int
	maxTokens    int
	logger       *slog.Logger

	locks sync.Map // conversation id -> *sync.Mutex
}

func NewPersona(cfg PersonaConfig) *Persona {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = defaultHistoryTurns
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Persona{
		provider:     cfg.Provider,
		store:        cfg.Store,
		agenda:       cfg.Agenda,
		name:         cfg.Name,
		prompt:       cfg.SystemPrompt,
		historyTurns: cfg.HistoryTurns,
		maxTokens:    cfg.MaxTokens,
		logger:       cfg.Logger,
	}
}

// Generate appends the inbound turn to the conversation history, asks the
// provider for a reply and records it. History is only written back when
// the provider succeeds.
func (p *Persona) Generate(ctx context.Context, req domain.GenerateRequest) (string, error) {
	mu := p.lock(req.ConversationID)
	mu.Lock()
	defer mu.Unlock()

	history, err := p.loadHistory(ctx, req.ConversationID)
	if err != nil {
		return "", err
	}

	content := req.Text
	if req.IsGroup {
		content = fmt.Sprintf("[%s]: %s", req.Sender, req.Text)
	}
	history = trimHistory(append(history, domain.Message{Role: "user", Content: content}), p.historyTurns)

	resp, err := p.provider.Chat(ctx, domain.ChatRequest{
		System:    p.systemPrompt(ctx),
		Messages:  history,
		MaxTokens: p.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		return "", errors.New("generate reply: empty response")
	}

	p.logger.Debug("reply generated",
		"conversation", req.ConversationID,
		"provider", resp.Provider,
		"latency_ms", resp.LatencyMs,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	history = trimHistory(append(history, domain.Message{Role: "assistant", Content: reply}), p.historyTurns)
	if err := p.saveHistory(ctx, req.ConversationID, history); err != nil {
		p.logger.Warn("failed to persist conversation history", "conversation", req.ConversationID, "err", err)
	}
	return reply, nil
}

// History returns the stored turns for a conversation.
func (p *Persona) History(ctx context.Context, conversationID string) ([]domain.Message, error) {
	return p.loadHistory(ctx, conversationID)
}

func (p *Persona) systemPrompt(ctx context.Context) string {
	agenda := noAgendaContext
	if p.agenda != nil {
		if s := p.agenda.Today(ctx); s != "" {
			agenda = s
		}
	}
	return strings.NewReplacer("{NAME}", p.name, "{CALENDAR_CONTEXT}", agenda).Replace(p.prompt)
}

func (p *Persona) lock(conversationID string) *sync.Mutex {
	v, _ := p.locks.LoadOrStore(conversationID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (p *Persona) loadHistory(ctx context.Context, conversationID string) ([]domain.Message, error) {
	if p.store == nil {
		return nil, nil
	}
	data, err := p.store.Get(ctx, historyKeyPrefix+conversationID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	var msgs []domain.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		p.logger.Warn("discarding unreadable history", "conversation", conversationID, "err", err)
		return nil, nil
	}
	return msgs, nil
}

func (p *Persona) saveHistory(ctx context.Context, conversationID string, msgs []domain.Message) error {
	if p.store == nil {
		return nil
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	return p.store.Put(ctx, historyKeyPrefix+conversationID, data)
}

// trimHistory keeps the newest max turns and drops leading assistant turns
// so the window always opens with a user message.
func trimHistory(msgs []domain.Message, max int) []domain.Message {
	if len(msgs) > max {
		msgs = msgs[len(msgs)-max:]
	}
	for len(msgs) > 0 && msgs[0].Role != "user" {
		msgs = msgs[1:]
	}
	return msgs
}
