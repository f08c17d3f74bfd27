package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"standin/internal/domain"
	"standin/internal/memory"
)

type fixedAgenda string

func (a fixedAgenda) Today(context.Context) string { return string(a) }

func newTestPersona(p domain.Provider, store domain.RecordStore, turns int) *Persona {
	return NewPersona(PersonaConfig{
		Provider:     p,
		Store:        store,
		Agenda:       fixedAgenda("Kyle's schedule today:\n- No more events today"),
		Name:         "Kyle",
		HistoryTurns: turns,
		Logger:       testLogger(),
	})
}

func TestPersona_GroupMessagesArePrefixed(t *testing.T) {
	mp := &mockProvider{name: "mock", reply: "lol same"}
	p := newTestPersona(mp, memory.NewMapStore(), 30)

	reply, err := p.Generate(context.Background(), domain.GenerateRequest{
		ConversationID: "telegram/-100",
		Sender:         "Dana",
		Text:           "who's coming saturday",
		IsGroup:        true,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if reply != "lol same" {
		t.Fatalf("unexpected reply %q", reply)
	}
	last := mp.lastReq.Messages[len(mp.lastReq.Messages)-1]
	if last.Content != "[Dana]: who's coming saturday" {
		t.Fatalf("group content not prefixed: %q", last.Content)
	}
}

func TestPersona_SystemPromptSubstitution(t *testing.T) {
	mp := &mockProvider{name: "mock", reply: "ok"}
	p := newTestPersona(mp, nil, 30)

	if _, err := p.Generate(context.Background(), domain.GenerateRequest{ConversationID: "c", Text: "hey"}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	sys := mp.lastReq.System
	if strings.Contains(sys, "{NAME}") || strings.Contains(sys, "{CALENDAR_CONTEXT}") {
		t.Fatal("placeholders should be substituted")
	}
	if !strings.Contains(sys, "You ARE Kyle") || !strings.Contains(sys, "No more events today") {
		t.Fatalf("unexpected system prompt:\n%s", sys)
	}
	if mp.lastReq.MaxTokens != defaultMaxTokens {
		t.Fatalf("expected max tokens %d, got %d", defaultMaxTokens, mp.lastReq.MaxTokens)
	}
}

func TestPersona_NoAgendaFallback(t *testing.T) {
	mp := &mockProvider{name: "mock", reply: "ok"}
	p := NewPersona(PersonaConfig{Provider: mp, Name: "Kyle", Logger: testLogger()})

	if _, err := p.Generate(context.Background(), domain.GenerateRequest{ConversationID: "c", Text: "hey"}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(mp.lastReq.System, noAgendaContext) {
		t.Fatal("expected no-calendar context in prompt")
	}
}

func TestPersona_HistoryPersistsAndTrims(t *testing.T) {
	store := memory.NewMapStore()
	mp := &mockProvider{name: "mock", reply: "👍"}
	p := newTestPersona(mp, store, 4)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := p.Generate(ctx, domain.GenerateRequest{ConversationID: "dm", Text: fmt.Sprintf("msg %d", i)}); err != nil {
			t.Fatalf("generate %d: %v", i, err)
		}
	}

	// A fresh persona over the same store sees the trimmed history.
	again := newTestPersona(mp, store, 4)
	hist, err := again.History(ctx, "dm")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(hist))
	}
	if hist[0].Role != "user" || hist[0].Content != "msg 3" {
		t.Fatalf("window should open with the newest user turns, got %+v", hist[0])
	}
}

func TestPersona_FailedCallLeavesHistoryUntouched(t *testing.T) {
	store := memory.NewMapStore()
	mp := &mockProvider{name: "mock", err: errors.New("overloaded")}
	p := newTestPersona(mp, store, 30)

	if _, err := p.Generate(context.Background(), domain.GenerateRequest{ConversationID: "dm", Text: "hi"}); err == nil {
		t.Fatal("expected error")
	}
	hist, _ := p.History(context.Background(), "dm")
	if len(hist) != 0 {
		t.Fatalf("history should stay empty after failure, got %d", len(hist))
	}
}

func TestPersona_EmptyReplyIsError(t *testing.T) {
	mp := &mockProvider{name: "mock", reply: "  "}
	p := newTestPersona(mp, nil, 30)
	if _, err := p.Generate(context.Background(), domain.GenerateRequest{ConversationID: "dm", Text: "hi"}); err == nil {
		t.Fatal("expected error for empty reply")
	}
}

func TestTrimHistory_DropsLeadingAssistant(t *testing.T) {
	msgs := []domain.Message{
		{Role: "user", Content: "a"},
		{Role: "assistant", Content: "b"},
		{Role: "user", Content: "c"},
		{Role: "assistant", Content: "d"},
	}
	got := trimHistory(msgs, 3)
	if len(got) != 2 || got[0].Content != "c" {
		t.Fatalf("unexpected trim result %+v", got)
	}
}
