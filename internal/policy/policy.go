// Package policy decides whether the persona engages with a message and
// owns the per-conversation engagement state.
package policy

import (
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"standin/internal/classify"
	"standin/internal/domain"
)

type Level int

const (
	Skip Level = iota
	Ack
	Full
)

func (l Level) String() string {
	switch l {
	case Ack:
		return "ack"
	case Full:
		return "full"
	default:
		return "skip"
	}
}

type Kind string

const (
	KindDirect        Kind = "direct"
	KindRegularGroup  Kind = "regular-group"
	KindPriorityGroup Kind = "priority-group"
)

type Engagement struct {
	Level        Level
	ResetCounter bool
	Reason       string
}

// ConversationState is never deleted, only reset.
type ConversationState struct {
	ID                string
	Kind              Kind
	PendingSince      time.Time
	EngagementCounter int
}

type Config struct {
	// PersonaNames are matched as lower-case substrings to detect mentions.
	PersonaNames []string
	// PriorityGroups match a group's name (substring) or its id (exact).
	PriorityGroups []string
	QuestionMaxLen int
	EngageEvery    int
	AckProbability float64
	// IgnoreDirect and IgnoreGroups turn off replies for that conversation
	// kind. Classification, alerts and the digest still see the messages.
	IgnoreDirect bool
	IgnoreGroups bool
	Rand         func() float64 // optional, [0,1)
	Logger       *slog.Logger
}

type Policy struct {
	mu     sync.Mutex
	cfg    Config
	states map[string]*ConversationState
}

func New(cfg Config) *Policy {
	if cfg.QuestionMaxLen <= 0 {
		cfg.QuestionMaxLen = 120
	}
	if cfg.EngageEvery <= 0 {
		cfg.EngageEvery = 8
	}
	if cfg.AckProbability < 0 || cfg.AckProbability > 1 {
		cfg.AckProbability = 0.7
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	names := make([]string, 0, len(cfg.PersonaNames))
	for _, n := range cfg.PersonaNames {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			names = append(names, n)
		}
	}
	cfg.PersonaNames = names
	groups := make([]string, 0, len(cfg.PriorityGroups))
	for _, g := range cfg.PriorityGroups {
		if g = strings.ToLower(strings.TrimSpace(g)); g != "" {
			groups = append(groups, g)
		}
	}
	cfg.PriorityGroups = groups
	return &Policy{cfg: cfg, states: make(map[string]*ConversationState)}
}

// KindOf classifies the conversation a message belongs to.
func (p *Policy) KindOf(msg domain.InboundMessage) Kind {
	if !msg.IsGroup {
		return KindDirect
	}
	name := strings.ToLower(msg.ConversationName)
	id := strings.ToLower(msg.ConversationID)
	for _, g := range p.cfg.PriorityGroups {
		if id == g || (name != "" && strings.Contains(name, g)) {
			return KindPriorityGroup
		}
	}
	return KindRegularGroup
}

// Mentions reports whether text addresses the persona by name.
func (p *Policy) Mentions(text string) bool {
	lower := strings.ToLower(text)
	for _, n := range p.cfg.PersonaNames {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

// IsQuestion is a short text ending in "?".
func (p *Policy) IsQuestion(text string) bool {
	t := strings.TrimSpace(text)
	return strings.HasSuffix(t, "?") && len([]rune(t)) < p.cfg.QuestionMaxLen
}

// Decide records msg against its conversation and returns the engagement
// level. Pause and quota are applied by the caller afterwards.
func (p *Policy) Decide(msg domain.InboundMessage, c classify.Classification) Engagement {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.stateLocked(msg.ConversationKey())
	st.Kind = p.KindOf(msg)
	if st.PendingSince.IsZero() {
		st.PendingSince = msg.ReceivedAt
	}

	if c.Spam.IsSpam {
		return Engagement{Level: Skip, Reason: "spam"}
	}
	if c.Invite != nil || c.EventLike {
		return Engagement{Level: Skip, Reason: "event notice"}
	}
	if st.Kind == KindDirect && p.cfg.IgnoreDirect {
		return Engagement{Level: Skip, Reason: "direct messages disabled"}
	}
	if st.Kind != KindDirect && p.cfg.IgnoreGroups {
		return Engagement{Level: Skip, Reason: "group chats disabled"}
	}

	switch st.Kind {
	case KindDirect:
		return Engagement{Level: Full, Reason: "direct message"}

	case KindRegularGroup:
		switch {
		case p.Mentions(msg.Text):
			return Engagement{Level: Full, Reason: "mentioned"}
		case p.IsQuestion(msg.Text):
			return Engagement{Level: Full, Reason: "question"}
		case c.Urgency.Urgent:
			return Engagement{Level: Full, Reason: "urgent"}
		}
		return Engagement{Level: Skip, Reason: "not addressed"}
	}

	// Priority group.
	if p.Mentions(msg.Text) || p.IsQuestion(msg.Text) {
		st.EngagementCounter = 0
		return Engagement{Level: Full, ResetCounter: true, Reason: "addressed in priority group"}
	}
	st.EngagementCounter++
	if st.EngagementCounter < p.cfg.EngageEvery {
		return Engagement{Level: Skip, Reason: "ambient wait"}
	}
	st.EngagementCounter = 0
	if p.cfg.Rand() < p.cfg.AckProbability {
		return Engagement{Level: Ack, ResetCounter: true, Reason: "ambient presence"}
	}
	return Engagement{Level: Full, ResetCounter: true, Reason: "ambient presence"}
}

// MarkAnswered clears the pending marker once someone (persona or owner)
// replied in the conversation.
func (p *Policy) MarkAnswered(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.states[key]; ok {
		st.PendingSince = time.Time{}
	}
}

// State returns a copy of the conversation's state. key is
// InboundMessage.ConversationKey.
func (p *Policy) State(key string) (ConversationState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[key]
	if !ok {
		return ConversationState{}, false
	}
	return *st, true
}

// Pending counts conversations waiting on a reply.
func (p *Policy) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, st := range p.states {
		if !st.PendingSince.IsZero() {
			n++
		}
	}
	return n
}

func (p *Policy) stateLocked(id string) *ConversationState {
	st, ok := p.states[id]
	if !ok {
		st = &ConversationState{ID: id}
		p.states[id] = st
	}
	return st
}
