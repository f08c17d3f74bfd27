package policy

import (
	"testing"
	"time"

	"standin/internal/classify"
	"standin/internal/domain"
)

func newPolicy(r float64) *Policy {
	return New(Config{
		PersonaNames:   []string{"Kyle"},
		PriorityGroups: []string{"bartlett family"},
		Rand:           func() float64 { return r },
	})
}

func group(name, text string) domain.InboundMessage {
	return domain.InboundMessage{ConversationID: "g-" + name, ConversationName: name, Text: text, IsGroup: true, ReceivedAt: time.Now()}
}

func TestDecide_Direct(t *testing.T) {
	p := newPolicy(0)
	msg := domain.InboundMessage{ConversationID: "dm", Text: "dinner tonight?"}

	if e := p.Decide(msg, classify.Classification{}); e.Level != Full {
		t.Fatalf("direct message should be full, got %v", e.Level)
	}
	spam := classify.Classification{Spam: classify.SpamVerdict{IsSpam: true}}
	if e := p.Decide(msg, spam); e.Level != Skip || e.Reason != "spam" {
		t.Fatalf("spam should skip, got %+v", e)
	}
	invite := classify.Classification{Invite: &classify.Invite{Title: "x"}}
	if e := p.Decide(msg, invite); e.Level != Skip {
		t.Fatalf("invite should skip, got %+v", e)
	}
}

func TestDecide_RegularGroup(t *testing.T) {
	p := newPolicy(0)
	cases := []struct {
		text   string
		urgent bool
		want   Level
	}{
		{"hey KYLE you coming?", false, Full},
		{"who's bringing chips?", false, Full},
		{"the game was great", false, Skip},
		{"water pipe burst", true, Full},
		{"this is a really long message that happens to end with a question mark but goes on and on well past the limit of what counts?", false, Skip},
	}
	for _, tc := range cases {
		c := classify.Classification{Urgency: classify.UrgencyVerdict{Urgent: tc.urgent}}
		if got := p.Decide(group("soccer", tc.text), c).Level; got != tc.want {
			t.Errorf("%q: got %v want %v", tc.text, got, tc.want)
		}
	}
}

func TestDecide_KindToggles(t *testing.T) {
	p := New(Config{IgnoreGroups: true, PersonaNames: []string{"Kyle"}})
	if e := p.Decide(group("soccer", "kyle?"), classify.Classification{}); e.Level != Skip || e.Reason != "group chats disabled" {
		t.Fatalf("groups disabled should skip, got %+v", e)
	}
	if e := p.Decide(domain.InboundMessage{ConversationID: "dm", Text: "hi"}, classify.Classification{}); e.Level != Full {
		t.Fatalf("direct message should still be full, got %+v", e)
	}

	p = New(Config{IgnoreDirect: true})
	if e := p.Decide(domain.InboundMessage{ConversationID: "dm", Text: "hi"}, classify.Classification{}); e.Level != Skip {
		t.Fatalf("direct messages disabled should skip, got %+v", e)
	}
}

func TestDecide_PriorityGroupAmbientCycle(t *testing.T) {
	p := newPolicy(0.5) // below 0.7 -> ack
	msg := group("The Bartlett Family 🏡", "lol nice")

	for i := 1; i < 8; i++ {
		if e := p.Decide(msg, classify.Classification{}); e.Level != Skip {
			t.Fatalf("message %d should skip, got %v", i, e.Level)
		}
	}
	e := p.Decide(msg, classify.Classification{})
	if e.Level != Ack || !e.ResetCounter {
		t.Fatalf("8th message should ack and reset, got %+v", e)
	}
	if st, _ := p.State(msg.ConversationKey()); st.EngagementCounter != 0 || st.Kind != KindPriorityGroup {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestDecide_PriorityGroupFullDraw(t *testing.T) {
	p := newPolicy(0.9)
	msg := group("bartlett family", "ok")
	var last Engagement
	for i := 0; i < 8; i++ {
		last = p.Decide(msg, classify.Classification{})
	}
	if last.Level != Full {
		t.Fatalf("draw above ack probability should be full, got %v", last.Level)
	}
}

func TestDecide_PriorityGroupMentionResets(t *testing.T) {
	p := newPolicy(0)
	msg := group("bartlett family", "ok")
	for i := 0; i < 5; i++ {
		p.Decide(msg, classify.Classification{})
	}
	e := p.Decide(group("bartlett family", "kyle are you in?"), classify.Classification{})
	if e.Level != Full || !e.ResetCounter {
		t.Fatalf("mention should be full with reset, got %+v", e)
	}
	if st, _ := p.State(msg.ConversationKey()); st.EngagementCounter != 0 {
		t.Fatalf("counter not reset: %d", st.EngagementCounter)
	}
}

func TestDecide_PriorityGroupSpamSkipsWithoutCounting(t *testing.T) {
	p := newPolicy(0)
	msg := group("bartlett family", "free $100")
	p.Decide(msg, classify.Classification{Spam: classify.SpamVerdict{IsSpam: true}})
	if st, _ := p.State(msg.ConversationKey()); st.EngagementCounter != 0 {
		t.Fatalf("spam must not advance the ambient counter, got %d", st.EngagementCounter)
	}
}

func TestPendingAndMarkAnswered(t *testing.T) {
	p := newPolicy(0)
	msg := domain.InboundMessage{ConversationID: "dm", Text: "hi", ReceivedAt: time.Now()}
	p.Decide(msg, classify.Classification{})
	if p.Pending() != 1 {
		t.Fatalf("expected 1 pending, got %d", p.Pending())
	}
	p.MarkAnswered(msg.ConversationKey())
	if p.Pending() != 0 {
		t.Fatalf("expected 0 pending after answer, got %d", p.Pending())
	}
}

func TestState_SeparatePerTransport(t *testing.T) {
	p := New(Config{PriorityGroups: []string{"family"}, EngageEvery: 3, Rand: func() float64 { return 0 }})
	tg := domain.InboundMessage{Transport: "telegram", ConversationID: "42", ConversationName: "Family", IsGroup: true, Text: "lol", ReceivedAt: time.Now()}
	dc := tg
	dc.Transport = "discord"

	p.Decide(tg, classify.Classification{})
	p.Decide(tg, classify.Classification{})
	p.Decide(dc, classify.Classification{})

	tgState, _ := p.State("telegram/42")
	dcState, _ := p.State("discord/42")
	if tgState.EngagementCounter != 2 || dcState.EngagementCounter != 1 {
		t.Fatalf("counters leaked across transports: telegram=%d discord=%d", tgState.EngagementCounter, dcState.EngagementCounter)
	}

	p.MarkAnswered(tg.ConversationKey())
	if p.Pending() != 1 {
		t.Fatalf("answering telegram must leave discord pending, pending=%d", p.Pending())
	}
}

func TestPickAck(t *testing.T) {
	if got := PickAck(nil, func() float64 { return 0 }); got != "👍" {
		t.Errorf("got %q", got)
	}
	if got := PickAck([]string{"a", "b"}, func() float64 { return 0.99 }); got != "b" {
		t.Errorf("got %q", got)
	}
}
