// Package classify scores inbound messages for spam, urgency, calendar
// invites and owner remote commands. Classification is pure: the rule
// snapshot, clock and location are inputs.
package classify

import (
	"sync/atomic"
	"time"

	"standin/internal/domain"
)

type Classification struct {
	Spam    SpamVerdict
	Urgency UrgencyVerdict
	// Invite is set only when the text carries a resolvable start time.
	Invite *Invite
	// EventLike is true for event notices, timed or not.
	EventLike bool
	Command   *Command
}

// Classifier holds the active rule snapshot. Rules can be swapped while
// messages are being classified.
type Classifier struct {
	rules atomic.Pointer[RuleSet]
	loc   *time.Location
}

func New(rules *RuleSet, loc *time.Location) *Classifier {
	if rules == nil {
		rules = DefaultRules()
	}
	if loc == nil {
		loc = time.Local
	}
	c := &Classifier{loc: loc}
	c.rules.Store(rules)
	return c
}

func (c *Classifier) Rules() *RuleSet { return c.rules.Load() }

func (c *Classifier) SetRules(rs *RuleSet) {
	if rs != nil {
		c.rules.Store(rs)
	}
}

func (c *Classifier) Location() *time.Location { return c.loc }

// Classify runs every classifier against msg. Commands are parsed for any
// sender; whether they are honored is the caller's decision.
func (c *Classifier) Classify(msg domain.InboundMessage, now time.Time) Classification {
	rs := c.rules.Load()
	out := Classification{
		Spam:    ScoreSpam(rs, msg.Text),
		Urgency: DetectUrgency(rs, msg.Text),
		Command: ParseCommand(msg.Text),
	}
	if LooksLikeEvent(rs, msg.Text, out.Spam.LegitScore) {
		out.EventLike = true
		out.Invite = ParseInvite(msg.Text, msg.Sender(), now, c.loc)
	}
	return out
}
