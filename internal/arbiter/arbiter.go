// Package arbiter decides, right before an automated send, whether the
// owner has already answered the conversation.
package arbiter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"standin/internal/domain"
)

// HistorySource lists recent messages of a conversation.
type HistorySource interface {
	MessagesSince(ctx context.Context, conversationID string, since time.Time) ([]domain.ObservedMessage, error)
}

type Decision struct {
	Send   bool
	Reason string
	Err    error // lookup error when the decision failed open
}

const (
	ReasonClear        = "clear"
	ReasonOwnerReplied = "owner_replied"
	ReasonOwnerSeen    = "owner_seen_inbound"
	ReasonLookupFailed = "lookup_failed"
)

type Config struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

type Arbiter struct {
	timeout  time.Duration
	logger   *slog.Logger
	activity *OwnerActivity
}

func New(cfg Config) *Arbiter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Arbiter{timeout: cfg.Timeout, logger: cfg.Logger, activity: NewOwnerActivity()}
}

// Activity is the tracker fed by owner messages seen on the inbound stream.
func (a *Arbiter) Activity() *OwnerActivity { return a.activity }

// Arbitrate reports whether the candidate reply to msg may be sent. Any
// owner message in the same conversation at or after msg.ReceivedAt cancels
// it. A failed or slow lookup fails open.
func (a *Arbiter) Arbitrate(ctx context.Context, src HistorySource, msg domain.InboundMessage) Decision {
	conversationID, since := msg.ConversationID, msg.ReceivedAt
	if a.activity.ActiveSince(msg.ConversationKey(), since) {
		return Decision{Reason: ReasonOwnerSeen}
	}
	if src == nil {
		return Decision{Send: true, Reason: ReasonClear}
	}

	msgs, err := a.lookup(ctx, src, conversationID, since)
	if err != nil {
		a.logger.Warn("owner reply check failed, sending anyway",
			"transport", msg.Transport, "conversation", conversationID, "err", err)
		return Decision{Send: true, Reason: ReasonLookupFailed, Err: err}
	}
	for _, m := range msgs {
		if m.AuthorIsOwner && !m.Timestamp.Before(since) {
			return Decision{Reason: ReasonOwnerReplied}
		}
	}
	return Decision{Send: true, Reason: ReasonClear}
}

type lookupResult struct {
	msgs []domain.ObservedMessage
	err  error
}

// lookup bounds the history query even if the source ignores ctx.
func (a *Arbiter) lookup(ctx context.Context, src HistorySource, conversationID string, since time.Time) ([]domain.ObservedMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ch := make(chan lookupResult, 1)
	go func() {
		msgs, err := src.MessagesSince(ctx, conversationID, since)
		ch <- lookupResult{msgs, err}
	}()

	select {
	case r := <-ch:
		return r.msgs, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OwnerActivity remembers the last time the owner wrote in each
// conversation, keyed by InboundMessage.ConversationKey.
type OwnerActivity struct {
	mu   sync.RWMutex
	last map[string]time.Time
}

func NewOwnerActivity() *OwnerActivity {
	return &OwnerActivity{last: make(map[string]time.Time)}
}

func (o *OwnerActivity) Record(key string, at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if at.After(o.last[key]) {
		o.last[key] = at
	}
}

func (o *OwnerActivity) ActiveSince(key string, since time.Time) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	t, ok := o.last[key]
	return ok && !t.Before(since)
}
