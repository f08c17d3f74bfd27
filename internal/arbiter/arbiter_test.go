package arbiter

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"standin/internal/domain"
)

type historyFunc func(ctx context.Context, id string, since time.Time) ([]domain.ObservedMessage, error)

func (f historyFunc) MessagesSince(ctx context.Context, id string, since time.Time) ([]domain.ObservedMessage, error) {
	return f(ctx, id, since)
}

func history(msgs ...domain.ObservedMessage) historyFunc {
	return func(context.Context, string, time.Time) ([]domain.ObservedMessage, error) { return msgs, nil }
}

func newArbiter() *Arbiter {
	return New(Config{
		Timeout: 50 * time.Millisecond,
		Logger:  slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
	})
}

var decision = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func inbound(transport, conv string) domain.InboundMessage {
	return domain.InboundMessage{Transport: transport, ConversationID: conv, ReceivedAt: decision}
}

func TestArbitrate_OwnerReplyAfterDecisionCancels(t *testing.T) {
	a := newArbiter()
	src := history(
		domain.ObservedMessage{AuthorIsOwner: false, Timestamp: decision.Add(time.Second)},
		domain.ObservedMessage{AuthorIsOwner: true, Timestamp: decision.Add(30 * time.Second)},
	)
	d := a.Arbitrate(context.Background(), src, inbound("telegram", "c1"))
	assert.False(t, d.Send)
	assert.Equal(t, ReasonOwnerReplied, d.Reason)
}

func TestArbitrate_OwnerReplyAtDecisionInstantCancels(t *testing.T) {
	d := newArbiter().Arbitrate(context.Background(),
		history(domain.ObservedMessage{AuthorIsOwner: true, Timestamp: decision}), inbound("telegram", "c1"))
	assert.False(t, d.Send)
}

func TestArbitrate_OlderOwnerMessageIgnored(t *testing.T) {
	d := newArbiter().Arbitrate(context.Background(),
		history(domain.ObservedMessage{AuthorIsOwner: true, Timestamp: decision.Add(-time.Minute)}), inbound("telegram", "c1"))
	assert.True(t, d.Send)
	assert.Equal(t, ReasonClear, d.Reason)
}

func TestArbitrate_LookupErrorFailsOpen(t *testing.T) {
	src := historyFunc(func(context.Context, string, time.Time) ([]domain.ObservedMessage, error) {
		return nil, errors.New("transport down")
	})
	d := newArbiter().Arbitrate(context.Background(), src, inbound("telegram", "c1"))
	assert.True(t, d.Send)
	assert.Equal(t, ReasonLookupFailed, d.Reason)
	assert.Error(t, d.Err)
}

func TestArbitrate_SlowLookupTimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	src := historyFunc(func(context.Context, string, time.Time) ([]domain.ObservedMessage, error) {
		<-release // ignores ctx on purpose
		return nil, nil
	})
	start := time.Now()
	d := newArbiter().Arbitrate(context.Background(), src, inbound("telegram", "c1"))
	assert.True(t, d.Send)
	assert.ErrorIs(t, d.Err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestArbitrate_LocalOwnerActivity(t *testing.T) {
	a := newArbiter()
	a.Activity().Record("telegram/c1", decision.Add(5*time.Second))

	d := a.Arbitrate(context.Background(), nil, inbound("telegram", "c1"))
	assert.False(t, d.Send)
	assert.Equal(t, ReasonOwnerSeen, d.Reason)

	d = a.Arbitrate(context.Background(), nil, inbound("telegram", "c2"))
	assert.True(t, d.Send)
}

func TestArbitrate_ActivityIsPerTransport(t *testing.T) {
	a := newArbiter()
	a.Activity().Record(inbound("slack", "c1").ConversationKey(), decision.Add(time.Second))

	assert.True(t, a.Arbitrate(context.Background(), nil, inbound("telegram", "c1")).Send)
	assert.False(t, a.Arbitrate(context.Background(), nil, inbound("slack", "c1")).Send)
}

func TestArbitrate_HistoryQueriedByConversationID(t *testing.T) {
	var asked string
	src := historyFunc(func(_ context.Context, id string, _ time.Time) ([]domain.ObservedMessage, error) {
		asked = id
		return nil, nil
	})
	newArbiter().Arbitrate(context.Background(), src, inbound("telegram", "c1"))
	assert.Equal(t, "c1", asked)
}
