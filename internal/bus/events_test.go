package bus

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"standin/internal/domain"
)

func testEBLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestEventBus_EmitAndReceive(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var got Event
	eb.On(EventMessageTriaged, func(e Event) { got = e })
	eb.On(EventReplySent, func(Event) { t.Error("wrong topic delivered") })

	eb.Emit(Event{Type: EventMessageTriaged, Payload: map[string]any{"outcome": "spam_filtered", "urgent": false}})

	assert.Equal(t, "spam_filtered", got.Str("outcome"))
	assert.False(t, got.Bool("urgent"))
	assert.False(t, got.Timestamp.IsZero(), "timestamp should be stamped")
}

func TestEventBus_Wildcard(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var types []string
	eb.On(Wildcard, func(e Event) { types = append(types, e.Type) })
	eb.Emit(Event{Type: EventAlertSent})
	eb.Emit(Event{Type: EventRecapSent})

	assert.Equal(t, []string{EventAlertSent, EventRecapSent}, types)
}

func TestEventBus_Cancel(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	count := 0
	cancel := eb.On("x", func(Event) { count++ })
	eb.On("x", func(Event) { count += 10 })

	eb.Emit(Event{Type: "x"})
	cancel()
	cancel()
	eb.Emit(Event{Type: "x"})

	assert.Equal(t, 21, count)
}

func TestEventBus_PanicDoesNotStopOthers(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	reached := false
	eb.On("boom", func(Event) { panic("test panic") })
	eb.On("boom", func(Event) { reached = true })

	eb.Emit(Event{Type: "boom"})
	assert.True(t, reached)
}

func TestEventBus_RecentFilters(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	eb.Emit(Event{Type: EventMessageTriaged, Timestamp: time.Now().Add(-time.Hour)})
	since := time.Now()
	eb.Emit(Event{Type: EventReplySent})
	eb.Emit(Event{Type: EventMessageTriaged})

	assert.Len(t, eb.Recent(EventMessageTriaged, time.Time{}), 2)
	assert.Len(t, eb.Recent(Wildcard, time.Time{}), 3)
	assert.Len(t, eb.Recent(Wildcard, since), 2)
}

func TestEventBus_RingKeepsNewest(t *testing.T) {
	eb := newEventBus(testEBLogger(), 5)

	for i := range 12 {
		eb.Emit(Event{Type: "n", Payload: map[string]any{"i": i}})
	}

	got := eb.Recent(Wildcard, time.Time{})
	require.Len(t, got, 5)
	for k, e := range got {
		assert.Equal(t, 7+k, e.Int("i"))
	}
}

func TestEvent_PayloadAccessorsTolerateMissing(t *testing.T) {
	e := Event{Type: "x", Payload: map[string]any{"a": 1}}
	assert.Empty(t, e.Str("a"))
	assert.Zero(t, e.Int("b"))
	assert.False(t, e.Bool("c"))
}

func TestInMemoryBus_PublishSubscribe(t *testing.T) {
	b := New(2, testEBLogger())
	b.Publish(domain.InboundMessage{ID: "1", Transport: "cli"})
	b.Publish(domain.InboundMessage{ID: "2", Transport: "cli"})
	b.Close()

	var ids []string
	for m := range b.Subscribe() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"1", "2"}, ids)
}

func TestInMemoryBus_PublishAfterCloseIsDropped(t *testing.T) {
	b := New(1, testEBLogger())
	b.Close()
	b.Close()
	b.Publish(domain.InboundMessage{ID: "late"})

	_, ok := <-b.Subscribe()
	assert.False(t, ok, "closed bus should not deliver")
}

func TestInMemoryBus_CloseReleasesBlockedPublisher(t *testing.T) {
	b := New(1, testEBLogger())
	b.Publish(domain.InboundMessage{ID: "fills"})

	done := make(chan struct{})
	go func() {
		b.Publish(domain.InboundMessage{ID: "blocked"})
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	b.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher still blocked after Close")
	}
	var ids []string
	for m := range b.Subscribe() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"fills"}, ids)
}
