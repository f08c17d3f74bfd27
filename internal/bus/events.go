package bus

import (
	"log/slog"
	"sync"
	"time"
)

// Event is one observable step of message triage.
type Event struct {
	Type      string
	Source    string         // originating component
	Payload   map[string]any // event-specific data
	Timestamp time.Time
}

// Str returns a string payload field or "".
func (e Event) Str(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

// Int returns an int payload field or 0.
func (e Event) Int(key string) int {
	n, _ := e.Payload[key].(int)
	return n
}

// Bool returns a bool payload field or false.
func (e Event) Bool(key string) bool {
	b, _ := e.Payload[key].(bool)
	return b
}

// Wildcard subscribes to every event type.
const Wildcard = "*"

const defaultRecent = 512

type EventHandler func(Event)

type subscription struct {
	id    uint64
	topic string
	fn    EventHandler
}

// EventBus delivers events synchronously to subscribers and keeps the most
// recent ones in a ring for tests and diagnostics.
type EventBus struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   []subscription
	lastID uint64
	ring   []Event
	head   int // next write position once the ring is full
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return newEventBus(logger, defaultRecent)
}

func newEventBus(logger *slog.Logger, recent int) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{logger: logger, ring: make([]Event, 0, recent)}
}

// On subscribes fn to topic (or Wildcard). The returned func removes the
// subscription and is safe to call more than once.
func (eb *EventBus) On(topic string, fn EventHandler) (cancel func()) {
	eb.mu.Lock()
	eb.lastID++
	id := eb.lastID
	eb.subs = append(eb.subs, subscription{id: id, topic: topic, fn: fn})
	eb.mu.Unlock()

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		for i, s := range eb.subs {
			if s.id == id {
				eb.subs = append(eb.subs[:i:i], eb.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit stamps the event, records it and runs matching subscribers in the
// order they subscribed. Subscribers run on the caller's goroutine; a
// panicking one is logged and does not stop the rest.
func (eb *EventBus) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.ring) < cap(eb.ring) {
		eb.ring = append(eb.ring, e)
	} else if cap(eb.ring) > 0 {
		eb.ring[eb.head] = e
		eb.head = (eb.head + 1) % cap(eb.ring)
	}
	var targets []subscription
	for _, s := range eb.subs {
		if s.topic == e.Type || s.topic == Wildcard {
			targets = append(targets, s)
		}
	}
	eb.mu.Unlock()

	for _, s := range targets {
		eb.deliver(s, e)
	}
}

func (eb *EventBus) deliver(s subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event subscriber panicked", "event", e.Type, "subscriber", s.id, "panic", r)
		}
	}()
	s.fn(e)
}

// Recent returns retained events of the given type (or Wildcard) stamped
// at or after since, oldest first.
func (eb *EventBus) Recent(topic string, since time.Time) []Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	var out []Event
	n := len(eb.ring)
	for i := range n {
		e := eb.ring[(eb.head+i)%n]
		if e.Timestamp.Before(since) {
			continue
		}
		if topic == Wildcard || e.Type == topic {
			out = append(out, e)
		}
	}
	return out
}

// Triage event types.
const (
	EventMessageReceived = "message.received"  // transport
	EventMessageTriaged  = "message.triaged"   // transport, outcome, urgent
	EventReplySent       = "reply.sent"        // transport, level (ack|full)
	EventAlertSent       = "alert.sent"        // channels
	EventProviderResult  = "provider.result"   // provider, ok
	EventQuotaDenied     = "quota.denied"      // reason
	EventCommandExecuted = "command.executed"  // command
	EventCalendarCreated = "calendar.created"  // title
	EventRecapSent       = "recap.sent"        // trigger (schedule|command|shutdown)
	EventRulesReloaded   = "rules.reloaded"    // path
)
