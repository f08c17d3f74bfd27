package metrics

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"standin/internal/bus"
)

func attached(t *testing.T) (*Collector, *bus.EventBus) {
	t.Helper()
	c := NewCollector()
	eb := bus.NewEventBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.Attach(eb)
	return c, eb
}

func TestCollector_CountsTriageEvents(t *testing.T) {
	c, eb := attached(t)

	eb.Emit(bus.Event{Type: bus.EventMessageReceived, Payload: map[string]any{"transport": "telegram"}})
	eb.Emit(bus.Event{Type: bus.EventMessageTriaged, Payload: map[string]any{"outcome": "spam_filtered"}})
	eb.Emit(bus.Event{Type: bus.EventMessageTriaged, Payload: map[string]any{"outcome": "spam_filtered"}})
	eb.Emit(bus.Event{Type: bus.EventMessageTriaged, Payload: map[string]any{"outcome": "responded"}})
	eb.Emit(bus.Event{Type: bus.EventQuotaDenied, Payload: map[string]any{"reason": "daily_limit"}})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.MessagesReceived.WithLabelValues("telegram")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.MessagesTriaged.WithLabelValues("spam_filtered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.MessagesTriaged.WithLabelValues("responded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.QuotaDenials.WithLabelValues("daily_limit")))
}

func TestCollector_ProviderStatus(t *testing.T) {
	c, eb := attached(t)

	eb.Emit(bus.Event{Type: bus.EventProviderResult, Payload: map[string]any{"provider": "claude", "ok": false}})
	eb.Emit(bus.Event{Type: bus.EventProviderResult, Payload: map[string]any{"provider": "gemini", "ok": true}})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Generations.WithLabelValues("claude", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Generations.WithLabelValues("gemini", "ok")))
}

func TestCollector_AlertsAndRecaps(t *testing.T) {
	c, eb := attached(t)

	eb.Emit(bus.Event{Type: bus.EventAlertSent, Payload: map[string]any{"channels": 2}})
	eb.Emit(bus.Event{Type: bus.EventRecapSent, Payload: map[string]any{"trigger": "schedule"}})
	eb.Emit(bus.Event{Type: bus.EventCalendarCreated})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.AlertsSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Recaps.WithLabelValues("schedule")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CalendarEvents))
}

func TestCollector_Handler(t *testing.T) {
	c, eb := attached(t)
	eb.Emit(bus.Event{Type: bus.EventCommandExecuted, Payload: map[string]any{"command": "!pause"}})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `standin_commands_total{command="!pause"} 1`), body)
}

func TestCollector_IndependentRegistries(t *testing.T) {
	// Two collectors must not collide on registration.
	a := NewCollector()
	b := NewCollector()
	a.AlertsSent.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.AlertsSent))
}
