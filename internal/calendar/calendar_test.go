package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"standin/internal/domain"
)

var chicago = time.FixedZone("CST", -5*3600)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGoogle(t *testing.T, h http.HandlerFunc) *Google {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	g, err := NewGoogle(context.Background(), GoogleConfig{
		Location: chicago,
		Logger:   quietLogger(),
		Client:   srv.Client(),
		BaseURL:  srv.URL,
	})
	require.NoError(t, err)
	return g
}

func TestGoogle_CreateEvent(t *testing.T) {
	var got eventResource
	var path string
	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"id":"evt1"}`))
	})

	start := time.Date(2026, 10, 22, 14, 0, 0, 0, chicago)
	err := g.CreateEvent(context.Background(), domain.CalendarEvent{
		Title:  "Sprint Review",
		Start:  start,
		Link:   "https://zoom.us/j/123",
		Source: "Priya",
	})
	require.NoError(t, err)

	assert.Equal(t, "/calendars/primary/events", path)
	assert.Equal(t, "Sprint Review", got.Summary)
	assert.Equal(t, "2026-10-22T14:00:00-05:00", got.Start.DateTime)
	assert.Equal(t, "2026-10-22T15:00:00-05:00", got.End.DateTime)
	assert.Equal(t, "Link: https://zoom.us/j/123\n\nAuto-added from message (Priya)", got.Description)
	require.NotNil(t, got.Reminders)
	assert.False(t, got.Reminders.UseDefault)
	assert.Equal(t, []reminderOverride{{Method: "popup", Minutes: 15}}, got.Reminders.Overrides)
}

func TestGoogle_CreateEventRejectsUntimed(t *testing.T) {
	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	assert.Error(t, g.CreateEvent(context.Background(), domain.CalendarEvent{Title: "x"}))
}

func TestGoogle_CreateEventHTTPError(t *testing.T) {
	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusUnauthorized)
	})
	err := g.CreateEvent(context.Background(), domain.CalendarEvent{Title: "x", Start: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestGoogle_ListEvents(t *testing.T) {
	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("singleEvents"))
		assert.Equal(t, "startTime", q.Get("orderBy"))
		w.Write([]byte(`{"items":[
			{"summary":"Standup","start":{"dateTime":"2026-10-19T09:00:00-05:00"},"end":{"dateTime":"2026-10-19T09:15:00-05:00"}},
			{"start":{"date":"2026-10-19"},"end":{"date":"2026-10-20"}}
		]}`))
	})

	from := time.Date(2026, 10, 19, 0, 0, 0, 0, chicago)
	events, err := g.ListEvents(context.Background(), from, from.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Standup", events[0].Summary)
	assert.Equal(t, 15*time.Minute, events[0].End.Sub(events[0].Start))
	assert.Equal(t, "Untitled", events[1].Summary)
	assert.True(t, events[1].Start.Equal(from))
}

func TestLoadOAuth(t *testing.T) {
	dir := t.TempDir()
	creds := filepath.Join(dir, "creds.json")
	token := filepath.Join(dir, "token.json")
	require.NoError(t, os.WriteFile(creds, []byte(`{"installed":{"client_id":"cid","client_secret":"sec","redirect_uris":["http://localhost"]}}`), 0o600))
	require.NoError(t, os.WriteFile(token, []byte(`{"access_token":"at","refresh_token":"rt","expiry_date":1790000000000}`), 0o600))

	cfg, tok, err := loadOAuth(creds, token)
	require.NoError(t, err)
	assert.Equal(t, "cid", cfg.ClientID)
	assert.Equal(t, "http://localhost", cfg.RedirectURL)
	assert.Equal(t, googleEndpoint.TokenURL, cfg.Endpoint.TokenURL)
	assert.Equal(t, "rt", tok.RefreshToken)
	assert.Equal(t, int64(1790000000000), tok.Expiry.UnixMilli())
}

func TestLoadOAuth_WebCredentials(t *testing.T) {
	dir := t.TempDir()
	creds := filepath.Join(dir, "creds.json")
	token := filepath.Join(dir, "token.json")
	require.NoError(t, os.WriteFile(creds, []byte(`{"web":{"client_id":"web-id"}}`), 0o600))
	require.NoError(t, os.WriteFile(token, []byte(`{"refresh_token":"rt"}`), 0o600))

	cfg, _, err := loadOAuth(creds, token)
	require.NoError(t, err)
	assert.Equal(t, "web-id", cfg.ClientID)
}

func TestLoadOAuth_MissingFiles(t *testing.T) {
	_, _, err := loadOAuth("/nope/creds.json", "/nope/token.json")
	assert.Error(t, err)
}

type staticLister struct {
	events []Event
	err    error
}

func (s staticLister) ListEvents(context.Context, time.Time, time.Time) ([]Event, error) {
	return s.events, s.err
}

func at(h, m int) time.Time { return time.Date(2026, 10, 19, h, m, 0, 0, chicago) }

func TestAgenda_NotConnected(t *testing.T) {
	a := NewAgenda(AgendaConfig{Owner: "Kyle", Location: chicago, Logger: quietLogger()})
	require.NoError(t, a.Refresh(context.Background()))
	assert.Equal(t, noEventsContext, a.Today(context.Background()))
}

func TestAgenda_NowAndUpcoming(t *testing.T) {
	src := staticLister{events: []Event{
		{Summary: "Breakfast", Start: at(8, 0), End: at(9, 0)},
		{Summary: "Dentist", Start: at(10, 0), End: at(11, 0)},
		{Summary: "Lunch", Start: at(12, 0), End: at(13, 0)},
		{Summary: "1:1", Start: at(14, 30), End: at(15, 0)},
		{Summary: "Gym", Start: at(17, 0), End: at(18, 0)},
		{Summary: "Dinner", Start: at(19, 0), End: at(20, 0)},
	}}
	a := NewAgenda(AgendaConfig{
		Source:   src,
		Owner:    "Kyle",
		Location: chicago,
		Now:      func() time.Time { return at(10, 30) },
		Logger:   quietLogger(),
	})
	require.NoError(t, a.Refresh(context.Background()))

	want := "Kyle's schedule today:\n" +
		"- NOW: Dentist (until 11:00 AM)\n" +
		"- 12:00 PM: Lunch\n" +
		"- 2:30 PM: 1:1\n" +
		"- 5:00 PM: Gym\n"
	assert.Equal(t, want, a.Today(context.Background()))
}

func TestAgenda_DayOver(t *testing.T) {
	src := staticLister{events: []Event{{Summary: "Standup", Start: at(9, 0), End: at(9, 15)}}}
	a := NewAgenda(AgendaConfig{
		Source:   src,
		Owner:    "Kyle",
		Location: chicago,
		Now:      func() time.Time { return at(21, 0) },
		Logger:   quietLogger(),
	})
	require.NoError(t, a.Refresh(context.Background()))
	assert.Equal(t, "Kyle's schedule today:\n- No more events today\n", a.Today(context.Background()))
}

func TestAgenda_RefreshFailureKeepsCache(t *testing.T) {
	lister := &switchLister{events: []Event{{Summary: "Call", Start: at(15, 0), End: at(16, 0)}}}
	a := NewAgenda(AgendaConfig{
		Source:   lister,
		Owner:    "Kyle",
		Location: chicago,
		Now:      func() time.Time { return at(9, 0) },
		Logger:   quietLogger(),
	})
	require.NoError(t, a.Refresh(context.Background()))

	lister.err = errors.New("token expired")
	assert.Error(t, a.Refresh(context.Background()))
	assert.Contains(t, a.Today(context.Background()), "3:00 PM: Call")
}

type switchLister struct {
	events []Event
	err    error
}

func (s *switchLister) ListEvents(context.Context, time.Time, time.Time) ([]Event, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.events, nil
}
