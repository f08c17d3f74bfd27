// Package calendar writes parsed invites to Google Calendar and keeps a
// short agenda of the owner's day for reply prompts.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/oauth2"

	"standin/internal/domain"
)

const (
	apiBase         = "https://www.googleapis.com/calendar/v3"
	calendarScope   = "https://www.googleapis.com/auth/calendar.events"
	defaultDuration = time.Hour
	defaultReminder = 15 * time.Minute
	maxListResults  = 20
)

// googleEndpoint is Google's OAuth 2.0 endpoint for installed apps.
var googleEndpoint = oauth2.Endpoint{
	AuthURL:   "https://accounts.google.com/o/oauth2/auth",
	TokenURL:  "https://oauth2.googleapis.com/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// Event is one entry on the owner's calendar.
type Event struct {
	Summary  string
	Start    time.Time
	End      time.Time
	Location string
}

type GoogleConfig struct {
	CredentialsFile string
	TokenFile       string
	CalendarID      string
	Location        *time.Location
	Duration        time.Duration
	Reminder        time.Duration
	Logger          *slog.Logger

	// Client and BaseURL replace the OAuth client and API root in tests.
	Client  *http.Client
	BaseURL string
}

// Google talks to the Calendar v3 REST API with an OAuth 2.0 client.
type Google struct {
	client     *http.Client
	baseURL    string
	calendarID string
	loc        *time.Location
	duration   time.Duration
	reminder   time.Duration
	logger     *slog.Logger
}

// NewGoogle loads the OAuth credentials and token files. A missing file
// is reported as an error so callers can fall back to a disabled calendar.
func NewGoogle(ctx context.Context, cfg GoogleConfig) (*Google, error) {
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Duration <= 0 {
		cfg.Duration = defaultDuration
	}
	if cfg.Reminder <= 0 {
		cfg.Reminder = defaultReminder
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = apiBase
	}

	client := cfg.Client
	if client == nil {
		oc, tok, err := loadOAuth(cfg.CredentialsFile, cfg.TokenFile)
		if err != nil {
			return nil, err
		}
		client = oc.Client(ctx, tok)
	}

	return &Google{
		client:     client,
		baseURL:    cfg.BaseURL,
		calendarID: cfg.CalendarID,
		loc:        cfg.Location,
		duration:   cfg.Duration,
		reminder:   cfg.Reminder,
		logger:     cfg.Logger,
	}, nil
}

func (g *Google) Enabled() bool { return g != nil }

type eventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type reminderOverride struct {
	Method  string `json:"method"`
	Minutes int    `json:"minutes"`
}

type eventResource struct {
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       eventTime `json:"start"`
	End         eventTime `json:"end"`
	Reminders   *struct {
		UseDefault bool               `json:"useDefault"`
		Overrides  []reminderOverride `json:"overrides,omitempty"`
	} `json:"reminders,omitempty"`
}

// CreateEvent inserts ev. A zero End means the configured default duration.
func (g *Google) CreateEvent(ctx context.Context, ev domain.CalendarEvent) error {
	if ev.Start.IsZero() {
		return errors.New("calendar: event has no start time")
	}
	end := ev.End
	if end.IsZero() {
		end = ev.Start.Add(g.duration)
	}

	description := fmt.Sprintf("Auto-added from message (%s)", ev.Source)
	if ev.Link != "" {
		description = fmt.Sprintf("Link: %s\n\n%s", ev.Link, description)
	}

	res := eventResource{
		Summary:     ev.Title,
		Description: description,
		Start:       eventTime{DateTime: ev.Start.In(g.loc).Format(time.RFC3339), TimeZone: g.loc.String()},
		End:         eventTime{DateTime: end.In(g.loc).Format(time.RFC3339), TimeZone: g.loc.String()},
	}
	res.Reminders = &struct {
		UseDefault bool               `json:"useDefault"`
		Overrides  []reminderOverride `json:"overrides,omitempty"`
	}{
		Overrides: []reminderOverride{{Method: "popup", Minutes: int(g.reminder / time.Minute)}},
	}

	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("calendar: marshal event: %w", err)
	}
	endpoint := fmt.Sprintf("%s/calendars/%s/events", g.baseURL, url.PathEscape(g.calendarID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("calendar: insert event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("calendar: insert event: HTTP %d: %s", resp.StatusCode, b)
	}

	g.logger.Info("calendar event created", "title", ev.Title, "start", ev.Start.In(g.loc))
	return nil
}

// ListEvents returns single events overlapping [from, to) ordered by start.
func (g *Google) ListEvents(ctx context.Context, from, to time.Time) ([]Event, error) {
	q := url.Values{}
	q.Set("timeMin", from.Format(time.RFC3339))
	q.Set("timeMax", to.Format(time.RFC3339))
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")
	q.Set("maxResults", fmt.Sprint(maxListResults))
	endpoint := fmt.Sprintf("%s/calendars/%s/events?%s", g.baseURL, url.PathEscape(g.calendarID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar: list events: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("calendar: list events: HTTP %d: %s", resp.StatusCode, b)
	}

	var out struct {
		Items []eventResource `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("calendar: decode events: %w", err)
	}

	events := make([]Event, 0, len(out.Items))
	for _, it := range out.Items {
		summary := it.Summary
		if summary == "" {
			summary = "Untitled"
		}
		events = append(events, Event{
			Summary:  summary,
			Start:    g.parseTime(it.Start),
			End:      g.parseTime(it.End),
			Location: it.Location,
		})
	}
	return events, nil
}

func (g *Google) parseTime(t eventTime) time.Time {
	if t.DateTime != "" {
		if ts, err := time.Parse(time.RFC3339, t.DateTime); err == nil {
			return ts
		}
	}
	if t.Date != "" {
		if ts, err := time.ParseInLocation("2006-01-02", t.Date, g.loc); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// credentialsFile is the client secret JSON downloaded from the Google
// Cloud console. Either "installed" or "web" is populated.
type credentialsFile struct {
	Installed *clientSecret `json:"installed"`
	Web       *clientSecret `json:"web"`
}

type clientSecret struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	RedirectURIs []string `json:"redirect_uris"`
}

// tokenFile accepts both the oauth2.Token layout and the millisecond
// expiry_date field written by other Google client libraries.
type tokenFile struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
	ExpiryDate   int64     `json:"expiry_date"`
}

func loadOAuth(credentialsPath, tokenPath string) (*oauth2.Config, *oauth2.Token, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("calendar: read credentials: %w", err)
	}
	var creds credentialsFile
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, nil, fmt.Errorf("calendar: parse credentials: %w", err)
	}
	secret := creds.Installed
	if secret == nil {
		secret = creds.Web
	}
	if secret == nil || secret.ClientID == "" {
		return nil, nil, errors.New("calendar: credentials file has no client id")
	}

	data, err = os.ReadFile(tokenPath)
	if err != nil {
		return nil, nil, fmt.Errorf("calendar: read token: %w", err)
	}
	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, nil, fmt.Errorf("calendar: parse token: %w", err)
	}
	if tf.RefreshToken == "" && tf.AccessToken == "" {
		return nil, nil, errors.New("calendar: token file is empty")
	}
	tok := &oauth2.Token{
		AccessToken:  tf.AccessToken,
		RefreshToken: tf.RefreshToken,
		TokenType:    tf.TokenType,
		Expiry:       tf.Expiry,
	}
	if tok.Expiry.IsZero() && tf.ExpiryDate > 0 {
		tok.Expiry = time.UnixMilli(tf.ExpiryDate)
	}

	redirect := ""
	if len(secret.RedirectURIs) > 0 {
		redirect = secret.RedirectURIs[0]
	}
	return &oauth2.Config{
		ClientID:     secret.ClientID,
		ClientSecret: secret.ClientSecret,
		RedirectURL:  redirect,
		Scopes:       []string{calendarScope},
		Endpoint:     googleEndpoint,
	}, tok, nil
}
