package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	noEventsContext   = "Calendar: No events today or not connected"
	maxUpcoming       = 3
	defaultRefresh    = 15 * time.Minute
	agendaClockLayout = "3:04 PM"
)

// EventLister is the read side of a calendar.
type EventLister interface {
	ListEvents(ctx context.Context, from, to time.Time) ([]Event, error)
}

type AgendaConfig struct {
	Source   EventLister // nil leaves the agenda permanently empty
	Owner    string
	Location *time.Location
	Now      func() time.Time
	Logger   *slog.Logger
}

// Agenda caches today's events and renders them for the reply prompt.
type Agenda struct {
	source EventLister
	owner  string
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger

	mu        sync.RWMutex
	events    []Event
	connected bool
}

func NewAgenda(cfg AgendaConfig) *Agenda {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Agenda{
		source: cfg.Source,
		owner:  cfg.Owner,
		loc:    cfg.Location,
		now:    cfg.Now,
		logger: cfg.Logger,
	}
}

// Refresh reloads today's events. On failure the previous cache is kept.
func (a *Agenda) Refresh(ctx context.Context) error {
	if a.source == nil {
		return nil
	}
	now := a.now().In(a.loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, a.loc)
	events, err := a.source.ListEvents(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.events = events
	a.connected = true
	a.mu.Unlock()
	a.logger.Info("calendar events loaded", "count", len(events))
	return nil
}

// Run refreshes on every tick until ctx is done.
func (a *Agenda) Run(ctx context.Context, every time.Duration) {
	if a.source == nil {
		return
	}
	if every <= 0 {
		every = defaultRefresh
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Refresh(ctx); err != nil && ctx.Err() == nil {
				a.logger.Warn("calendar refresh failed", "err", err)
			}
		}
	}
}

// Today describes what is happening now and up to three upcoming events.
func (a *Agenda) Today(_ context.Context) string {
	a.mu.RLock()
	events := a.events
	connected := a.connected
	a.mu.RUnlock()

	if !connected || len(events) == 0 {
		return noEventsContext
	}

	now := a.now()
	var current *Event
	var upcoming []Event
	for i := range events {
		e := events[i]
		switch {
		case current == nil && !e.Start.After(now) && e.End.After(now):
			current = &events[i]
		case e.Start.After(now):
			upcoming = append(upcoming, e)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s's schedule today:\n", a.owner)
	if current != nil {
		fmt.Fprintf(&b, "- NOW: %s (until %s)\n", current.Summary, current.End.In(a.loc).Format(agendaClockLayout))
	}
	if len(upcoming) > maxUpcoming {
		upcoming = upcoming[:maxUpcoming]
	}
	for _, e := range upcoming {
		fmt.Fprintf(&b, "- %s: %s\n", e.Start.In(a.loc).Format(agendaClockLayout), e.Summary)
	}
	if current == nil && len(upcoming) == 0 {
		b.WriteString("- No more events today\n")
	}
	return b.String()
}
