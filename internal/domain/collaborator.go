package domain

import (
	"context"
	"time"
)

// CalendarEvent is a parsed invite ready to be written to a calendar.
type CalendarEvent struct {
	Title  string
	Start  time.Time
	End    time.Time
	Link   string
	Source string // sender the invite came from
}

// Calendar writes invites back to the owner's calendar.
type Calendar interface {
	Enabled() bool
	CreateEvent(ctx context.Context, ev CalendarEvent) error
}

// Agenda supplies a short description of the owner's day for prompts.
type Agenda interface {
	Today(ctx context.Context) string
}

// Notifier delivers an urgent alert to the owner.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, title, message string) error
}
