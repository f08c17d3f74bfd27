package engine

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// SessionStats counts what happened since the process started. The digest
// covers the calendar day; these cover the run.
type SessionStats struct {
	started time.Time

	received     atomic.Int64
	responses    atomic.Int64
	acks         atomic.Int64
	urgentAlerts atomic.Int64
	spam         atomic.Int64
	ownerReplied atomic.Int64
	rateLimited  atomic.Int64
	failures     atomic.Int64
	events       atomic.Int64
}

// StatsSnapshot is a point-in-time copy of SessionStats.
type StatsSnapshot struct {
	Started      time.Time
	Received     int64
	Responses    int64
	Acks         int64
	UrgentAlerts int64
	Spam         int64
	OwnerReplied int64
	RateLimited  int64
	Failures     int64
	Events       int64
}

func newSessionStats(now time.Time) *SessionStats {
	return &SessionStats{started: now}
}

func (s *SessionStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Started:      s.started,
		Received:     s.received.Load(),
		Responses:    s.responses.Load(),
		Acks:         s.acks.Load(),
		UrgentAlerts: s.urgentAlerts.Load(),
		Spam:         s.spam.Load(),
		OwnerReplied: s.ownerReplied.Load(),
		RateLimited:  s.rateLimited.Load(),
		Failures:     s.failures.Load(),
		Events:       s.events.Load(),
	}
}

// Report renders the shutdown summary.
func (s StatsSnapshot) Report(apiCalls, apiLimit int, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\n", now.Sub(s.Started).Round(time.Second))
	fmt.Fprintf(&b, "Messages: %d\n", s.Received)
	fmt.Fprintf(&b, "Responses: %d", s.Responses)
	if s.Acks > 0 {
		fmt.Fprintf(&b, " (%d acks)", s.Acks)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Urgent alerts: %d\n", s.UrgentAlerts)
	if s.OwnerReplied > 0 {
		fmt.Fprintf(&b, "Owner replied first: %d\n", s.OwnerReplied)
	}
	if s.Spam > 0 {
		fmt.Fprintf(&b, "Spam filtered: %d\n", s.Spam)
	}
	if s.Events > 0 {
		fmt.Fprintf(&b, "Events added: %d\n", s.Events)
	}
	fmt.Fprintf(&b, "API calls: %d/%d", apiCalls, apiLimit)
	return b.String()
}
