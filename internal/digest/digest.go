// Package digest keeps the per-day log of inbound traffic and what the
// persona did about it.
package digest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"standin/internal/domain"
	"standin/internal/memory"
)

type Outcome string

const (
	OutcomeResponded    Outcome = "responded"
	OutcomeSkipped      Outcome = "skipped"
	OutcomePaused       Outcome = "paused"
	OutcomeRateLimited  Outcome = "rate_limited"
	OutcomeOwnerReplied Outcome = "owner_replied"
	OutcomeFailed       Outcome = "send_failed"
	OutcomeGeneration   Outcome = "generation_failed"
	OutcomeSpam         Outcome = "spam"
	OutcomeEvent        Outcome = "event"
	OutcomeAttachment   Outcome = "attachment"
)

const previewLen = 100

type Entry struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Sender         string    `json:"sender"`
	Preview        string    `json:"preview"`
	WasUrgent      bool      `json:"was_urgent"`
	DidRespond     bool      `json:"did_respond"`
	ConversationID string    `json:"conversation_id"`
	IsGroup        bool      `json:"is_group"`
	Outcome        Outcome   `json:"outcome"`
}

type Stats struct {
	TotalMessages int `json:"total_messages"`
	UniqueSenders int `json:"unique_senders"`
	UrgentCount   int `json:"urgent_count"`
	AIResponses   int `json:"ai_responses"`
	GroupMessages int `json:"group_messages"`
	DMMessages    int `json:"dm_messages"`
	SpamFiltered  int `json:"spam_filtered"`
	RateLimited   int `json:"rate_limited"`
	OwnerReplied  int `json:"owner_replied"`
}

type Daily struct {
	Date    string  `json:"date"`
	Entries []Entry `json:"entries"`
	Stats   Stats   `json:"stats"`
}

type Config struct {
	Store    domain.RecordStore // optional
	Location *time.Location
	TopN     int
	Now      func() time.Time
	Logger   *slog.Logger
}

// Aggregator owns today's digest. Every mutation is written through to the
// store so a restart keeps the day's history.
type Aggregator struct {
	mu      sync.Mutex
	store   domain.RecordStore
	writer  *memory.OrderedWriter
	version uint64 // bumped with every persisted change, under mu
	loc     *time.Location
	topN    int
	now     func() time.Time
	logger  *slog.Logger
	current *Daily
}

func New(cfg Config) *Aggregator {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Aggregator{
		store:  cfg.Store,
		writer: memory.NewOrderedWriter(cfg.Store),
		loc:    cfg.Location,
		topN:   cfg.TopN,
		now:    cfg.Now,
		logger: cfg.Logger,
	}
}

func storeKey(date string) string { return "digest/" + date }

// Load restores today's digest from the store, if any.
func (a *Aggregator) Load(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	today := a.today()
	a.current = &Daily{Date: today}
	if a.store == nil {
		return nil
	}
	data, err := a.store.Get(ctx, storeKey(today))
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load digest: %w", err)
	}
	var d Daily
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("decode digest: %w", err)
	}
	d.Date = today
	a.current = &d
	return nil
}

// Record appends e to today's digest.
func (a *Aggregator) Record(ctx context.Context, e Entry) error {
	a.mu.Lock()
	d := a.rolloverLocked()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = a.now()
	}
	e.Preview = Preview(e.Preview)
	d.Entries = append(d.Entries, e)
	d.Stats = derive(d.Entries, d.Stats)
	a.version++
	v := a.version
	data, err := json.Marshal(d)
	a.mu.Unlock()

	if err != nil {
		return err
	}
	return a.persist(ctx, d.Date, v, data)
}

// CountSpam bumps the filtered-spam counter without logging an entry, so
// spammers never show up in the people ranking.
func (a *Aggregator) CountSpam(ctx context.Context) error {
	a.mu.Lock()
	d := a.rolloverLocked()
	d.Stats.SpamFiltered++
	a.version++
	v := a.version
	data, err := json.Marshal(d)
	a.mu.Unlock()
	if err != nil {
		return err
	}
	return a.persist(ctx, d.Date, v, data)
}

// persist writes a snapshot taken at version v. Lanes record concurrently,
// so a slow write of an older snapshot must not land after a newer one.
func (a *Aggregator) persist(ctx context.Context, date string, v uint64, data []byte) error {
	if err := a.writer.Put(ctx, storeKey(date), v, data); err != nil {
		a.logger.Warn("digest persist failed", "date", date, "err", err)
		return err
	}
	return nil
}

// Current returns a copy of today's digest.
func (a *Aggregator) Current() Daily {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.rolloverLocked()
	out := *d
	out.Entries = append([]Entry(nil), d.Entries...)
	return out
}

func (a *Aggregator) today() string {
	return a.now().In(a.loc).Format(time.DateOnly)
}

// rolloverLocked swaps in an empty digest the first time it runs on a new
// date. The previous day is left in the store untouched.
func (a *Aggregator) rolloverLocked() *Daily {
	today := a.today()
	if a.current == nil || a.current.Date != today {
		if a.current != nil {
			a.logger.Info("digest rolled over", "from", a.current.Date, "to", today)
		}
		a.current = &Daily{Date: today}
	}
	return a.current
}

// derive recomputes entry-based counters. Counters not backed by entries
// (spam) carry over from prev.
func derive(entries []Entry, prev Stats) Stats {
	s := Stats{SpamFiltered: prev.SpamFiltered}
	senders := make(map[string]struct{})
	for _, e := range entries {
		s.TotalMessages++
		senders[e.Sender] = struct{}{}
		if e.WasUrgent {
			s.UrgentCount++
		}
		if e.DidRespond {
			s.AIResponses++
		}
		if e.IsGroup {
			s.GroupMessages++
		} else {
			s.DMMessages++
		}
		switch e.Outcome {
		case OutcomeRateLimited:
			s.RateLimited++
		case OutcomeOwnerReplied:
			s.OwnerReplied++
		}
	}
	s.UniqueSenders = len(senders)
	return s
}

// Preview shortens text to the digest preview length.
func Preview(text string) string {
	r := []rune(text)
	if len(r) <= previewLen {
		return text
	}
	return string(r[:previewLen]) + "..."
}
