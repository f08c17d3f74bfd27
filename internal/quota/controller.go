// Package quota meters automated replies: a sliding per-minute window and
// a daily budget keyed to the owner's calendar day.
package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"standin/internal/domain"
	"standin/internal/memory"
)

type Reason string

const (
	ReasonNone       Reason = ""
	ReasonRateWindow Reason = "rate_window"
	ReasonDailyLimit Reason = "daily_limit"
)

const stateKey = "quota/state"

type Limits struct {
	PerMinute int
	Daily     int
	Window    time.Duration
}

// State is the persisted part of the controller.
type State struct {
	Date       string `json:"date"`
	DailyCount int    `json:"daily_count"`
}

// Snapshot is a read-only view for status reports.
type Snapshot struct {
	State
	DailyLimit int
	InWindow   int
	PerMinute  int
}

// Controller serializes every admission decision behind one mutex so the
// window check and the increment cannot interleave.
type Controller struct {
	mu     sync.Mutex
	limits Limits
	loc    *time.Location
	now    func() time.Time
	store  domain.RecordStore
	writer *memory.OrderedWriter

	date    string
	version uint64 // bumped by every Save, under mu
	daily   int
	recent  []time.Time
}

type ControllerConfig struct {
	Limits   Limits
	Location *time.Location
	Store    domain.RecordStore // optional
	Now      func() time.Time   // optional, for tests
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.Limits.PerMinute <= 0 {
		cfg.Limits.PerMinute = 15
	}
	if cfg.Limits.Daily <= 0 {
		cfg.Limits.Daily = 200
	}
	if cfg.Limits.Window <= 0 {
		cfg.Limits.Window = time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{
		limits: cfg.Limits,
		loc:    cfg.Location,
		now:    cfg.Now,
		store:  cfg.Store,
		writer: memory.NewOrderedWriter(cfg.Store),
	}
}

// TryAcquire admits one call or explains why not.
func (c *Controller) TryAcquire() (bool, Reason) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.rollover(now)
	c.prune(now)

	if c.daily >= c.limits.Daily {
		return false, ReasonDailyLimit
	}
	if len(c.recent) >= c.limits.PerMinute {
		return false, ReasonRateWindow
	}
	c.recent = append(c.recent, now)
	c.daily++
	return true, ReasonNone
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.rollover(now)
	c.prune(now)
	return Snapshot{
		State:      State{Date: c.date, DailyCount: c.daily},
		DailyLimit: c.limits.Daily,
		InWindow:   len(c.recent),
		PerMinute:  c.limits.PerMinute,
	}
}

// rollover resets the daily counter the first time it runs on a new
// owner-local date. Caller holds mu.
func (c *Controller) rollover(now time.Time) {
	today := now.In(c.loc).Format(time.DateOnly)
	if c.date != today {
		c.date = today
		c.daily = 0
	}
}

// prune drops timestamps outside the window. Caller holds mu.
func (c *Controller) prune(now time.Time) {
	cutoff := now.Add(-c.limits.Window)
	i := 0
	for i < len(c.recent) && !c.recent[i].After(cutoff) {
		i++
	}
	if i > 0 {
		c.recent = append(c.recent[:0], c.recent[i:]...)
	}
}

// Save writes the daily counter to the record store. Concurrent saves
// never leave an older count stored after a newer one.
func (c *Controller) Save(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	c.mu.Lock()
	c.rollover(c.now())
	c.version++
	v := c.version
	data, err := json.Marshal(State{Date: c.date, DailyCount: c.daily})
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.writer.Put(ctx, stateKey, v, data)
}

// Load restores today's counter after a restart. A saved state from an
// earlier day is ignored.
func (c *Controller) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	data, err := c.store.Get(ctx, stateKey)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load quota state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("decode quota state: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollover(c.now())
	if st.Date == c.date && st.DailyCount > c.daily {
		c.daily = min(st.DailyCount, c.limits.Daily)
	}
	return nil
}
