package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

const recapTick = 30 * time.Second

// RecapScheduler sends the digest summary to the owner on cron schedules.
// Several schedules may match the same minute; at most one recap goes out
// per hour.
type RecapScheduler struct {
	schedules []string
	isDue     func(expr string, ref ...time.Time) (bool, error)
	send      func(ctx context.Context) error
	loc       *time.Location
	now       func() time.Time
	logger    *slog.Logger

	mu       sync.Mutex
	lastHour string

	stopCh   chan struct{}
	stopOnce sync.Once
}

type RecapConfig struct {
	Schedules []string
	// Send delivers one recap.
	Send     func(ctx context.Context) error
	Location *time.Location
	Now      func() time.Time
	Logger   *slog.Logger
}

func NewRecapScheduler(cfg RecapConfig) *RecapScheduler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	g := gronx.New()
	valid := make([]string, 0, len(cfg.Schedules))
	for _, expr := range cfg.Schedules {
		if !g.IsValid(expr) {
			cfg.Logger.Warn("ignoring invalid recap schedule", "expr", expr)
			continue
		}
		valid = append(valid, expr)
	}
	return &RecapScheduler{
		schedules: valid,
		isDue:     g.IsDue,
		send:      cfg.Send,
		loc:       cfg.Location,
		now:       cfg.Now,
		logger:    cfg.Logger,
		stopCh:    make(chan struct{}),
	}
}

// Start blocks until ctx is cancelled or Stop is called.
func (r *RecapScheduler) Start(ctx context.Context) {
	if len(r.schedules) == 0 || r.send == nil {
		return
	}
	r.logger.Info("recap scheduler started", "schedules", r.schedules)
	ticker := time.NewTicker(recapTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("recap scheduler stopping")
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.Check(ctx)
		}
	}
}

// Stop halts the scheduler. Safe to call multiple times.
func (r *RecapScheduler) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
}

// Check sends a recap if a schedule is due this minute and none went out
// this hour. It reports whether one was sent.
func (r *RecapScheduler) Check(ctx context.Context) bool {
	now := r.now().In(r.loc).Truncate(time.Minute)
	hour := now.Format("2006-01-02T15")

	r.mu.Lock()
	if r.lastHour == hour || !r.due(now) {
		r.mu.Unlock()
		return false
	}
	r.lastHour = hour
	r.mu.Unlock()

	if err := r.send(ctx); err != nil {
		r.logger.Warn("scheduled recap failed", "err", err)
		return false
	}
	r.logger.Info("scheduled recap sent", "at", now.Format(time.Kitchen))
	return true
}

func (r *RecapScheduler) due(now time.Time) bool {
	for _, expr := range r.schedules {
		ok, err := r.isDue(expr, now)
		if err != nil {
			r.logger.Debug("recap schedule check failed", "expr", expr, "err", err)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
