package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"standin/internal/domain"
)

const (
	defaultCooldown = 30 * time.Second
	maxCooldown     = 10 * time.Minute
)

// FailoverConfig configures a FailoverProvider.
type FailoverConfig struct {
	Providers []domain.Provider
	// Cooldown is how long a member that just failed is tried last. It
	// doubles with each consecutive failure up to maxCooldown.
	Cooldown time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

type member struct {
	domain.Provider
	failures int
	benched  time.Time
}

// FailoverProvider asks each member in turn until one produces a non-empty
// reply. Members that failed recently move to the back of the line.
type FailoverProvider struct {
	mu       sync.Mutex
	members  []*member
	cooldown time.Duration
	logger   *slog.Logger
	now      func() time.Time
	onResult func(provider string, err error)
}

func NewFailoverProvider(cfg FailoverConfig) *FailoverProvider {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	fp := &FailoverProvider{cooldown: cfg.Cooldown, logger: cfg.Logger, now: cfg.Now}
	for _, p := range cfg.Providers {
		fp.members = append(fp.members, &member{Provider: p})
	}
	return fp
}

// OnResult registers a hook called after every member attempt.
func (fp *FailoverProvider) OnResult(fn func(provider string, err error)) {
	fp.onResult = fn
}

func (fp *FailoverProvider) Name() string {
	names := make([]string, 0, len(fp.members))
	for _, m := range fp.members {
		names = append(names, m.Name())
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (fp *FailoverProvider) Models() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, m := range fp.members {
		for _, model := range m.Models() {
			if _, dup := seen[model]; dup {
				continue
			}
			seen[model] = struct{}{}
			out = append(out, model)
		}
	}
	return out
}

func (fp *FailoverProvider) Healthy(ctx context.Context) error {
	var errs []error
	for _, m := range fp.members {
		err := m.Healthy(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.Name(), err))
	}
	return fmt.Errorf("no healthy provider in failover chain: %w", errors.Join(errs...))
}

// order returns members in configured order, with benched ones moved to
// the end so they are still tried when everything else is down.
func (fp *FailoverProvider) order() []*member {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	now := fp.now()
	ready := make([]*member, 0, len(fp.members))
	var benched []*member
	for _, m := range fp.members {
		if now.Before(m.benched) {
			benched = append(benched, m)
			continue
		}
		ready = append(ready, m)
	}
	return append(ready, benched...)
}

func (fp *FailoverProvider) record(m *member, err error) int {
	fp.mu.Lock()
	if err == nil {
		m.failures = 0
		m.benched = time.Time{}
	} else {
		m.failures++
		wait := fp.cooldown << min(m.failures-1, 8)
		m.benched = fp.now().Add(min(wait, maxCooldown))
	}
	failures := m.failures
	fp.mu.Unlock()

	if fp.onResult != nil {
		fp.onResult(m.Name(), err)
	}
	return failures
}

// Chat returns the first non-empty reply. A cancelled context stops the
// chain immediately.
func (fp *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if len(fp.members) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}
	var errs []error
	for i, m := range fp.order() {
		resp, err := m.Chat(ctx, req)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err == nil && (resp == nil || strings.TrimSpace(resp.Content) == "") {
			err = errors.New("empty reply")
		}
		failures := fp.record(m, err)
		if err == nil {
			if i > 0 {
				fp.logger.Info("reply from fallback provider", "provider", m.Name(), "attempt", i+1)
			}
			return resp, nil
		}
		fp.logger.Warn("provider failed", "provider", m.Name(), "attempt", i+1, "failures", failures, "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", m.Name(), err))
	}
	return nil, fmt.Errorf("all providers failed: %w", errors.Join(errs...))
}
