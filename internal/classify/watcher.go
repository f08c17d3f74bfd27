package classify

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a rules pack into a Classifier whenever the file changes.
// The parent directory is watched so editors that replace the file on save
// are still seen.
type Watcher struct {
	path       string
	classifier *Classifier
	logger     *slog.Logger
	debounce   time.Duration
	onReload   func(*RuleSet)
}

type WatcherConfig struct {
	Path       string
	Classifier *Classifier
	Logger     *slog.Logger
	Debounce   time.Duration
	// OnReload is called after a successful swap. Optional.
	OnReload func(*RuleSet)
}

func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 300 * time.Millisecond
	}
	return &Watcher{
		path:       filepath.Clean(cfg.Path),
		classifier: cfg.Classifier,
		logger:     cfg.Logger,
		debounce:   cfg.Debounce,
		onReload:   cfg.OnReload,
	}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("watching rules pack", "path", w.path)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			pending = time.After(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("rules watcher error", "err", err)
		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	rs, err := LoadRules(w.path, w.logger)
	if err != nil {
		// Keep serving the previous snapshot.
		w.logger.Error("rules reload failed", "path", w.path, "err", err)
		return
	}
	w.classifier.SetRules(rs)
	w.logger.Info("rules reloaded", "spam", len(rs.Spam), "legit", len(rs.Legit))
	if w.onReload != nil {
		w.onReload(rs)
	}
}
