// Package notify fans urgent-message alerts out to every configured channel.
package notify

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"standin/internal/domain"
)

// Dispatcher delivers one alert to all notifiers concurrently. A failing
// channel is logged and never blocks or fails the others.
type Dispatcher struct {
	notifiers []domain.Notifier
	logger    *slog.Logger
}

func NewDispatcher(logger *slog.Logger, notifiers ...domain.Notifier) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{notifiers: notifiers, logger: logger}
}

// Add registers another notifier. Not safe to call concurrently with Alert.
func (d *Dispatcher) Add(n domain.Notifier) {
	d.notifiers = append(d.notifiers, n)
}

// Names lists the configured channels.
func (d *Dispatcher) Names() []string {
	names := make([]string, len(d.notifiers))
	for i, n := range d.notifiers {
		names[i] = n.Name()
	}
	return names
}

// Alert sends title and message everywhere and returns how many channels
// accepted it.
func (d *Dispatcher) Alert(ctx context.Context, title, message string) int {
	if len(d.notifiers) == 0 {
		d.logger.Warn("no alert channel configured", "title", title)
		return 0
	}

	var sent atomic.Int32
	var g errgroup.Group
	for _, n := range d.notifiers {
		g.Go(func() error {
			if err := n.Notify(ctx, title, message); err != nil {
				d.logger.Error("alert delivery failed", "channel", n.Name(), "err", err)
				return nil
			}
			d.logger.Info("alert sent", "channel", n.Name())
			sent.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	if sent.Load() == 0 {
		d.logger.Warn("alert reached no channel", "title", title)
	}
	return int(sent.Load())
}
