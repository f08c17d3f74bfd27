package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"standin/internal/domain"
)

// Transports is the set of running messaging networks, keyed by name.
type Transports struct {
	mu     sync.RWMutex
	byName map[string]domain.Transport
	logger *slog.Logger
}

func NewTransports(logger *slog.Logger, ts ...domain.Transport) *Transports {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Transports{byName: make(map[string]domain.Transport), logger: logger}
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

func (r *Transports) Register(t domain.Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[t.Name()] = t
}

func (r *Transports) Get(name string) (domain.Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTransportNotFound, name)
	}
	return t, nil
}

// Names returns the registered transport names, sorted.
func (r *Transports) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Send delivers text on the named transport.
func (r *Transports) Send(ctx context.Context, transport, conversationID, text string) error {
	t, err := r.Get(transport)
	if err != nil {
		return err
	}
	return t.Send(ctx, conversationID, text)
}

// StartAll runs every transport against bus. Each Start blocks until ctx
// is done; a transport that fails to start is logged and left out.
func (r *Transports) StartAll(ctx context.Context, bus domain.MessageBus) *sync.WaitGroup {
	var wg sync.WaitGroup
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, t := range r.byName {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.logger.Info("starting transport", "transport", name)
			if err := t.Start(ctx, bus); err != nil && ctx.Err() == nil {
				r.logger.Error("transport stopped", "transport", name, "err", err)
			}
		}()
	}
	return &wg
}

// StopAll stops every transport, logging failures.
func (r *Transports) StopAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, t := range r.byName {
		if err := t.Stop(); err != nil {
			r.logger.Warn("transport stop failed", "transport", name, "err", err)
		}
	}
}
