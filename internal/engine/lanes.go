package engine

import (
	"context"
	"sync"

	"standin/internal/domain"
)

// lane is one conversation's unbounded FIFO. push never blocks, so a
// conversation stuck in a long pacing delay cannot hold up the dispatcher.
type lane struct {
	mu     sync.Mutex
	queue  []domain.InboundMessage
	closed bool
	wake   chan struct{} // capacity 1
}

func newLane() *lane {
	return &lane{wake: make(chan struct{}, 1)}
}

func (l *lane) push(msg domain.InboundMessage) {
	l.mu.Lock()
	l.queue = append(l.queue, msg)
	l.mu.Unlock()
	l.signal()
}

func (l *lane) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.signal()
}

func (l *lane) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// next waits for the oldest queued message. ok is false once the lane is
// closed and drained, or ctx is done.
func (l *lane) next(ctx context.Context) (msg domain.InboundMessage, ok bool) {
	for {
		if ctx.Err() != nil {
			return msg, false
		}
		l.mu.Lock()
		if len(l.queue) > 0 {
			msg = l.queue[0]
			l.queue[0] = domain.InboundMessage{}
			l.queue = l.queue[1:]
			l.mu.Unlock()
			return msg, true
		}
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return msg, false
		}

		select {
		case <-l.wake:
		case <-ctx.Done():
			return msg, false
		}
	}
}

func (l *lane) pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Run consumes inbound messages until ctx is cancelled or in is closed.
// Each conversation gets its own lane so its messages are handled in
// arrival order; lanes run concurrently up to the configured limit.
func (e *Engine) Run(ctx context.Context, in <-chan domain.InboundMessage) {
	e.logger.Info("engine started", "concurrency", e.concurrency)

	sem := make(chan struct{}, e.concurrency)
	lanes := make(map[string]*lane)
	var wg sync.WaitGroup

	defer func() {
		for _, l := range lanes {
			l.close()
		}
		wg.Wait()
		e.logger.Info("engine stopped", "conversations", len(lanes))
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				e.logger.Info("inbound channel closed")
				return
			}
			key := msg.ConversationKey()
			l, ok := lanes[key]
			if !ok {
				l = newLane()
				lanes[key] = l
				wg.Add(1)
				go func() {
					defer wg.Done()
					e.runLane(ctx, l, sem)
				}()
			}
			l.push(msg)
			if n := l.pending(); n > 0 && n%50 == 0 {
				e.logger.Warn("conversation backlog growing", "conversation", key, "queued", n)
			}
		}
	}
}

// runLane processes one conversation's messages in order. On shutdown the
// remaining queue is abandoned.
func (e *Engine) runLane(ctx context.Context, l *lane, sem chan struct{}) {
	for {
		msg, ok := l.next(ctx)
		if !ok {
			return
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		e.Process(ctx, msg)
		<-sem
	}
}
