// Package bus moves inbound messages from transports to the engine and
// fans triage events out to observers such as metrics.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"standin/internal/domain"
)

const (
	defaultBufferSize = 100
	publishTimeout    = 10 * time.Second
)

// InMemoryBus is the inbound queue shared by all transports.
type InMemoryBus struct {
	inbound  chan domain.InboundMessage
	stopping chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger

	// mu guards sends against the close of inbound.
	mu     sync.RWMutex
	closed bool
}

func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		inbound:  make(chan domain.InboundMessage, bufferSize),
		stopping: make(chan struct{}),
		logger:   logger,
	}
}

// Publish enqueues msg. When the queue is full it waits up to
// publishTimeout, or until Close, and then drops the message.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.logger.Warn("publish on closed bus", "transport", msg.Transport, "message", msg.ID)
		return
	}

	select {
	case b.inbound <- msg:
		return
	default:
	}

	b.logger.Warn("inbound queue full, waiting", "transport", msg.Transport, "conversation", msg.ConversationID)
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case b.inbound <- msg:
	case <-timer.C:
		b.logger.Error("message dropped: queue full", "transport", msg.Transport, "conversation", msg.ConversationID, "message", msg.ID)
	case <-b.stopping:
		b.logger.Warn("message dropped: shutting down", "transport", msg.Transport, "message", msg.ID)
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

// Close stops accepting messages and releases publishers blocked on a full
// queue. Already queued messages can still be drained.
func (b *InMemoryBus) Close() {
	b.stopOnce.Do(func() { close(b.stopping) })

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
