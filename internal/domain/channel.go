package domain

import (
	"context"
	"errors"
	"time"
)

var ErrTransportNotFound = errors.New("transport not found")

// Transport is a messaging network the persona answers on.
type Transport interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
	Send(ctx context.Context, conversationID string, text string) error
	// MessagesSince lists messages in the conversation at or after since.
	MessagesSince(ctx context.Context, conversationID string, since time.Time) ([]ObservedMessage, error)
}
