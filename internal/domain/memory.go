package domain

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("record not found")

// RecordStore is a keyed blob store for digests, quota state and persona memory.
type RecordStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}
