package memory

import (
	"context"
	"sync"

	"standin/internal/domain"
)

// maxTrackedKeys bounds the per-key version map. Older keys are forgotten
// once exceeded; only the key being written is kept.
const maxTrackedKeys = 64

// OrderedWriter serializes snapshot writes to a RecordStore. Callers stamp
// each snapshot with a version taken under the same lock that built it; a
// snapshot older than one already written for its key is dropped, so the
// store never ends up behind memory.
type OrderedWriter struct {
	store domain.RecordStore

	mu      sync.Mutex
	written map[string]uint64
}

// NewOrderedWriter wraps store. A nil store makes Put a no-op.
func NewOrderedWriter(store domain.RecordStore) *OrderedWriter {
	return &OrderedWriter{store: store, written: make(map[string]uint64)}
}

// Put writes data under key unless a newer version of key is already stored.
func (w *OrderedWriter) Put(ctx context.Context, key string, version uint64, data []byte) error {
	if w == nil || w.store == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if version <= w.written[key] {
		return nil
	}
	if err := w.store.Put(ctx, key, data); err != nil {
		return err
	}
	if len(w.written) >= maxTrackedKeys {
		clear(w.written)
	}
	w.written[key] = version
	return nil
}
