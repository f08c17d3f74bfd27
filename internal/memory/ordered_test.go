package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type gatedStore struct {
	*MapStore
	mu      sync.Mutex
	entered chan struct{}
	gate    chan struct{}
	calls   int
	fail    error
}

func (g *gatedStore) Put(ctx context.Context, key string, value []byte) error {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()
	if first && g.gate != nil {
		close(g.entered)
		<-g.gate
	}
	if g.fail != nil {
		return g.fail
	}
	return g.MapStore.Put(ctx, key, value)
}

func TestOrderedWriter_DropsOlderVersion(t *testing.T) {
	store := &gatedStore{MapStore: NewMapStore()}
	w := NewOrderedWriter(store)
	ctx := context.Background()

	if err := w.Put(ctx, "k", 2, []byte("two")); err != nil {
		t.Fatalf("put v2: %v", err)
	}
	if err := w.Put(ctx, "k", 1, []byte("one")); err != nil {
		t.Fatalf("put v1: %v", err)
	}
	got, _ := store.Get(ctx, "k")
	if string(got) != "two" {
		t.Fatalf("stored %q, want the newer snapshot", got)
	}
	if store.calls != 1 {
		t.Fatalf("stale snapshot reached the store: %d puts", store.calls)
	}

	// versions are tracked per key
	if err := w.Put(ctx, "other", 1, []byte("x")); err != nil {
		t.Fatalf("put other: %v", err)
	}
	if got, _ := store.Get(ctx, "other"); string(got) != "x" {
		t.Fatalf("other key = %q", got)
	}
}

func TestOrderedWriter_SlowWriteIsNotOvertaken(t *testing.T) {
	store := &gatedStore{MapStore: NewMapStore(), entered: make(chan struct{}), gate: make(chan struct{})}
	w := NewOrderedWriter(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.Put(ctx, "k", 1, []byte("one"))
	}()
	<-store.entered
	go func() {
		defer wg.Done()
		w.Put(ctx, "k", 2, []byte("two"))
	}()
	close(store.gate)
	wg.Wait()

	got, _ := store.Get(ctx, "k")
	if string(got) != "two" {
		t.Fatalf("stored %q after concurrent writes, want two", got)
	}
}

func TestOrderedWriter_FailedPutCanBeRetried(t *testing.T) {
	store := &gatedStore{MapStore: NewMapStore(), fail: errors.New("disk full")}
	w := NewOrderedWriter(store)
	ctx := context.Background()

	if err := w.Put(ctx, "k", 1, []byte("one")); err == nil {
		t.Fatal("expected store error")
	}
	store.fail = nil
	if err := w.Put(ctx, "k", 1, []byte("one")); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got, _ := store.Get(ctx, "k"); string(got) != "one" {
		t.Fatalf("stored %q", got)
	}
}

func TestOrderedWriter_NilStore(t *testing.T) {
	if err := NewOrderedWriter(nil).Put(context.Background(), "k", 1, nil); err != nil {
		t.Fatalf("nil store: %v", err)
	}
}
