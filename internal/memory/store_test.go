package memory

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"standin/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestSQLiteStore_PutGetOverwrite(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "standin.db"), testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Put(ctx, "digest/2026-01-02", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, "digest/2026-01-02", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := store.Get(ctx, "digest/2026-01-02")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"a":2}` {
		t.Errorf("got %s", got)
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "standin.db")
	store, err := NewSQLiteStore(path, testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Put(context.Background(), "quota", []byte("7")); err != nil {
		t.Fatalf("put: %v", err)
	}
	store.Close()

	store, err = NewSQLiteStore(path, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	got, err := store.Get(context.Background(), "quota")
	if err != nil || string(got) != "7" {
		t.Fatalf("expected persisted value, got %q err=%v", got, err)
	}
}

func TestSQLiteStore_Prune(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "standin.db"), testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	_ = store.Put(ctx, "old", []byte("x"))

	n, err := store.Prune(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned, got %d", n)
	}
}

func TestMapStore_CopiesValues(t *testing.T) {
	m := NewMapStore()
	buf := []byte("abc")
	_ = m.Put(context.Background(), "k", buf)
	buf[0] = 'z'
	got, _ := m.Get(context.Background(), "k")
	if string(got) != "abc" {
		t.Errorf("store aliased caller buffer: %s", got)
	}
}

func TestSQLiteStore_MigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "standin.db")
	for range 2 {
		store, err := NewSQLiteStore(path, testLogger())
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		var version int
		if err := store.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
			t.Fatalf("user_version: %v", err)
		}
		if version != len(migrations) {
			t.Errorf("user_version = %d, want %d", version, len(migrations))
		}
		if err := store.Ping(context.Background()); err != nil {
			t.Errorf("ping: %v", err)
		}
		store.Close()
	}
}

func TestSQLiteStore_Snapshot(t *testing.T) {
	dir := t.TempDir()
	store, err := NewSQLiteStore(filepath.Join(dir, "standin.db"), testLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	if err := store.Put(ctx, "quota/state", []byte(`{"daily":3}`)); err != nil {
		t.Fatalf("put: %v", err)
	}

	dest := filepath.Join(dir, "snap", "standin.db")
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := store.Snapshot(ctx, dest); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := store.Snapshot(ctx, dest); err == nil {
		t.Fatal("expected error when the destination exists")
	}

	snap, err := NewSQLiteStore(dest, testLogger())
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer snap.Close()
	got, err := snap.Get(ctx, "quota/state")
	if err != nil || string(got) != `{"daily":3}` {
		t.Fatalf("snapshot content = %q, %v", got, err)
	}
}
