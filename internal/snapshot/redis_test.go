package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

// setupTestStore spins up a miniredis server and a Store pointed at it.
func setupTestStore(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()

	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Addr = s.Addr()
	cfg.FlushInterval = 10 * time.Millisecond
	cfg.OpTimeout = 100 * time.Millisecond

	store, err := New(cfg)
	if err != nil {
		s.Close()
		t.Fatalf("failed to create store: %v", err)
	}
	return s, store
}

func TestStore_LatestWithoutDataIsNoSnapshot(t *testing.T) {
	s, store := setupTestStore(t)
	defer s.Close()
	defer store.Close()

	if _, err := store.Latest(context.Background()); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("Latest on empty store = %v, want ErrNoSnapshot", err)
	}
}

func TestStore_UpdateFlushesLatestFrame(t *testing.T) {
	s, store := setupTestStore(t)
	defer s.Close()
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.Run(ctx)

	store.Update([]byte("stale"))
	store.Update([]byte("fresh"))

	deadline := time.Now().Add(2 * time.Second)
	for {
		data, err := store.Latest(ctx)
		if err == nil && string(data) == "fresh" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("flusher never shipped the latest frame: data=%q err=%v", data, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStore_SnapshotExpires(t *testing.T) {
	s, store := setupTestStore(t)
	defer s.Close()
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.Run(ctx)

	store.Update([]byte("frame"))

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := store.Latest(ctx); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("frame never reached the store")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// No more updates; advance past the TTL and the key must be gone.
	cancel()
	s.FastForward(store.cfg.TTL + time.Second)

	if _, err := store.Latest(context.Background()); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("Latest after TTL = %v, want ErrNoSnapshot", err)
	}
}
