package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_PruneRemovesElapsedWindows(t *testing.T) {
	store, clock := newTestStore()
	ctx := context.Background()

	store.Increment(ctx, "short", time.Minute)
	store.Increment(ctx, "long", time.Hour)

	clock.Advance(2 * time.Minute)

	if pruned := store.prune(); pruned != 1 {
		t.Errorf("Expected 1 pruned window, got %d", pruned)
	}

	count, _, _ := store.Increment(ctx, "long", time.Hour)
	if count != 2 {
		t.Errorf("Expected long window to survive pruning, count = %d", count)
	}
	count, _, _ = store.Increment(ctx, "short", time.Minute)
	if count != 1 {
		t.Errorf("Expected short window to restart, count = %d", count)
	}
}

func TestMemoryStore_StartStop(t *testing.T) {
	store := NewMemoryStore(10 * time.Millisecond)
	store.Start()
	store.Stop()
	store.Stop()
}
