package usage

import (
	"context"
	"sync"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/google/uuid"
)

// Persists a key's usage: increments its counter and replaces its recent
// history. Writes only apply while keyHash is still the key's current hash;
// current reports whether the row was updated.
type Store interface {
	RecordUsage(ctx context.Context, id uuid.UUID, keyHash string, recent []models.UsageEntry, usedAt time.Time) (current bool, err error)
}

type history struct {
	mu        sync.Mutex
	hash      string
	ring      *Ring[models.UsageEntry]
	discarded bool
}

// Tracker keeps each key's recent usage in memory and writes a snapshot on
// every use. Writes for the same key are serialized so a later snapshot never
// lands before an earlier one. A history belongs to one generation of a key
// (its hash); uses of a rotated or deleted generation are dropped.
type Tracker struct {
	store    Store
	capacity int

	mu      sync.Mutex
	keys    map[uuid.UUID]*history
	retired map[string]struct{}
}

func NewTracker(store Store, capacity int) *Tracker {
	if capacity <= 0 {
		capacity = models.RecentUsageCapacity
	}
	return &Tracker{
		store:    store,
		capacity: capacity,
		keys:     make(map[uuid.UUID]*history),
		retired:  make(map[string]struct{}),
	}
}

// Records one use of key. The ring is seeded from the key's persisted
// history the first time this generation is seen by this process.
func (t *Tracker) Record(ctx context.Context, key *models.APIKey, entry models.UsageEntry) error {
	for {
		h, tracked := t.history(key)
		if h == nil {
			return nil
		}

		h.mu.Lock()
		if h.discarded {
			h.mu.Unlock()
			continue
		}

		h.ring.Push(entry)
		current, err := t.store.RecordUsage(ctx, key.ID, key.KeyHash, h.ring.Items(), entry.Timestamp)
		h.mu.Unlock()

		switch {
		case err != nil:
			return err
		case !current:
			// Rotated or deleted elsewhere
			t.retire(key.ID, key.KeyHash)
		case !tracked:
			t.adopt(key.ID, h)
		}
		return nil
	}
}

// Returns the in-memory history for id, oldest first
func (t *Tracker) Recent(id uuid.UUID) []models.UsageEntry {
	t.mu.Lock()
	h, ok := t.keys[id]
	t.mu.Unlock()

	if !ok {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ring.Items()
}

// Drops the in-memory history for id and retires keyHash so uses queued
// before a rotation or deletion are discarded. Waits for any in-flight write.
func (t *Tracker) Forget(id uuid.UUID, keyHash string) {
	t.mu.Lock()
	t.retired[keyHash] = struct{}{}
	h, ok := t.keys[id]
	delete(t.keys, id)
	t.mu.Unlock()

	if ok {
		discard(h)
	}
}

// Returns the history for key's generation. tracked is false when another
// generation is mapped for the id; the returned history is then private to
// the caller until the store confirms which generation is current.
func (t *Tracker) history(key *models.APIKey) (h *history, tracked bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, gone := t.retired[key.KeyHash]; gone {
		return nil, false
	}

	existing, ok := t.keys[key.ID]
	if ok && existing.hash == key.KeyHash {
		return existing, true
	}

	ring := NewRing[models.UsageEntry](t.capacity)
	seed := key.RecentUsage
	if len(seed) > t.capacity {
		seed = seed[len(seed)-t.capacity:]
	}
	for _, e := range seed {
		ring.Push(e)
	}

	h = &history{hash: key.KeyHash, ring: ring}
	if ok {
		return h, false
	}
	t.keys[key.ID] = h
	return h, true
}

// Installs h as the current generation after the store accepted its write
func (t *Tracker) adopt(id uuid.UUID, h *history) {
	t.mu.Lock()
	old, ok := t.keys[id]
	if ok && old.hash == h.hash {
		t.mu.Unlock()
		return
	}
	if ok {
		t.retired[old.hash] = struct{}{}
	}
	t.keys[id] = h
	t.mu.Unlock()

	if ok {
		discard(old)
	}
}

func (t *Tracker) retire(id uuid.UUID, keyHash string) {
	t.mu.Lock()
	t.retired[keyHash] = struct{}{}
	h, ok := t.keys[id]
	if ok && h.hash == keyHash {
		delete(t.keys, id)
	} else {
		ok = false
	}
	t.mu.Unlock()

	if ok {
		discard(h)
	}
}

func discard(h *history) {
	h.mu.Lock()
	h.discarded = true
	h.mu.Unlock()
}
