package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const memoryShards = 64

type window struct {
	count   int64
	resetAt time.Time
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// Process-local counter store. Keys are spread over independently locked
// shards so unrelated subjects never contend on one lock. Counters are lost
// on restart and are not shared between instances.
type MemoryStore struct {
	shards   [memoryShards]*shard
	now      func() time.Time
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	return newMemoryStore(cleanupInterval, time.Now)
}

func newMemoryStore(cleanupInterval time.Duration, now func() time.Time) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	m := &MemoryStore{
		now:      now,
		interval: cleanupInterval,
		stopChan: make(chan struct{}),
	}
	for i := range m.shards {
		m.shards[i] = &shard{windows: make(map[string]*window)}
	}
	return m
}

func (m *MemoryStore) Increment(ctx context.Context, key string, length time.Duration) (int64, time.Time, error) {
	s := m.shardFor(key)
	now := m.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{count: 0, resetAt: now.Add(length)}
		s.windows[key] = w
	}
	w.count++

	return w.count, w.resetAt, nil
}

// Starts the background pruning of elapsed windows
func (m *MemoryStore) Start() {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := m.prune(); n > 0 {
					log.Debug().Int("pruned", n).Msg("Pruned elapsed rate limit windows")
				}
			case <-m.stopChan:
				return
			}
		}
	}()
}

func (m *MemoryStore) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
}

func (m *MemoryStore) prune() int {
	now := m.now()
	pruned := 0

	for _, s := range m.shards {
		s.mu.Lock()
		for key, w := range s.windows {
			if !now.Before(w.resetAt) {
				delete(s.windows, key)
				pruned++
			}
		}
		s.mu.Unlock()
	}

	return pruned
}

func (m *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[h.Sum32()%memoryShards]
}
