// Package dispatch runs fire-and-forget side effects (usage tracking,
// security events) on a fixed pool of workers fed by a bounded queue.
// Submit never blocks: when the queue is full the task is dropped and counted.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Task is a unit of background work. Its error is logged, never returned.
type Task func(ctx context.Context) error

// Implemented by Dispatcher. Components that fire side effects depend on
// this so tests can run tasks inline.
type Submitter interface {
	Submit(kind string, fn Task) bool
}

type job struct {
	kind string
	fn   Task
}

type Dispatcher struct {
	mu      sync.RWMutex
	queue   chan job
	closed  bool
	workers int
	timeout time.Duration
	wg      sync.WaitGroup
	started sync.Once
	dropLog rate.Sometimes
}

type Config struct {
	Workers     int           // default 4
	QueueSize   int           // default 1024
	TaskTimeout time.Duration // default 10s
}

func New(cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 10 * time.Second
	}

	return &Dispatcher{
		queue:   make(chan job, cfg.QueueSize),
		workers: cfg.Workers,
		timeout: cfg.TaskTimeout,
		dropLog: rate.Sometimes{Interval: 5 * time.Second},
	}
}

// Starts the worker pool. Calling it more than once has no effect.
func (d *Dispatcher) Start() {
	d.started.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.work()
		}
	})
}

// Queues fn without blocking. Returns false if the task was dropped.
func (d *Dispatcher) Submit(kind string, fn Task) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		metrics.RecordDispatchDropped(kind)
		return false
	}

	select {
	case d.queue <- job{kind: kind, fn: fn}:
		return true
	default:
		metrics.RecordDispatchDropped(kind)
		d.dropLog.Do(func() {
			log.Warn().Str("kind", kind).Int("capacity", cap(d.queue)).Msg("Background queue full, dropping task")
		})
		return false
	}
}

// Stops accepting tasks and waits for queued ones to finish or ctx to expire
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	// Workers that were never started still need to drain the queue
	d.Start()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("dispatcher: timed out draining queue")
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()

	for j := range d.queue {
		d.run(j)
	}
}

func (d *Dispatcher) run(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			metrics.RecordDispatchFailed(j.kind)
			log.Error().Str("kind", j.kind).Str("panic", fmt.Sprint(r)).Msg("Background task panicked")
		}
	}()

	if err := j.fn(ctx); err != nil {
		metrics.RecordDispatchFailed(j.kind)
		log.Error().Err(err).Str("kind", j.kind).Msg("Background task failed")
	}
}
