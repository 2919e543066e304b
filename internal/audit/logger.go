// Package audit persists a record of every request off the request path and
// expires old records.
package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/metrics"
	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type LogStore interface {
	CreateBatch(ctx context.Context, logs []models.RequestLog) error
}

type Config struct {
	BufferSize    int           // default 10000
	BatchSize     int           // default 100
	FlushInterval time.Duration // default 5s
	WriteTimeout  time.Duration // default 10s
}

// RequestLogger buffers request logs and writes them in batches from a single
// goroutine. Log never blocks; a full buffer drops the entry.
type RequestLogger struct {
	store         LogStore
	entries       chan models.RequestLog
	batchSize     int
	flushInterval time.Duration
	writeTimeout  time.Duration

	mu      sync.RWMutex
	closed  bool
	started sync.Once
	done    chan struct{}
	dropLog rate.Sometimes
}

func NewRequestLogger(store LogStore, cfg Config) *RequestLogger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	return &RequestLogger{
		store:         store,
		entries:       make(chan models.RequestLog, cfg.BufferSize),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		writeTimeout:  cfg.WriteTimeout,
		done:          make(chan struct{}),
		dropLog:       rate.Sometimes{Interval: 5 * time.Second},
	}
}

// Starts the background writer. Calling it more than once has no effect.
func (l *RequestLogger) Start() {
	l.started.Do(func() {
		go l.run()
	})
}

// Queues entry for writing. Returns false if it was dropped.
func (l *RequestLogger) Log(entry models.RequestLog) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return false
	}

	select {
	case l.entries <- entry:
		return true
	default:
		metrics.RecordAuditDropped()
		l.dropLog.Do(func() {
			log.Warn().Int("capacity", cap(l.entries)).Msg("Request log buffer full, dropping entries")
		})
		return false
	}
}

// Stops accepting entries and flushes what is buffered, waiting at most
// until ctx expires
func (l *RequestLogger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.entries)
	}
	l.mu.Unlock()

	l.Start()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return errors.New("audit: timed out flushing request logs")
	}
}

func (l *RequestLogger) run() {
	defer close(l.done)

	batch := make([]models.RequestLog, 0, l.batchSize)
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry, ok := <-l.entries:
			if !ok {
				l.flush(batch)
				return
			}

			batch = append(batch, entry)
			if len(batch) >= l.batchSize {
				l.flush(batch)
				batch = make([]models.RequestLog, 0, l.batchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = make([]models.RequestLog, 0, l.batchSize)
			}
		}
	}
}

// Write failures are logged and the batch is discarded
func (l *RequestLogger) flush(batch []models.RequestLog) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.writeTimeout)
	defer cancel()

	if err := l.store.CreateBatch(ctx, batch); err != nil {
		log.Error().Err(err).Int("entries", len(batch)).Msg("Failed to insert request logs")
	}
}
