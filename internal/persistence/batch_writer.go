// Package persistence buffers writes so hot paths never wait on the database.
package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// BatchWriter buffers items and flushes them when the buffer is full, on a
// timer, and on Close.
type BatchWriter[T any] struct {
	flush    func(ctx context.Context, batch []T) error
	maxSize  int
	interval time.Duration
	log      *zap.Logger

	mu     sync.Mutex
	buffer []T

	done    chan struct{}
	closed  atomic.Bool
	wg      sync.WaitGroup
	metrics counters
}

type counters struct {
	writes    atomic.Uint64
	batches   atomic.Uint64
	errors    atomic.Uint64
	lastSize  atomic.Int64
	lastFlush atomic.Int64 // unix ms
}

// Metrics are batch statistics for the status API.
type Metrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// NewBatchWriter starts the background flusher. flush should write a batch
// all-or-nothing. maxSize defaults to 50 and interval to 500ms.
func NewBatchWriter[T any](flush func(ctx context.Context, batch []T) error, maxSize int, interval time.Duration, log *zap.Logger) *BatchWriter[T] {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	bw := &BatchWriter[T]{
		flush:    flush,
		maxSize:  maxSize,
		interval: interval,
		log:      log,
		buffer:   make([]T, 0, maxSize),
		done:     make(chan struct{}),
	}
	bw.wg.Add(1)
	go bw.backgroundFlush()
	return bw
}

// Write buffers item and flushes synchronously once the buffer is full.
func (bw *BatchWriter[T]) Write(ctx context.Context, item T) error {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, item)
	full := len(bw.buffer) >= bw.maxSize
	bw.mu.Unlock()

	if full {
		return bw.Flush(ctx)
	}
	return nil
}

// Flush writes everything buffered. A failed batch is put back in front of
// newer items so it is retried on the next flush.
func (bw *BatchWriter[T]) Flush(ctx context.Context) error {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	batch := bw.buffer
	bw.buffer = make([]T, 0, bw.maxSize)
	bw.mu.Unlock()

	bw.metrics.batches.Add(1)
	bw.metrics.lastSize.Store(int64(len(batch)))
	bw.metrics.lastFlush.Store(time.Now().UnixMilli())

	if err := bw.flush(ctx, batch); err != nil {
		bw.metrics.errors.Add(1)
		bw.mu.Lock()
		bw.buffer = append(batch, bw.buffer...)
		bw.mu.Unlock()
		bw.log.Error("batch flush failed", zap.Int("size", len(batch)), zap.Error(err))
		return err
	}
	bw.metrics.writes.Add(uint64(len(batch)))
	bw.log.Debug("batch flushed", zap.Int("size", len(batch)))
	return nil
}

func (bw *BatchWriter[T]) backgroundFlush() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = bw.Flush(context.Background())
		case <-bw.done:
			return
		}
	}
}

// Pending is the number of buffered items.
func (bw *BatchWriter[T]) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

func (bw *BatchWriter[T]) Metrics() Metrics {
	m := Metrics{
		TotalWrites:   bw.metrics.writes.Load(),
		TotalBatches:  bw.metrics.batches.Load(),
		TotalErrors:   bw.metrics.errors.Load(),
		LastBatchSize: int(bw.metrics.lastSize.Load()),
	}
	if ms := bw.metrics.lastFlush.Load(); ms > 0 {
		m.LastFlushTime = time.UnixMilli(ms)
	}
	return m
}

// Close stops the background flusher and performs a final flush.
func (bw *BatchWriter[T]) Close(ctx context.Context) error {
	if !bw.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(bw.done)
	bw.wg.Wait()
	return bw.Flush(ctx)
}
