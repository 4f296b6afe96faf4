package capture

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/banshee-data/touchring/internal/link"
	"github.com/banshee-data/touchring/internal/monitoring"
)

const (
	defaultQueue  = 4096
	flushInterval = 250 * time.Millisecond
	maxBatch      = 512
)

// Recorder queues exchanges from the link sessions and writes them in
// batches. RecordExchange never blocks; when the queue is full the exchange
// is counted as dropped.
type Recorder struct {
	db      *DB
	queue   chan link.Exchange
	dropped atomic.Uint64
	written atomic.Uint64
}

// NewRecorder returns a recorder writing to db. Call Run to start writing.
func NewRecorder(db *DB) *Recorder {
	return &Recorder{db: db, queue: make(chan link.Exchange, defaultQueue)}
}

// RecordExchange implements link.Recorder.
func (r *Recorder) RecordExchange(e link.Exchange) {
	select {
	case r.queue <- e:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns how many exchanges were discarded because the queue was
// full.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Written returns how many exchanges have been committed.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Run drains the queue until ctx is cancelled, then flushes whatever is
// still queued and returns.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]link.Exchange, 0, maxBatch)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := r.db.InsertExchanges(ctx, batch); err != nil {
			monitoring.Logf("capture: dropping %d exchanges: %v", len(batch), err)
			r.dropped.Add(uint64(len(batch)))
		} else {
			r.written.Add(uint64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e := <-r.queue:
					batch = append(batch, e)
					if len(batch) == maxBatch {
						flush(context.Background())
					}
				default:
					flush(context.Background())
					return ctx.Err()
				}
			}
		case e := <-r.queue:
			batch = append(batch, e)
			if len(batch) == maxBatch {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}
