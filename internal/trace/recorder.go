package trace

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/me/atomsched/pkg/model"
)

const (
	defaultBuffer        = 4096
	defaultBatchSize     = 64
	defaultFlushInterval = 100 * time.Millisecond
)

// Recorder is the scheduler's event sink. Record never blocks the dispatch
// goroutine: events go into a buffered channel and a writer goroutine flushes
// them to the store in batches. When the buffer is full events are dropped
// and counted rather than stalling dispatch.
type Recorder struct {
	store  Store
	logger *slog.Logger

	ch            chan model.Event
	batchSize     int
	flushInterval time.Duration

	closed  atomic.Bool
	dropped atomic.Uint64
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithBuffer sets the event channel capacity.
func WithBuffer(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.ch = make(chan model.Event, n)
		}
	}
}

// WithBatchSize sets how many events are written per transaction.
func WithBatchSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithFlushInterval sets how long a partial batch may sit before it is
// written out.
func WithFlushInterval(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.flushInterval = d
		}
	}
}

// NewRecorder starts the writer goroutine. Call Close to flush and stop it.
func NewRecorder(store Store, logger *slog.Logger, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:         store,
		logger:        logger.With("component", "trace"),
		ch:            make(chan model.Event, defaultBuffer),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.run()
	return r
}

// Record implements scheduler.EventSink.
func (r *Recorder) Record(ev model.Event) {
	if r.closed.Load() {
		return
	}
	select {
	case r.ch <- ev:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the buffer was
// full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close drains buffered events, flushes them and stops the writer.
func (r *Recorder) Close() {
	if r.closed.Swap(true) {
		return
	}
	close(r.stopCh)
	<-r.doneCh
	if n := r.dropped.Load(); n > 0 {
		r.logger.Warn("trace events dropped", "count", n)
	}
}

func (r *Recorder) run() {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]model.Event, 0, r.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.store.AppendEvents(context.Background(), batch); err != nil {
			r.logger.Error("flush trace batch", "error", err, "batch", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev := <-r.ch:
			batch = append(batch, ev)
			if len(batch) >= r.batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-r.stopCh:
			for {
				select {
				case ev := <-r.ch:
					batch = append(batch, ev)
					if len(batch) >= r.batchSize {
						flush()
					}
				default:
					flush()
					close(r.doneCh)
					return
				}
			}
		}
	}
}
