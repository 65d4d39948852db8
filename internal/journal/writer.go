// Package journal records presence and authority events to a store in the
// background. The journal is an audit trail only: it is written but never
// read back to rebuild registry state.
package journal

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/roomsync/internal/game/session"
)

// maxBatch bounds how many queued events are written in one Append.
const maxBatch = 128

// Store persists batches of events.
type Store interface {
	Append(ctx context.Context, events []session.Event) error
}

// Writer is a session.Observer that queues events and writes them to a Store
// from Run. Observe never blocks; when the queue is full the event is dropped.
type Writer struct {
	store        Store
	events       chan session.Event
	writeTimeout time.Duration
	logger       *zap.Logger
	dropped      atomic.Uint64
	written      atomic.Uint64
}

// NewWriter creates a Writer.
//
// Precondition: store and logger must be non-nil.
// Postcondition: Returns a Writer with a queue of bufferSize (default 1024).
func NewWriter(store Store, bufferSize int, writeTimeout time.Duration, logger *zap.Logger) *Writer {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Writer{
		store:        store,
		events:       make(chan session.Event, bufferSize),
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// Observe queues evt for writing.
func (w *Writer) Observe(evt session.Event) {
	select {
	case w.events <- evt:
	default:
		if w.dropped.Add(1) == 1 {
			w.logger.Warn("journal queue full, dropping events")
		}
	}
}

// Dropped returns the number of events discarded because the queue was full.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// Written returns the number of events successfully appended to the store.
func (w *Writer) Written() uint64 {
	return w.written.Load()
}

// Run drains the queue into the store until ctx is cancelled, then flushes
// whatever is still queued.
//
// Postcondition: Returns nil once ctx is done and the queue has been flushed.
func (w *Writer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.flush()
			return nil
		case evt := <-w.events:
			w.write(ctx, w.collect(evt))
		}
	}
}

// collect returns first plus whatever else is already queued, up to maxBatch.
func (w *Writer) collect(first session.Event) []session.Event {
	batch := []session.Event{first}
	for len(batch) < maxBatch {
		select {
		case evt := <-w.events:
			batch = append(batch, evt)
		default:
			return batch
		}
	}
	return batch
}

func (w *Writer) flush() {
	for {
		select {
		case evt := <-w.events:
			w.write(context.Background(), w.collect(evt))
		default:
			return
		}
	}
}

func (w *Writer) write(ctx context.Context, batch []session.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.writeTimeout)
	defer cancel()

	if err := w.store.Append(ctx, batch); err != nil {
		w.logger.Error("appending journal events",
			zap.Int("count", len(batch)),
			zap.Error(err),
		)
		return
	}
	w.written.Add(uint64(len(batch)))
}
