// Package batchqueue implements the Batch Queue of spec.md §4.6: a bounded
// multi-producer/single-consumer buffer of records sitting between the File
// Reader(s) and the Batch Processor, providing the backpressure that keeps
// a slow uploader from unbounded memory growth upstream.
package batchqueue

import (
	"context"
	"errors"
	"sync"

	"github.com/hydrangeas/fieldlog-agent/internal/record"
)

// ErrClosed is returned by Enqueue/EnqueueMany once the queue has been
// closed, per spec.md §4.6's "Close drains remaining items ... then returns
// Closed for subsequent enqueues" rule.
var ErrClosed = errors.New("batchqueue: closed")

// Queue is a bounded channel of *record.LogRecord with explicit Close
// semantics: the underlying channel is never closed by Go's native close
// (which would panic on a racing producer send); instead a sentinel
// closeSignal channel rejects new enqueues while letting the consumer drain
// whatever is already buffered.
type Queue struct {
	ch          chan *record.LogRecord
	closeSignal chan struct{}
	closeOnce   sync.Once
}

// New creates a Queue with the given capacity (the configured default is
// 10x MaxBatchRecords, per spec.md §6). A capacity <= 0 is treated as 1.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan *record.LogRecord, capacity), closeSignal: make(chan struct{})}
}

// Enqueue blocks until rec is accepted, ctx is cancelled, or the queue is
// closed.
func (q *Queue) Enqueue(ctx context.Context, rec *record.LogRecord) error {
	select {
	case q.ch <- rec:
		return nil
	case <-q.closeSignal:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueMany enqueues each record in order, stopping at the first error.
// Per spec.md §5, records from a single source file must preserve enqueue
// order, which this loop upholds.
func (q *Queue) EnqueueMany(ctx context.Context, recs []*record.LogRecord) error {
	for _, r := range recs {
		if err := q.Enqueue(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// DequeueUpTo drains at most n already-or-soon-buffered records. If the
// queue is empty it waits for the first record until ctx is cancelled or
// waitBudget fires (nil waitBudget waits indefinitely on ctx alone), then
// greedily drains whatever else is immediately available without blocking.
func (q *Queue) DequeueUpTo(ctx context.Context, n int, waitBudget <-chan struct{}) []*record.LogRecord {
	if n <= 0 {
		return nil
	}
	out := make([]*record.LogRecord, 0, n)

	select {
	case r := <-q.ch:
		out = append(out, r)
	default:
		select {
		case r := <-q.ch:
			out = append(out, r)
		case <-ctx.Done():
			return out
		case <-waitBudget:
			return out
		case <-q.closeSignal:
			// Closed with nothing buffered at selection time; one more
			// non-blocking check guards against a last-moment enqueue that
			// raced with Close.
			select {
			case r := <-q.ch:
				out = append(out, r)
			default:
				return out
			}
		}
	}

	for len(out) < n {
		select {
		case r := <-q.ch:
			out = append(out, r)
		default:
			return out
		}
	}
	return out
}

// Count reports the number of records currently buffered.
func (q *Queue) Count() int { return len(q.ch) }

// IsEmpty reports whether the queue currently holds no buffered records.
func (q *Queue) IsEmpty() bool { return len(q.ch) == 0 }

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	select {
	case <-q.closeSignal:
		return true
	default:
		return false
	}
}

// Close marks the queue closed to new Enqueue calls. Already-buffered
// records remain available to DequeueUpTo until drained.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closeSignal) })
}
