// Package waker provides the idle-wake abstraction the Watcher uses to
// schedule its periodic rescans without a busy loop. Adapted from the teacher's driver/log/waker package (itself based on
// google/mtail's waker), generalized from a single fixed wake source to an
// interval-ticker-backed production implementation alongside the teacher's
// test doubles.
package waker

import (
	"context"
	"sync"
	"time"
)

// Waker hands back a channel that closes the next time it is woken.  A
// fresh channel must be returned by each non-blocking call to Wake, per the
// mtail-derived contract the teacher's package documents.
type Waker interface {
	Wake() <-chan struct{}
}

// intervalWaker closes its wake channel once per tick of an internal
// time.Ticker, and closes it for good when its context is cancelled. It
// drives the Watcher's RescanInterval (spec.md §4.2).
type intervalWaker struct {
	ticker *time.Ticker

	mu   sync.Mutex
	wake chan struct{}

	done chan struct{}
	once sync.Once
}

// NewInterval returns a Waker that wakes every d.
func NewInterval(ctx context.Context, d time.Duration) Waker {
	w := &intervalWaker{
		ticker: time.NewTicker(d),
		wake:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go w.run(ctx)
	return w
}

func (w *intervalWaker) run(ctx context.Context) {
	defer w.ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.closeOnce()
			return
		case <-w.done:
			return
		case <-w.ticker.C:
			w.broadcastAndReset()
		}
	}
}

func (w *intervalWaker) Wake() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wake
}

func (w *intervalWaker) broadcastAndReset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	close(w.wake)
	w.wake = make(chan struct{})
}

func (w *intervalWaker) closeOnce() {
	w.once.Do(func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		close(w.wake)
	})
}

// alwaysWaker never blocks the wakee; every call to Wake returns an
// already-closed channel. Useful for driving polling loops in tests at full
// speed, adapted from the teacher's NewTestAlways.
type alwaysWaker struct {
	wake chan struct{}
}

// NewAlways returns a Waker that never blocks its caller.
func NewAlways() Waker {
	w := &alwaysWaker{wake: make(chan struct{})}
	close(w.wake)
	return w
}

func (w *alwaysWaker) Wake() <-chan struct{} { return w.wake }
