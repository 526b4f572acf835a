package waker

import (
	"context"
	"sync"

	"github.com/hydrangeas/fieldlog-agent/internal/telemetry"
)

// testWaker is used by tests to manually signal idle routines that it is
// time to look for new work. Adapted from the teacher's testWaker, with the
// sf-apis logger swapped for this module's telemetry.Logger.
type testWaker struct {
	ctx context.Context

	logger telemetry.Logger

	n int

	wakeeReady chan struct{}
	wakeeDone  chan struct{}
	wait       chan struct{}

	mu   sync.Mutex
	wake chan struct{}
}

// WakeFunc triggers a wakeup of blocked idle goroutines under test. Its
// argument is the number of goroutines expected to return to Wake before
// the call returns.
type WakeFunc func(after int)

// NewTest creates a Waker for tests plus the WakeFunc used to drive it. n is
// the number of wakees expected on the first pass.
func NewTest(ctx context.Context, logger telemetry.Logger, n int) (Waker, WakeFunc) {
	if logger == nil {
		logger = telemetry.Noop{}
	}
	t := &testWaker{
		ctx:        ctx,
		logger:     logger,
		n:          n,
		wakeeReady: make(chan struct{}),
		wakeeDone:  make(chan struct{}),
		wait:       make(chan struct{}),
		wake:       make(chan struct{}),
	}
	initDone := make(chan struct{})
	go func() {
		defer close(initDone)
		for i := 0; i < t.n; i++ {
			<-t.wakeeDone
		}
	}()
	wakeFunc := func(after int) {
		<-initDone
		for i := 0; i < t.n; i++ {
			t.wait <- struct{}{}
		}
		for i := 0; i < t.n; i++ {
			<-t.wakeeReady
		}
		t.broadcastWakeAndReset()
		for i := 0; i < after; i++ {
			<-t.wakeeDone
		}
		t.n = after
	}
	return t, wakeFunc
}

// Wake satisfies the Waker interface.
func (t *testWaker) Wake() (w <-chan struct{}) {
	t.mu.Lock()
	w = t.wake
	t.mu.Unlock()
	go func() {
		select {
		case <-t.ctx.Done():
			return
		case t.wakeeDone <- struct{}{}:
		}
		select {
		case <-t.ctx.Done():
			return
		case <-t.wait:
		}
		select {
		case <-t.ctx.Done():
			return
		case t.wakeeReady <- struct{}{}:
		}
	}()
	return
}

func (t *testWaker) broadcastWakeAndReset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	close(t.wake)
	t.wake = make(chan struct{})
}
