package waker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIntervalWakerWakesOnTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewInterval(ctx, 10*time.Millisecond)
	select {
	case <-w.Wake():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for interval wake")
	}
}

func TestIntervalWakerReturnsFreshChannelEachTick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewInterval(ctx, 10*time.Millisecond)
	first := w.Wake()
	<-first

	second := w.Wake()
	select {
	case <-second:
		t.Fatal("second channel should not already be closed")
	default:
	}
	<-second
}

func TestIntervalWakerClosesOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewInterval(ctx, time.Hour)
	cancel()

	select {
	case <-w.Wake():
	case <-time.After(time.Second):
		t.Fatal("expected wake channel to close on context cancellation")
	}
}

func TestAlwaysWakerNeverBlocks(t *testing.T) {
	w := NewAlways()
	select {
	case <-w.Wake():
	default:
		t.Fatal("always waker should be immediately ready")
	}
}

func TestTestWakerCoordinatesWithWakee(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, wake := NewTest(ctx, nil, 1)

	woken := make(chan struct{})
	go func() {
		<-w.Wake()
		close(woken)
	}()

	wake(1)
	select {
	case <-woken:
	case <-time.After(time.Second):
		t.Fatal("wakee was not woken")
	}
}

func TestTestWakerRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w, _ := NewTest(ctx, nil, 0)
	cancel()

	done := make(chan struct{})
	go func() {
		w.Wake()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wake should return promptly after cancellation")
	}
	require.NotNil(t, w)
}
