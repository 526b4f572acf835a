// Package retry implements the Retry Engine of spec.md §4.8: a pure error
// classifier plus an Execute wrapper around github.com/cenkalti/backoff/v4,
// grounded on the same library the dittofs example pulls in for its
// upstream-call retries.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Classification is the outcome of classifying an error for retry purposes.
type Classification int

const (
	Permanent Classification = iota
	Transient
)

// Policy configures backoff. Defaults per spec.md §4.8/§6.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultPolicy returns spec.md's documented retry defaults.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, InitialInterval: time.Second, MaxInterval: 30 * time.Second, Multiplier: 2.0}
}

// ReconnectPolicy is the more patient policy the Uploader's reconnect task
// uses (spec.md §4.9): unbounded attempts until Stop or process exit.
func ReconnectPolicy() Policy {
	return Policy{MaxAttempts: 0, InitialInterval: 2 * time.Second, MaxInterval: 5 * time.Minute, Multiplier: 2.0}
}

// TransientError and PermanentError let callers tag an error's
// classification explicitly when the pure heuristic in Classify can't infer
// it from the error's shape (e.g. a domain-specific sentinel).
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// httpStatusError is implemented by transport errors that carry a status
// code, so Classify can apply the 4xx/5xx split from spec.md §4.8 without
// importing any specific HTTP client package.
type httpStatusError interface {
	StatusCode() int
}

// Classify maps err to Transient or Permanent. Network errors, timeouts,
// 5xx, and 408/429 are Transient; auth/validation and other 4xx are
// Permanent. This is a pure function: callers never catch broadly (spec.md
// §9).
func Classify(err error) Classification {
	if err == nil {
		return Permanent
	}

	var te *TransientError
	if errors.As(err, &te) {
		return Transient
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return Permanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}

	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		code := statusErr.StatusCode()
		switch {
		case code == 408 || code == 429:
			return Transient
		case code >= 500:
			return Transient
		case code >= 400:
			return Permanent
		}
	}

	return Permanent
}

// Execute runs op, retrying Transient failures per policy with jittered
// exponential backoff, until success, a Permanent error, attempt exhaustion,
// or ctx cancellation.
func Execute(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	eb := &backoff.ExponentialBackOff{
		InitialInterval:     policy.InitialInterval,
		RandomizationFactor: 0.2, // jitter(0.8, 1.2)
		Multiplier:          policy.Multiplier,
		MaxInterval:         policy.MaxInterval,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
	eb.Reset()

	var bo backoff.BackOff = eb
	if policy.MaxAttempts > 0 {
		bo = backoff.WithMaxRetries(eb, uint64(policy.MaxAttempts-1))
	}
	bo = backoff.WithContext(bo, ctx)

	return backoff.Retry(func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if Classify(err) == Permanent {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}

// jitter returns a multiplier uniformly distributed in [lo, hi), matching
// the delay formula documented in spec.md §4.8. It is unexported and has no
// callers: Execute takes its jitter from the RandomizationFactor of 0.2
// passed to cenkalti/backoff.
func jitter(lo, hi float64) float64 {
	return lo + rand.Float64()*(hi-lo)
}
