// Package stability implements the Stability Arbiter of spec.md §4.1: it
// decides whether a file has stopped being written and is therefore safe
// to read end-to-end. Adapted from the teacher's filestream.go rotation/
// truncation detection (os.Stat + os.SameFile comparisons), narrowed down
// to the simpler two-poll-quiescence contract the spec describes.
package stability

import (
	"os"
	"time"
)

// Status is the outcome of one IsStable probe.
type Status int

const (
	Growing Status = iota
	Stable
	Gone
	Error
)

func (s Status) String() string {
	switch s {
	case Stable:
		return "Stable"
	case Gone:
		return "Gone"
	case Error:
		return "Error"
	default:
		return "Growing"
	}
}

// sample is one size/mtime observation of a path.
type sample struct {
	size           int64
	mtime          time.Time
	consecutive    int // consecutive stable polls observed so far
	probeAttempts  int // consecutive probe errors, capped by MaxProbeAttempts
}

// Arbiter tracks per-path poll history and decides stability, per spec.md
// §4.1. It is not safe for concurrent use on the same path from multiple
// goroutines; the Watcher serializes polls per path.
type Arbiter struct {
	period           time.Duration
	maxProbeAttempts int

	samples map[string]*sample
}

// Config holds the Arbiter's tunables (spec.md §4.1, §6).
type Config struct {
	StabilizationPeriod time.Duration
	MaxProbeAttempts    int
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{StabilizationPeriod: 5 * time.Second, MaxProbeAttempts: 5}
}

// New creates an Arbiter.
func New(cfg Config) *Arbiter {
	if cfg.StabilizationPeriod <= 0 {
		cfg.StabilizationPeriod = DefaultConfig().StabilizationPeriod
	}
	if cfg.MaxProbeAttempts <= 0 {
		cfg.MaxProbeAttempts = DefaultConfig().MaxProbeAttempts
	}
	return &Arbiter{
		period:           cfg.StabilizationPeriod,
		maxProbeAttempts: cfg.MaxProbeAttempts,
		samples:          make(map[string]*sample),
	}
}

// Forget drops a path's poll history, e.g. once it has been marked
// Processed, Failed, or Archived.
func (a *Arbiter) Forget(path string) {
	delete(a.samples, path)
}

// ProbeAttempts reports the number of consecutive probe errors observed for
// path so far.
func (a *Arbiter) ProbeAttempts(path string) int {
	if s, ok := a.samples[path]; ok {
		return s.probeAttempts
	}
	return 0
}

// MaxProbeAttempts reports the configured cap on consecutive probe errors
// before a caller should give up and mark the file Failed.
func (a *Arbiter) MaxProbeAttempts() int {
	return a.maxProbeAttempts
}

// IsStable samples path's size and mtime and compares against the last
// sample. now is injected so tests can control elapsed time without
// sleeping. The first poll of a path only records a sample. Stable is
// returned once two successive polls after it have seen no change in size
// or mtime and now is at least StabilizationPeriod past the file's mtime.
// A size-unchanged-but-mtime-
// advanced sample is treated as Growing (spec.md §4.1's tie-break: "writer
// touched it").
func (a *Arbiter) IsStable(path string, now time.Time) Status {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			a.Forget(path)
			return Gone
		}
		s := a.samples[path]
		if s == nil {
			s = &sample{}
			a.samples[path] = s
		}
		s.probeAttempts++
		if s.probeAttempts >= a.maxProbeAttempts {
			return Error
		}
		return Error
	}

	prev, ok := a.samples[path]
	if !ok {
		a.samples[path] = &sample{size: fi.Size(), mtime: fi.ModTime()}
		return Growing
	}
	prev.probeAttempts = 0

	if fi.Size() == 0 {
		// Zero-length files are never stable (spec.md §4.1).
		prev.size, prev.mtime, prev.consecutive = 0, fi.ModTime(), 0
		return Growing
	}

	unchanged := fi.Size() == prev.size && fi.ModTime().Equal(prev.mtime)
	prev.size, prev.mtime = fi.Size(), fi.ModTime()

	if !unchanged {
		prev.consecutive = 0
		return Growing
	}

	prev.consecutive++
	if prev.consecutive >= 2 && now.Sub(prev.mtime) >= a.period {
		return Stable
	}
	return Growing
}
