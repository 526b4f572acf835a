// Package catalog implements the file-descriptor catalog of spec.md §3/§5:
// a concurrent map keyed by absolute path, exactly one entry per path,
// created by the Watcher and mutated by both Watcher and File Reader via
// compare-and-set on the state field.
package catalog

import (
	"sync"
	"time"
)

// State is a FileDescriptor's position in its lifecycle, per spec.md §3.
type State int

const (
	Observed State = iota
	Stabilizing
	Reading
	Processed
	Archived
	Failed
)

func (s State) String() string {
	switch s {
	case Stabilizing:
		return "Stabilizing"
	case Reading:
		return "Reading"
	case Processed:
		return "Processed"
	case Archived:
		return "Archived"
	case Failed:
		return "Failed"
	default:
		return "Observed"
	}
}

// Descriptor is one tracked file path and its bookkeeping.
type Descriptor struct {
	Path              string
	OwningWatcherID   string
	SizeAtLastCheck   int64
	MTimeAtLastCheck  time.Time
	ConsecutiveStable int
	WriteEpoch        int
	EncodingAmbiguous bool

	mu    sync.Mutex
	state State
}

// State returns the descriptor's current state.
func (d *Descriptor) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// CompareAndSet transitions the descriptor from want to set and reports
// whether the transition happened. It is the only way the state field may
// be mutated, so concurrent Watcher and Reader goroutines never race.
func (d *Descriptor) CompareAndSet(want, set State) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != want {
		return false
	}
	d.state = set
	return true
}

// Catalog is the process-wide map of path to Descriptor.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]*Descriptor
}

// New creates an empty Catalog.
func New() *Catalog {
	return &Catalog{entries: make(map[string]*Descriptor)}
}

// GetOrCreate returns the existing descriptor for path, or creates one in
// state Observed owned by watcherID. Only the Watcher should create entries,
// per spec.md §5's "exactly one entry per path, created by Watcher" rule.
func (c *Catalog) GetOrCreate(path, watcherID string) *Descriptor {
	c.mu.RLock()
	d, ok := c.entries[path]
	c.mu.RUnlock()
	if ok {
		return d
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.entries[path]; ok {
		return d
	}
	d = &Descriptor{Path: path, OwningWatcherID: watcherID, state: Observed}
	c.entries[path] = d
	return d
}

// Get returns the descriptor for path, if tracked.
func (c *Catalog) Get(path string) (*Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.entries[path]
	return d, ok
}

// Remove drops path from the catalog, e.g. once externally archived by
// housekeeping outside this process.
func (c *Catalog) Remove(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}

// Snapshot returns a point-in-time copy of all tracked descriptors, for
// health reporting.
func (c *Catalog) Snapshot() []*Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Descriptor, 0, len(c.entries))
	for _, d := range c.entries {
		out = append(out, d)
	}
	return out
}

// Len reports the number of tracked paths.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
