// Package watcher implements the Watcher of spec.md §4.2: it translates
// filesystem notifications into FileStable events, debouncing per path and
// consulting the Stability Arbiter before declaring a file ready to read.
// Grounded on the teacher's fileStream polling/rescan pattern
// (driver/log/tailer/logstream/filestream.go), adapted from a perpetual
// tailer to a directory-level, fsnotify-driven watcher.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/hydrangeas/fieldlog-agent/internal/catalog"
	"github.com/hydrangeas/fieldlog-agent/internal/stability"
	"github.com/hydrangeas/fieldlog-agent/internal/telemetry"
	"github.com/hydrangeas/fieldlog-agent/internal/waker"
)

// EventType distinguishes the three kinds of events the Watcher emits.
type EventType int

const (
	FileCreated EventType = iota
	FileChanged
	FileStable
)

func (t EventType) String() string {
	switch t {
	case FileCreated:
		return "FileCreated"
	case FileStable:
		return "FileStable"
	default:
		return "FileChanged"
	}
}

// Event is one notification emitted on the Watcher's event stream.
type Event struct {
	Type       EventType
	Path       string
	WriteEpoch int
}

// WatchConfig describes one monitored directory, per spec.md §3.
type WatchConfig struct {
	ID        string
	Path      string
	Glob      string
	Recursive bool
}

// ConfigError is returned by AddWatch when the directory does not exist.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("watcher: config error for %q: %v", e.Path, e.Err)
}
func (e *ConfigError) Unwrap() error { return e.Err }

// Config holds the Watcher's tunables (spec.md §4.2, §6).
type Config struct {
	StabilizationPeriod time.Duration
	RescanInterval      time.Duration
	MaxPendingFiles     int
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{
		StabilizationPeriod: 5 * time.Second,
		RescanInterval:      60 * time.Second,
		MaxPendingFiles:     1000,
	}
}

// pathState is the Watcher's per-path debounce bookkeeping.
type pathState struct {
	epoch         int
	stableEmitted bool
	timer         *time.Timer
}

// Watcher observes one or more directories and emits FileStable events once
// the Stability Arbiter agrees a file has stopped growing.
type Watcher struct {
	id      string
	cfg     Config
	catalog *catalog.Catalog
	arbiter *stability.Arbiter
	clock   telemetry.Clock
	logger  telemetry.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	watches map[string]WatchConfig
	paths   map[string]*pathState

	slots chan struct{} // semaphore of size MaxPendingFiles

	events  chan Event
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New constructs a Watcher. cat is shared with the File Reader, which moves
// the descriptors it holds through their states.
func New(cat *catalog.Catalog, arb *stability.Arbiter, clock telemetry.Clock, logger telemetry.Logger, cfg Config) (*Watcher, error) {
	if cfg.StabilizationPeriod <= 0 {
		cfg.StabilizationPeriod = DefaultConfig().StabilizationPeriod
	}
	if cfg.RescanInterval <= 0 {
		cfg.RescanInterval = DefaultConfig().RescanInterval
	}
	if cfg.MaxPendingFiles <= 0 {
		cfg.MaxPendingFiles = DefaultConfig().MaxPendingFiles
	}
	if logger == nil {
		logger = telemetry.Noop{}
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: create fsnotify watcher: %w", err)
	}
	return &Watcher{
		id:      uuid.NewString(),
		cfg:     cfg,
		catalog: cat,
		arbiter: arb,
		clock:   clock,
		logger:  logger,
		fsw:     fsw,
		watches: make(map[string]WatchConfig),
		paths:   make(map[string]*pathState),
		slots:   make(chan struct{}, cfg.MaxPendingFiles),
		events:  make(chan Event, 1024),
	}, nil
}

// Events returns the Watcher's event stream.
func (w *Watcher) Events() <-chan Event { return w.events }

// AddWatch begins monitoring config.Path. It fails with *ConfigError if the
// directory does not exist; there is no lazy creation (spec.md §4.2).
func (w *Watcher) AddWatch(cfg WatchConfig) (string, error) {
	if cfg.Glob == "" {
		cfg.Glob = "*.jsonl"
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	info, err := statDir(cfg.Path)
	if err != nil {
		return "", &ConfigError{Path: cfg.Path, Err: err}
	}
	if !info {
		return "", &ConfigError{Path: cfg.Path, Err: errors.New("not a directory")}
	}

	dirs := []string{cfg.Path}
	if cfg.Recursive {
		dirs, err = walkDirs(cfg.Path)
		if err != nil {
			return "", &ConfigError{Path: cfg.Path, Err: err}
		}
	}
	for _, d := range dirs {
		if err := w.fsw.Add(d); err != nil {
			return "", &ConfigError{Path: d, Err: err}
		}
	}

	w.mu.Lock()
	w.watches[cfg.ID] = cfg
	w.mu.Unlock()
	w.logger.Info("watch added", map[string]any{"id": cfg.ID, "path": cfg.Path, "recursive": cfg.Recursive})
	return cfg.ID, nil
}

// RemoveWatch stops monitoring the directory registered under id.
func (w *Watcher) RemoveWatch(id string) bool {
	w.mu.Lock()
	cfg, ok := w.watches[id]
	if ok {
		delete(w.watches, id)
	}
	w.mu.Unlock()
	if !ok {
		return false
	}
	_ = w.fsw.Remove(cfg.Path)
	return true
}

// List returns all currently registered watch configurations.
func (w *Watcher) List() []WatchConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]WatchConfig, 0, len(w.watches))
	for _, cfg := range w.watches {
		out = append(out, cfg)
	}
	return out
}

// Start begins dispatching fsnotify events and the periodic full rescan.
// It returns once both background tasks have launched.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return errors.New("watcher: already started")
	}
	w.started = true
	w.mu.Unlock()

	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.dispatch()
	go w.rescanLoop()
	return nil
}

// Stop cancels the Watcher's background tasks and waits for them to exit.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	_ = w.fsw.Close()
	close(w.events)
}

func (w *Watcher) dispatch() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleRawEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fsnotify error", map[string]any{"error": err.Error()})
		}
	}
}

func (w *Watcher) handleRawEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
		return
	}
	if !w.matchesAnyWatch(ev.Name) {
		return
	}
	w.onPathTouched(ev.Name, ev.Has(fsnotify.Create))
}

func (w *Watcher) matchesAnyWatch(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	base := filepath.Base(path)
	dir := filepath.Dir(path)
	for _, cfg := range w.watches {
		if cfg.Recursive {
			if match, _ := filepath.Match(cfg.Glob, base); match {
				return true
			}
			continue
		}
		if dir == filepath.Clean(cfg.Path) {
			if match, _ := filepath.Match(cfg.Glob, base); match {
				return true
			}
		}
	}
	return false
}

// onPathTouched records a raw create/write/rename-into event for path,
// bumping the write-epoch if this growth follows an already-emitted
// FileStable for the prior epoch, and (re)starting the debounce timer.
func (w *Watcher) onPathTouched(path string, created bool) {
	w.catalog.GetOrCreate(path, w.id)

	w.mu.Lock()
	ps, existed := w.paths[path]
	if !existed {
		ps = &pathState{}
		w.paths[path] = ps
	}
	rearmed := ps.stableEmitted
	if rearmed {
		ps.epoch++
		ps.stableEmitted = false
	}
	w.mu.Unlock()

	if !existed {
		w.acquireSlot()
	}

	if created {
		w.emit(Event{Type: FileCreated, Path: path})
	} else {
		w.emit(Event{Type: FileChanged, Path: path})
	}

	w.armTimer(path)
}

func (w *Watcher) armTimer(path string) {
	w.mu.Lock()
	ps := w.paths[path]
	if ps == nil {
		w.mu.Unlock()
		return
	}
	if ps.timer == nil {
		ps.timer = time.AfterFunc(w.cfg.StabilizationPeriod, func() { w.checkStability(path) })
	} else {
		ps.timer.Reset(w.cfg.StabilizationPeriod)
	}
	w.mu.Unlock()
}

func (w *Watcher) checkStability(path string) {
	select {
	case <-w.ctx.Done():
		return
	default:
	}

	status := w.arbiter.IsStable(path, w.clock.Now())
	switch status {
	case stability.Stable:
		w.mu.Lock()
		ps := w.paths[path]
		if ps == nil || ps.stableEmitted {
			w.mu.Unlock()
			return
		}
		ps.stableEmitted = true
		epoch := ps.epoch
		w.mu.Unlock()

		if d, ok := w.catalog.Get(path); ok {
			d.CompareAndSet(catalog.Observed, catalog.Stabilizing)
		}
		w.emit(Event{Type: FileStable, Path: path, WriteEpoch: epoch})
		w.releaseSlot(path)

	case stability.Growing:
		w.armTimer(path)

	case stability.Gone:
		w.mu.Lock()
		delete(w.paths, path)
		w.mu.Unlock()
		w.catalog.Remove(path)
		w.arbiter.Forget(path)
		w.releaseSlot(path)

	case stability.Error:
		if w.arbiter.ProbeAttempts(path) >= w.arbiter.MaxProbeAttempts() {
			if d, ok := w.catalog.Get(path); ok {
				d.CompareAndSet(d.State(), catalog.Failed)
			}
			w.logger.Error("giving up on unreadable file", map[string]any{"path": path})
			w.mu.Lock()
			delete(w.paths, path)
			w.mu.Unlock()
			w.arbiter.Forget(path)
			w.releaseSlot(path)
			return
		}
		w.armTimer(path)
	}
}

// acquireSlot blocks when MaxPendingFiles in-flight paths are already
// tracked, implementing the Watcher's backpressure cap (spec.md §4.2).
func (w *Watcher) acquireSlot() {
	select {
	case w.slots <- struct{}{}:
	case <-w.ctx.Done():
	}
}

func (w *Watcher) releaseSlot(_ string) {
	select {
	case <-w.slots:
	default:
	}
}

func (w *Watcher) emit(ev Event) {
	select {
	case w.events <- ev:
	case <-w.ctx.Done():
	}
}

// rescanLoop periodically re-walks every registered directory, recovering
// from dropped or coalesced OS notifications (spec.md §4.2).
func (w *Watcher) rescanLoop() {
	defer w.wg.Done()
	wk := waker.NewInterval(w.ctx, w.cfg.RescanInterval)
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-wk.Wake():
			w.rescanOnce()
		}
	}
}

func (w *Watcher) rescanOnce() {
	for _, cfg := range w.List() {
		matches, err := filepath.Glob(filepath.Join(cfg.Path, cfg.Glob))
		if err != nil {
			continue
		}
		for _, m := range matches {
			w.onPathTouched(m, false)
		}
	}
}

func statDir(path string) (isDir bool, err error) {
	fi, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return fi.IsDir(), nil
}

func walkDirs(root string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs, err
}
