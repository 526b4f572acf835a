// Package supervisor owns the agent's top-level lifecycle (SPEC_FULL.md
// §4.15): it wires Watcher -> FileReader pool -> BatchQueue -> BatchProcessor
// -> Uploader, starts the health server, and implements the five-step
// graceful-drain sequence of spec.md §5, returning the process exit codes
// of spec.md §6. The overall shape — build every component from a loaded
// Config, launch a cancellable context, wait on an OS signal, then run a
// bounded shutdown — is grounded on dittofs's cmd/dittofs/commands/start.go
// runStart flow, adapted from a single long-running server process into an
// explicit, testable Supervisor type rather than a command-level function.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/hydrangeas/fieldlog-agent/internal/batch"
	"github.com/hydrangeas/fieldlog-agent/internal/batchproc"
	"github.com/hydrangeas/fieldlog-agent/internal/batchqueue"
	"github.com/hydrangeas/fieldlog-agent/internal/catalog"
	"github.com/hydrangeas/fieldlog-agent/internal/config"
	"github.com/hydrangeas/fieldlog-agent/internal/deadletter"
	"github.com/hydrangeas/fieldlog-agent/internal/filereader"
	"github.com/hydrangeas/fieldlog-agent/internal/health"
	"github.com/hydrangeas/fieldlog-agent/internal/metrics"
	"github.com/hydrangeas/fieldlog-agent/internal/retry"
	"github.com/hydrangeas/fieldlog-agent/internal/stability"
	"github.com/hydrangeas/fieldlog-agent/internal/telemetry"
	"github.com/hydrangeas/fieldlog-agent/internal/uploader"
	"github.com/hydrangeas/fieldlog-agent/internal/watcher"
)

// Exit codes, per spec.md §6.
const (
	ExitClean          = 0
	ExitConfigError    = 1
	ExitFatalInit      = 2
	ExitDrainTimeout   = 3
)

const maxRestartsPerWindow = 3
const restartWindow = 60 * time.Second

// uploaderAdapter bridges internal/uploader.Uploader's UploadResult (which
// carries an extra Key field) onto the narrower internal/batchproc.Uploader
// interface, so batchproc stays decoupled from AWS-specific upload detail.
type uploaderAdapter struct {
	u *uploader.Uploader
}

func (a uploaderAdapter) UploadBatch(ctx context.Context, b *batch.Batch) batchproc.UploadResult {
	res := a.u.UploadBatch(ctx, b)
	return batchproc.UploadResult{Success: res.Success, Err: res.Err}
}

// Supervisor wires and owns every pipeline component for one run of the
// agent.
type Supervisor struct {
	cfg    *config.Config
	clock  telemetry.Clock
	logger telemetry.Logger

	cat      *catalog.Catalog
	arbiter  *stability.Arbiter
	watch    *watcher.Watcher
	pool     *filereader.Pool
	queue    *batchqueue.Queue
	proc     *batchproc.Processor
	uploadr  *uploader.Uploader
	deadLtr  *deadletter.Sink
	m        *metrics.Collector
	health   *health.Server

	status int32 // atomic health.Status

	restartsMu sync.Mutex
	restarts   []time.Time
}

// New constructs every component from cfg, using a real S3 client built
// from the ambient AWS configuration, but does not start any of them.
func New(ctx context.Context, cfg *config.Config, clock telemetry.Clock, logger telemetry.Logger) (*Supervisor, error) {
	s3Client, err := newS3Client(ctx)
	if err != nil {
		return nil, fmt.Errorf("supervisor: construct s3 client: %w", err)
	}
	return build(cfg, clock, logger, s3Client)
}

// build wires every component from cfg against the given object-store
// client, kept separate from New so tests can substitute a fake S3API
// without touching the ambient AWS credential chain.
func build(cfg *config.Config, clock telemetry.Clock, logger telemetry.Logger, s3Client uploader.S3API) (*Supervisor, error) {
	if logger == nil {
		logger = telemetry.Noop{}
	}
	if clock == nil {
		clock = telemetry.SystemClock{}
	}

	cat := catalog.New()
	arbiter := stability.New(stability.Config{
		StabilizationPeriod: cfg.StabilizationPeriod(),
		MaxProbeAttempts:    stability.DefaultConfig().MaxProbeAttempts,
	})

	w, err := watcher.New(cat, arbiter, clock, logger, watcher.Config{
		StabilizationPeriod: cfg.StabilizationPeriod(),
		RescanInterval:      watcher.DefaultConfig().RescanInterval,
		MaxPendingFiles:     watcher.DefaultConfig().MaxPendingFiles,
	})
	if err != nil {
		return nil, fmt.Errorf("supervisor: construct watcher: %w", err)
	}
	for _, p := range cfg.MonitoringPaths {
		if _, err := w.AddWatch(watcher.WatchConfig{Path: p, Glob: cfg.FileFilter, Recursive: true}); err != nil {
			return nil, fmt.Errorf("supervisor: add watch %s: %w", p, err)
		}
	}

	queue := batchqueue.New(cfg.BatchQueueCapacity)

	reader := filereader.New(filereader.DefaultConfig(), clock, logger)
	pool := filereader.NewPool(reader, cfg.MaxConcurrency, logger)

	deadLtr := deadletter.New(cfg.DeadLetterPath, clock, logger)

	up := uploader.New(uploader.Config{
		Bucket:          cfg.UploadConnectionString,
		UploadRoot:      cfg.UploadRoot,
		DeviceID:        cfg.UploadDeviceId,
		UploadPolicy: retry.Policy{
			MaxAttempts:     cfg.RetryMaxAttempts,
			InitialInterval: cfg.RetryInitialInterval(),
			MaxInterval:     cfg.RetryMaxInterval(),
			Multiplier:      cfg.RetryMultiplier,
		},
		ReconnectPolicy: retry.ReconnectPolicy(),
		RefreshFraction: 0.8,
	}, s3Client, uploader.NewStaticCredentialProvider(cfg.UploadConnectionString), deadLtr, clock, logger)

	proc := batchproc.New(queue, uploaderAdapter{u: up}, batchproc.Config{
		MaxBatchBytes:      cfg.BatchMaxBytes,
		MaxBatchRecords:    cfg.BatchMaxRecords,
		ProcessingInterval: cfg.BatchProcessingInterval(),
		IdleTimeout:        cfg.BatchIdleTimeout(),
		DeviceID:           cfg.UploadDeviceId,
	}, clock, logger)

	m := metrics.New()

	sup := &Supervisor{
		cfg: cfg, clock: clock, logger: logger,
		cat: cat, arbiter: arbiter, watch: w, pool: pool, queue: queue,
		proc: proc, uploadr: up, deadLtr: deadLtr, m: m,
	}
	sup.health = health.New(cfg.HealthAddr, sup, m, logger)

	return sup, nil
}

func newS3Client(ctx context.Context) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg), nil
}

// Status implements health.Reporter.
func (s *Supervisor) Status() health.Status {
	return health.Status(atomic.LoadInt32(&s.status))
}

// Detail implements health.Reporter.
func (s *Supervisor) Detail() []health.ComponentDetail {
	stats := s.proc.Stats()
	return []health.ComponentDetail{
		{
			Name:            "uploader",
			ConnectionState: s.uploadr.GetState().String(),
			QueueDepth:      s.queue.Count(),
			FlushesByTrigger: map[string]int64{
				"total": stats.FlushCount,
			},
		},
	}
}

// Run starts every component, blocks until ctx is cancelled, then runs the
// graceful-drain sequence of spec.md §5 bounded by cfg.ShutdownBudget. It
// returns one of the exit codes declared above.
func (s *Supervisor) Run(ctx context.Context) int {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	atomic.StoreInt32(&s.status, int32(health.StatusRunning))

	if err := s.uploadr.Connect(runCtx); err != nil {
		s.logger.Error("initial connect failed, continuing degraded", map[string]any{"error": err.Error()})
	}

	if err := s.watch.Start(runCtx); err != nil {
		s.logger.Error("watcher start failed", map[string]any{"error": err.Error()})
		return ExitFatalInit
	}
	s.proc.Start(runCtx)

	go s.runHealthServer()
	go s.runSupervisedTask("event-dispatch", runCtx, s.dispatchEvents)

	<-runCtx.Done()
	return s.drain(ctx)
}

func (s *Supervisor) runHealthServer() {
	if err := s.health.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Warn("health server stopped", map[string]any{"error": err.Error()})
	}
}

// dispatchEvents is the Watcher-event-to-File-Reader-pool bridge: every
// FileStable event is submitted to the reader pool, and accepted records
// flow into the Batch Queue via RecordSink.
func (s *Supervisor) dispatchEvents(ctx context.Context) error {
	for {
		select {
		case ev, ok := <-s.watch.Events():
			if !ok {
				return nil
			}
			if ev.Type != watcher.FileStable {
				continue
			}
			d, ok := s.cat.Get(ev.Path)
			if !ok {
				continue
			}
			s.pool.Submit(ctx, ev.Path, d, s.queue, func(res filereader.Result) {
				if res.Err != nil {
					s.logger.Warn("file read ended with error", map[string]any{"path": ev.Path, "error": res.Err.Error()})
				}
			})
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runSupervisedTask runs fn and restarts it up to maxRestartsPerWindow
// times within restartWindow when it panics or returns an error other than
// context.Canceled, per spec.md §7's internal-invariant recovery rule.
// Exceeding the budget marks the supervisor Faulted.
func (s *Supervisor) runSupervisedTask(name string, ctx context.Context, fn func(context.Context) error) {
	for {
		err := s.runOnce(name, ctx, fn)
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		if !s.allowRestart() {
			s.logger.Error("task exceeded restart budget, marking faulted", map[string]any{"task": name, "error": err.Error()})
			atomic.StoreInt32(&s.status, int32(health.StatusFaulted))
			return
		}
		s.logger.Error("supervised task exited, restarting", map[string]any{"task": name, "error": err.Error()})
	}
}

func (s *Supervisor) runOnce(name string, ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", name, r)
		}
	}()
	return fn(ctx)
}

func (s *Supervisor) allowRestart() bool {
	s.restartsMu.Lock()
	defer s.restartsMu.Unlock()
	now := s.clock.Now()
	cutoff := now.Add(-restartWindow)
	kept := s.restarts[:0]
	for _, t := range s.restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.restarts = kept
	if len(s.restarts) >= maxRestartsPerWindow {
		return false
	}
	s.restarts = append(s.restarts, now)
	return true
}

// drain implements the five-step graceful shutdown of spec.md §5. parent is
// already Done() by the time drain runs (it's what woke Run up), so the
// budget is measured from a fresh background context instead of parent's.
// It returns ExitClean on success, ExitDrainTimeout if any step is
// abandoned after cfg.ShutdownBudget.
func (s *Supervisor) drain(parent context.Context) int {
	atomic.StoreInt32(&s.status, int32(health.StatusDraining))

	budget := s.cfg.ShutdownBudget()
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	// 1. Watcher stops adding new paths.
	s.watch.Stop()

	// 2. File Readers finish the current file or exit at next yield.
	readersDone := make(chan struct{})
	go func() { s.pool.Wait(); close(readersDone) }()
	select {
	case <-readersDone:
	case <-ctx.Done():
		s.logger.Warn("file readers did not finish within shutdown budget", nil)
		return ExitDrainTimeout
	}

	// 3. Batch Processor forces a final flush.
	s.proc.Stop(ctx)

	// 4. Uploader finishes in-flight upload or records dead-letter; handled
	// synchronously by proc.Stop's forced Flush -> UploadBatch call above.
	_ = s.uploadr.Disconnect(ctx)

	// 5. Supervisor joins all tasks within ShutdownBudget.
	shutdownHealthCtx, cancelHealth := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelHealth()
	if err := s.health.Shutdown(shutdownHealthCtx); err != nil {
		s.logger.Warn("health server shutdown error", map[string]any{"error": err.Error()})
	}

	if ctx.Err() != nil {
		return ExitDrainTimeout
	}
	return ExitClean
}
