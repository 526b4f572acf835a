// Package batchproc implements the Batch Processor of spec.md §4.7: the
// single-consumer assembly loop that seals records into batches on a size,
// count, interval, idle, or explicit trigger and hands each sealed batch to
// the Uploader. The consumer-loop-with-timer-events shape is grounded on
// the teacher's fileStream main loop (driver/log/tailer/logstream/
// filestream.go), which already demonstrates a single goroutine selecting
// over data, a stop signal, and a waker/timer.
package batchproc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"

	"github.com/hydrangeas/fieldlog-agent/internal/batch"
	"github.com/hydrangeas/fieldlog-agent/internal/batchqueue"
	"github.com/hydrangeas/fieldlog-agent/internal/record"
	"github.com/hydrangeas/fieldlog-agent/internal/telemetry"
)

// State is the Batch Processor's lifecycle state, per spec.md §4.7.
type State int32

const (
	Idle State = iota
	Running
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Draining:
		return "Draining"
	case Stopped:
		return "Stopped"
	default:
		return "Idle"
	}
}

// UploadResult is the outcome the injected Uploader reports for one batch.
type UploadResult struct {
	Success bool
	Err     error
}

// Uploader is the narrow slice of internal/uploader.Uploader the Batch
// Processor depends on.
type Uploader interface {
	UploadBatch(ctx context.Context, b *batch.Batch) UploadResult
}

// BatchResult is returned by Flush and records what, if anything, sealed.
type BatchResult struct {
	Sealed  *batch.Batch
	Success bool
	Err     error
}

// Config holds the Batch Processor's tunables (spec.md §4.7, §6).
type Config struct {
	MaxBatchBytes      int
	MaxBatchRecords    int
	ProcessingInterval time.Duration
	IdleTimeout        time.Duration
	DeviceID           string
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxBatchBytes:      1 << 20,
		MaxBatchRecords:    10000,
		ProcessingInterval: 30 * time.Second,
		IdleTimeout:        10 * time.Second,
	}
}

// Stats is a point-in-time snapshot of processor counters.
type Stats struct {
	FlushCount      int64
	RecordsAccepted int64
	RecordsRejected int64
}

type flushRequest struct {
	force    bool
	resultCh chan BatchResult
}

// Processor assembles records pulled from a Batch Queue into batches and
// hands sealed batches to an Uploader.
type Processor struct {
	cfg     Config
	queue   *batchqueue.Queue
	uploadr Uploader
	clock   telemetry.Clock
	logger  telemetry.Logger

	builder *batch.Builder

	state int32

	addCh     chan *record.LogRecord
	addManyCh chan []*record.LogRecord
	flushCh   chan flushRequest

	flushCount      int64
	recordsAccepted int64
	recordsRejected int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Processor that consumes from queue and uploads sealed
// batches through uploadr.
func New(queue *batchqueue.Queue, uploadr Uploader, cfg Config, clock telemetry.Clock, logger telemetry.Logger) *Processor {
	if cfg.MaxBatchBytes <= 0 {
		cfg.MaxBatchBytes = DefaultConfig().MaxBatchBytes
	}
	if cfg.MaxBatchRecords <= 0 {
		cfg.MaxBatchRecords = DefaultConfig().MaxBatchRecords
	}
	if cfg.ProcessingInterval <= 0 {
		cfg.ProcessingInterval = DefaultConfig().ProcessingInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}
	if logger == nil {
		logger = telemetry.Noop{}
	}
	return &Processor{
		cfg:       cfg,
		queue:     queue,
		uploadr:   uploadr,
		clock:     clock,
		logger:    logger,
		builder:   batch.NewBuilder(cfg.MaxBatchBytes, cfg.MaxBatchRecords, cfg.DeviceID),
		addCh:     make(chan *record.LogRecord),
		addManyCh: make(chan []*record.LogRecord),
		flushCh:   make(chan flushRequest),
		state:     int32(Idle),
	}
}

// State returns the processor's current lifecycle state.
func (p *Processor) State() State { return State(atomic.LoadInt32(&p.state)) }

func (p *Processor) setState(s State) { atomic.StoreInt32(&p.state, int32(s)) }

// Stats returns a snapshot of the processor's counters.
func (p *Processor) Stats() Stats {
	return Stats{
		FlushCount:      atomic.LoadInt64(&p.flushCount),
		RecordsAccepted: atomic.LoadInt64(&p.recordsAccepted),
		RecordsRejected: atomic.LoadInt64(&p.recordsRejected),
	}
}

// Add forwards rec to the consumer loop for inclusion in the
// in-progress batch. It blocks until accepted by the loop or ctx cancels.
func (p *Processor) Add(ctx context.Context, rec *record.LogRecord) error {
	select {
	case p.addCh <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddMany forwards a slice of records as one unit, preserving their order.
func (p *Processor) AddMany(ctx context.Context, recs []*record.LogRecord) error {
	select {
	case p.addManyCh <- recs:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush requests the consumer loop seal and upload the in-progress batch.
// If the builder is currently empty, a no-op result (nil Sealed) is returned
// whatever the value of force.
func (p *Processor) Flush(ctx context.Context, force bool) BatchResult {
	req := flushRequest{force: force, resultCh: make(chan BatchResult, 1)}
	select {
	case p.flushCh <- req:
	case <-ctx.Done():
		return BatchResult{Err: ctx.Err()}
	}
	select {
	case res := <-req.resultCh:
		return res
	case <-ctx.Done():
		return BatchResult{Err: ctx.Err()}
	}
}

// Start transitions Idle -> Running and launches the consumer loop plus a
// forwarder goroutine that drains the Batch Queue into the loop.
func (p *Processor) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.setState(Running)

	p.wg.Add(2)
	go p.forwardFromQueue()
	go p.run()
}

// Stop transitions Running -> Draining, forces a final flush, waits for the
// consumer loop to exit, then transitions to Stopped (spec.md §4.7).
func (p *Processor) Stop(ctx context.Context) {
	p.setState(Draining)
	p.Flush(ctx, true)
	p.cancel()
	p.wg.Wait()
	p.setState(Stopped)
}

func (p *Processor) forwardFromQueue() {
	defer p.wg.Done()
	for {
		recs := p.queue.DequeueUpTo(p.ctx, p.cfg.MaxBatchRecords, nil)
		if len(recs) == 0 {
			if p.ctx.Err() != nil {
				return
			}
			continue
		}
		for _, r := range recs {
			select {
			case p.addCh <- r:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

func (p *Processor) run() {
	defer p.wg.Done()

	processingTicker := time.NewTicker(p.cfg.ProcessingInterval)
	defer processingTicker.Stop()
	idleTimer := time.NewTimer(p.cfg.IdleTimeout)
	defer idleTimer.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return

		case rec := <-p.addCh:
			p.handleAdd(rec)
			resetTimer(idleTimer, p.cfg.IdleTimeout)

		case recs := <-p.addManyCh:
			for _, r := range recs {
				p.handleAdd(r)
			}
			resetTimer(idleTimer, p.cfg.IdleTimeout)

		case req := <-p.flushCh:
			req.resultCh <- p.doFlush(req.force)

		case <-processingTicker.C:
			if !p.builder.IsEmpty() {
				p.doFlush(false)
			}

		case <-idleTimer.C:
			if !p.builder.IsEmpty() {
				p.doFlush(false)
			}
			resetTimer(idleTimer, p.cfg.IdleTimeout)
		}
	}
}

// handleAdd applies the size/count flush-before-add rule of spec.md §4.7's
// triggers 1 and 2.
func (p *Processor) handleAdd(rec *record.LogRecord) {
	size := estimateSize(rec)
	if size > p.cfg.MaxBatchBytes {
		atomic.AddInt64(&p.recordsRejected, 1)
		p.logger.Warn("RecordTooLarge", map[string]any{"id": rec.ID, "size": size})
		return
	}
	if p.builder.WouldExceedBytes(size) || p.builder.WouldExceedCount() {
		p.doFlush(false)
	}
	_ = p.builder.Add(rec, size)
	atomic.AddInt64(&p.recordsAccepted, 1)
}

// doFlush seals the in-progress batch (if non-empty; force does not change
// this) and hands it to the Uploader synchronously, per spec.md §4.7's
// "awaits the result before accepting the next flush" rule — the consumer
// loop is blocked on this call so no concurrent mutation of builder can
// occur.
func (p *Processor) doFlush(force bool) BatchResult {
	if p.builder.IsEmpty() {
		return BatchResult{}
	}
	sealed := p.builder.Seal(p.clock.Now())
	atomic.AddInt64(&p.flushCount, 1)

	res := p.uploadr.UploadBatch(p.ctx, sealed)
	if !res.Success {
		p.logger.Error("batch flush did not upload", map[string]any{"batchId": sealed.ID, "error": errString(res.Err)})
	}
	return BatchResult{Sealed: sealed, Success: res.Success, Err: res.Err}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func estimateSize(rec *record.LogRecord) int {
	b, err := json.Marshal(rec)
	if err != nil {
		return 0
	}
	return len(b) + 1 // + trailing newline in the NDJSON payload
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
