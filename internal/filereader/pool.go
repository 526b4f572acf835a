package filereader

import (
	"context"
	"runtime"
	"sync"

	"github.com/hydrangeas/fieldlog-agent/internal/catalog"
	"github.com/hydrangeas/fieldlog-agent/internal/telemetry"
)

// Pool bounds the number of files read in parallel to MaxConcurrency
// (default host-CPU count), per spec.md §4.5.
type Pool struct {
	reader         *Reader
	maxConcurrency int
	logger         telemetry.Logger

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewPool constructs a Pool. maxConcurrency <= 0 defaults to runtime.NumCPU().
func NewPool(reader *Reader, maxConcurrency int, logger telemetry.Logger) *Pool {
	if maxConcurrency <= 0 {
		maxConcurrency = runtime.NumCPU()
	}
	if logger == nil {
		logger = telemetry.Noop{}
	}
	return &Pool{
		reader:         reader,
		maxConcurrency: maxConcurrency,
		logger:         logger,
		sem:            make(chan struct{}, maxConcurrency),
	}
}

// Submit schedules path for reading once a concurrency slot is free. It
// blocks until a slot is acquired or ctx is cancelled. onDone, if non-nil,
// receives the Result once the read completes.
func (p *Pool) Submit(ctx context.Context, path string, d *catalog.Descriptor, sink RecordSink, onDone func(Result)) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()

		res := p.reader.Read(ctx, path, d, sink)
		if onDone != nil {
			onDone(res)
		}
	}()
}

// Wait blocks until all submitted reads have completed.
func (p *Pool) Wait() { p.wg.Wait() }
