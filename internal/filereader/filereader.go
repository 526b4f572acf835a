// Package filereader implements the File Reader of spec.md §4.5: a lazy,
// finite stream that reads one stable file line-by-line into the Line
// Processor and forwards valid records downstream, then releases the file
// descriptor. Adapted from the teacher's fileStream (driver/log/tailer/
// logstream/filestream.go): the reconnect-after-EOF, truncation, and
// rotation handling there is dropped because File Reader input is already
// known-stable and not restartable, but the retry-then-fail shape for
// mid-stream I/O errors is kept.
package filereader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/hydrangeas/fieldlog-agent/internal/catalog"
	"github.com/hydrangeas/fieldlog-agent/internal/encoding"
	"github.com/hydrangeas/fieldlog-agent/internal/lineproc"
	"github.com/hydrangeas/fieldlog-agent/internal/record"
	"github.com/hydrangeas/fieldlog-agent/internal/telemetry"
)

const (
	readBufferSize  = 64 * 1024
	maxLineBufferSize = 4 * 1024 * 1024
	sniffSize       = 4 * 1024
)

// RecordSink is the downstream the File Reader forwards accepted records
// to. The Batch Queue implements this.
type RecordSink interface {
	Enqueue(ctx context.Context, rec *record.LogRecord) error
}

// Config holds the File Reader's tunables (spec.md §4.5, §6).
type Config struct {
	MaxReadRetries      int
	RetryBackoff        time.Duration // linear step, default 500ms
	BytesPerSecondFloor int64         // defaulted but not read: Read applies no whole-file deadline
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{MaxReadRetries: 3, RetryBackoff: 500 * time.Millisecond, BytesPerSecondFloor: 1 << 20}
}

// DropCounts tallies per-file Line Processor rejections, surfaced to
// health/metrics and used by scenario S2's assertions.
type DropCounts struct {
	MalformedJSON        int
	ValidationFailed     int
	UnsupportedTimestamp int
}

// Result summarizes one completed Read call.
type Result struct {
	RecordsAccepted int
	Drops           DropCounts
	Err             error
}

// Reader streams one file at a time to completion.
type Reader struct {
	cfg       Config
	processor *lineproc.Processor
	logger    telemetry.Logger
	clock     telemetry.Clock
}

// New constructs a Reader.
func New(cfg Config, clock telemetry.Clock, logger telemetry.Logger) *Reader {
	if cfg.MaxReadRetries <= 0 {
		cfg.MaxReadRetries = DefaultConfig().MaxReadRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}
	if cfg.BytesPerSecondFloor <= 0 {
		cfg.BytesPerSecondFloor = DefaultConfig().BytesPerSecondFloor
	}
	if logger == nil {
		logger = telemetry.Noop{}
	}
	return &Reader{cfg: cfg, processor: lineproc.New(clock, logger), logger: logger, clock: clock}
}

// Read streams path to completion, handing each accepted record to sink.
// d is the file's catalog descriptor; Read transitions it Stabilizing (or
// Observed, on a rescan-recovered path) to Reading, then to Processed or
// Failed.
func (r *Reader) Read(ctx context.Context, path string, d *catalog.Descriptor, sink RecordSink) Result {
	if !d.CompareAndSet(catalog.Stabilizing, catalog.Reading) {
		if !d.CompareAndSet(catalog.Observed, catalog.Reading) {
			return Result{Err: fmt.Errorf("filereader: %s not in a readable state (got %s)", path, d.State())}
		}
	}

	res := r.readLoop(ctx, path, sink)
	if res.Err != nil {
		d.CompareAndSet(catalog.Reading, catalog.Failed)
		r.logger.Error("file read failed", map[string]any{"path": path, "error": res.Err.Error()})
		return res
	}
	d.CompareAndSet(catalog.Reading, catalog.Processed)
	return res
}

func (r *Reader) readLoop(ctx context.Context, path string, sink RecordSink) Result {
	var result Result
	var offset int64
	var enc *encoding.Result
	attempts := 0

	for {
		n, readErr := r.readFrom(ctx, path, offset, &enc, sink, &result)
		offset += n
		if readErr == nil {
			return result
		}
		if errors.Is(readErr, context.Canceled) || errors.Is(readErr, context.DeadlineExceeded) {
			result.Err = readErr
			return result
		}
		attempts++
		if attempts > r.cfg.MaxReadRetries {
			result.Err = fmt.Errorf("filereader: exhausted retries on %s: %w", path, readErr)
			return result
		}
		r.logger.Warn("retrying file read", map[string]any{"path": path, "attempt": attempts, "error": readErr.Error()})
		select {
		case <-time.After(time.Duration(attempts) * r.cfg.RetryBackoff):
		case <-ctx.Done():
			result.Err = ctx.Err()
			return result
		}
	}
}

// readFrom opens path, seeks to offset, and streams lines until EOF, ctx
// cancellation, or a read error. It returns the number of bytes consumed in
// this attempt (added to the caller's running offset on retry). enc caches
// the encoding detected on the first (offset == 0) attempt so a retry that
// resumes mid-file doesn't re-sniff the BOM; the resume seek adds the BOM
// length back. consumed is counted in decoded bytes with one byte per line
// terminator, so a mid-file retry on a transcoded (UTF-16) file or on a file
// with CRLF line endings seeks to an earlier, approximate offset; this only
// affects the rare case of an I/O error occurring partway through the file.
func (r *Reader) readFrom(ctx context.Context, path string, offset int64, enc **encoding.Result, sink RecordSink, result *Result) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if offset > 0 {
		seekTo := offset
		if *enc != nil {
			seekTo += int64((*enc).BOMLen)
		}
		if _, err := f.Seek(seekTo, io.SeekStart); err != nil {
			return 0, err
		}
	} else {
		sniff := make([]byte, sniffSize)
		n, _ := f.Read(sniff)
		detected := encoding.Detect(sniff[:n])
		if detected.Ambiguous {
			r.logger.Warn("ambiguous encoding, defaulting to UTF-8", map[string]any{"path": path})
		}
		*enc = &detected
		if _, err := f.Seek(int64(detected.BOMLen), io.SeekStart); err != nil {
			return 0, err
		}
	}

	var src io.Reader = f
	if *enc != nil {
		switch (*enc).Encoding {
		case encoding.UTF16LE:
			src = transform.NewReader(f, unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder())
		case encoding.UTF16BE:
			src = transform.NewReader(f, unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder())
		}
	}

	br := bufio.NewReaderSize(src, readBufferSize)
	scanner := bufio.NewScanner(br)
	scanner.Buffer(make([]byte, readBufferSize), maxLineBufferSize)

	var consumed int64
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return consumed, ctx.Err()
		default:
		}

		line := scanner.Text()
		consumed += int64(len(line)) + 1

		out := r.processor.Process(line, path)
		switch {
		case out.Skipped:
			continue
		case out.Err != nil:
			tally(result, out.Err.Class)
			continue
		default:
			if err := sink.Enqueue(ctx, out.Record); err != nil {
				return consumed, err
			}
			result.RecordsAccepted++
		}
	}
	if err := scanner.Err(); err != nil {
		return consumed, err
	}
	return consumed, nil
}

func tally(result *Result, class lineproc.ErrorClass) {
	switch class {
	case lineproc.ErrClassMalformedJSON:
		result.Drops.MalformedJSON++
	case lineproc.ErrClassValidationFailed:
		result.Drops.ValidationFailed++
	case lineproc.ErrClassUnsupportedTimestamp:
		result.Drops.UnsupportedTimestamp++
	}
}
