// Package lineproc implements the Line Processor of spec.md §4.4: parse,
// validate, sanitize, and stamp one raw JSON-lines record.
package lineproc

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/hydrangeas/fieldlog-agent/internal/record"
	"github.com/hydrangeas/fieldlog-agent/internal/telemetry"
)

// ErrorClass classifies why a line was dropped, per spec.md §4.4/§7.
type ErrorClass int

const (
	ErrClassNone ErrorClass = iota
	ErrClassMalformedJSON
	ErrClassValidationFailed
	ErrClassUnsupportedTimestamp
)

func (c ErrorClass) String() string {
	switch c {
	case ErrClassMalformedJSON:
		return "MalformedJson"
	case ErrClassValidationFailed:
		return "ValidationFailed"
	case ErrClassUnsupportedTimestamp:
		return "UnsupportedTimestamp"
	default:
		return "None"
	}
}

// LineError is returned for a line that was dropped rather than turned
// into a record. It is never fatal to the file being read (spec.md §4.4).
type LineError struct {
	Class ErrorClass
	Err   error
}

func (e *LineError) Error() string { return fmt.Sprintf("%s: %v", e.Class, e.Err) }
func (e *LineError) Unwrap() error { return e.Err }

// Result is the outcome of processing one raw line.
type Result struct {
	Record  *record.LogRecord
	Skipped bool // whitespace-only line; not an error, not a record
	Err     *LineError
}

// wireRecord mirrors the on-disk JSON shape before validation/escaping.
// Using a distinct struct (rather than record.LogRecord directly) lets us
// control timestamp parsing strictly, per spec.md §4.4 step 3.
type wireRecord struct {
	ID        string            `json:"id"`
	Timestamp string            `json:"timestamp"`
	DeviceID  string            `json:"deviceId"`
	Level     string            `json:"level"`
	Message   string            `json:"message"`
	Category  string            `json:"category"`
	Tags      []string          `json:"tags"`
	Data      map[string]any    `json:"data"`
	Error     *wireErrorInfo    `json:"error"`
}

type wireErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StackTrace string `json:"stackTrace"`
}

// Processor runs the Line Processor pipeline of spec.md §4.4.
type Processor struct {
	clock  telemetry.Clock
	logger telemetry.Logger
}

// New creates a Processor. clock drives the "now" used for timestamp
// validation and the processedAt stamp; logger receives one WARN-level
// notice for every dropped line (the notices are not sampled or capped).
func New(clock telemetry.Clock, logger telemetry.Logger) *Processor {
	if logger == nil {
		logger = telemetry.Noop{}
	}
	return &Processor{clock: clock, logger: logger}
}

// Process runs the six-step pipeline of spec.md §4.4 against one raw line
// from sourceFile.
func (p *Processor) Process(rawLine string, sourceFile string) Result {
	trimmed := strings.TrimSpace(rawLine)
	if trimmed == "" {
		return Result{Skipped: true}
	}

	var wr wireRecord
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&wr); err != nil {
		return p.drop(ErrClassMalformedJSON, err, sourceFile)
	}
	// Strict mode: reject trailing content after the single JSON value.
	var trailing any
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return p.drop(ErrClassMalformedJSON, errors.New("trailing content after JSON value"), sourceFile)
	}

	ts, err := time.Parse(time.RFC3339Nano, wr.Timestamp)
	if err != nil {
		ts, err = time.Parse(time.RFC3339, wr.Timestamp)
	}
	if err != nil {
		return p.drop(ErrClassUnsupportedTimestamp, err, sourceFile)
	}

	level, err := record.ParseLevel(wr.Level)
	if err != nil {
		return p.drop(ErrClassValidationFailed, err, sourceFile)
	}

	rec := &record.LogRecord{
		ID:        wr.ID,
		Timestamp: ts,
		DeviceID:  wr.DeviceID,
		Level:     level,
		Message:   wr.Message,
		Category:  wr.Category,
		Tags:      wr.Tags,
		Data:      wr.Data,
	}
	if wr.Error != nil {
		rec.Error = &record.ErrorInfo{
			Code:       wr.Error.Code,
			Message:    wr.Error.Message,
			StackTrace: wr.Error.StackTrace,
		}
	}

	now := p.clock.Now()
	if err := rec.Validate(now); err != nil {
		return p.drop(ErrClassValidationFailed, err, sourceFile)
	}

	rec.EscapeInPlace()
	rec.Stamp(sourceFile, now)

	return Result{Record: rec}
}

func (p *Processor) drop(class ErrorClass, err error, sourceFile string) Result {
	p.logger.Warn("dropping line", map[string]any{
		"class":      class.String(),
		"sourceFile": sourceFile,
		"error":      err.Error(),
	})
	return Result{Err: &LineError{Class: class, Err: err}}
}
