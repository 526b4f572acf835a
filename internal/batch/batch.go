// Package batch implements the Batch value type of spec.md §3: a sealed,
// bounded group of validated records uploaded as one object, plus the
// builder the Batch Processor uses to accumulate records into one.
package batch

import (
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/hydrangeas/fieldlog-agent/internal/record"
)

// ErrRecordTooLarge is returned by Builder.Add when a single record's
// serialized size alone exceeds MaxBatchBytes (spec.md §4.7).
var ErrRecordTooLarge = errors.New("batch: record exceeds MaxBatchBytes on its own")

// Batch is an immutable, sealed group of records. Attributes and invariants
// per spec.md §3: byte-size <= MaxBatchBytes, record-count <= MaxBatchRecords,
// created-at <= now, never mutated after sealing.
type Batch struct {
	ID          string
	DeviceID    string
	CreatedAt   time.Time
	Records     []*record.LogRecord
	SourceFiles []string
	ByteSize    int
}

// RecordCount returns the number of records in the batch.
func (b *Batch) RecordCount() int { return len(b.Records) }

// MarshalNDJSON renders the batch as newline-delimited JSON, one record per
// line with a trailing newline and no enclosing array, matching the
// uploaded-object content contract of spec.md §6.
func (b *Batch) MarshalNDJSON() ([]byte, error) {
	out := make([]byte, 0, b.ByteSize+len(b.Records))
	for _, r := range b.Records {
		line, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out, nil
}

// Builder accumulates records for one in-progress batch. It is mutated only
// by the Batch Processor's single consumer goroutine (spec.md §5).
type Builder struct {
	maxBytes   int
	maxRecords int
	deviceID   string

	records     []*record.LogRecord
	sourceFiles map[string]struct{}
	byteSize    int
}

// NewBuilder creates an empty Builder bounded by maxBytes and maxRecords,
// stamping every batch it seals with deviceID (spec.md §6's device-identity
// channel).
func NewBuilder(maxBytes, maxRecords int, deviceID string) *Builder {
	return &Builder{
		maxBytes:    maxBytes,
		maxRecords:  maxRecords,
		deviceID:    deviceID,
		sourceFiles: make(map[string]struct{}),
	}
}

// Len reports the number of records accumulated so far.
func (b *Builder) Len() int { return len(b.records) }

// ByteSize reports the accumulated serialized byte size so far.
func (b *Builder) ByteSize() int { return b.byteSize }

// IsEmpty reports whether the builder holds no records.
func (b *Builder) IsEmpty() bool { return len(b.records) == 0 }

// WouldExceedBytes reports whether adding a record of recordSize bytes
// would push the builder over maxBytes.
func (b *Builder) WouldExceedBytes(recordSize int) bool {
	return b.byteSize+recordSize > b.maxBytes
}

// WouldExceedCount reports whether adding one more record would push the
// builder over maxRecords.
func (b *Builder) WouldExceedCount() bool {
	return len(b.records)+1 > b.maxRecords
}

// Add appends rec, whose serialized size is recordSize. It returns
// ErrRecordTooLarge if recordSize alone exceeds maxBytes; callers must check
// WouldExceedBytes/WouldExceedCount and flush before calling Add when either
// would be violated (spec.md §4.7's flush-before-add ordering).
func (b *Builder) Add(rec *record.LogRecord, recordSize int) error {
	if recordSize > b.maxBytes {
		return ErrRecordTooLarge
	}
	b.records = append(b.records, rec)
	b.sourceFiles[rec.SourceFile] = struct{}{}
	b.byteSize += recordSize
	return nil
}

// Seal closes the builder to further additions and returns the immutable
// Batch, stamped with a fresh UUID and the given creation time. The builder
// is left empty and ready to accumulate the next batch.
func (b *Builder) Seal(now time.Time) *Batch {
	sources := make([]string, 0, len(b.sourceFiles))
	for f := range b.sourceFiles {
		sources = append(sources, f)
	}
	batch := &Batch{
		ID:          uuid.NewString(),
		DeviceID:    b.deviceID,
		CreatedAt:   now,
		Records:     b.records,
		SourceFiles: sources,
		ByteSize:    b.byteSize,
	}
	b.records = nil
	b.sourceFiles = make(map[string]struct{})
	b.byteSize = 0
	return batch
}
