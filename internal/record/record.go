// Package record implements the LogRecord data model described in spec.md
// §3: parsing, validation, and the defense-in-depth HTML-escaping invariant
// applied to every string field a downstream viewer might render.
package record

import (
	"fmt"
	"html"
	"time"
)

// ErrorInfo is the optional structured error payload of a LogRecord.
type ErrorInfo struct {
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	StackTrace string `json:"stackTrace,omitempty"`
}

// LogRecord is one ingested event, per spec.md §3.
type LogRecord struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	DeviceID    string         `json:"deviceId"`
	Level       Level          `json:"level"`
	Message     string         `json:"message"`
	Category    string         `json:"category,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Error       *ErrorInfo     `json:"error,omitempty"`
	SourceFile  string         `json:"sourceFile"`
	ProcessedAt time.Time      `json:"processedAt"`
}

// minTimestamp is the lower bound of spec.md §3's timestamp invariant.
var minTimestamp = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Validate checks every constraint in spec.md §3 against a record that has
// already been parsed from JSON but not yet escaped or stamped. now is
// injected so tests can control the "now + 24h" upper timestamp bound.
func (r *LogRecord) Validate(now time.Time) error {
	if l := len(r.ID); l < 1 || l > 50 {
		return fmt.Errorf("id must be 1-50 chars, got %d", l)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	upper := now.Add(24 * time.Hour)
	if r.Timestamp.Before(minTimestamp) || r.Timestamp.After(upper) {
		return fmt.Errorf("timestamp %s outside [%s, %s]", r.Timestamp, minTimestamp, upper)
	}
	if l := len(r.DeviceID); l < 1 || l > 100 {
		return fmt.Errorf("deviceId must be 1-100 chars, got %d", l)
	}
	if r.Level == LevelUnknown {
		return fmt.Errorf("level is required")
	}
	if r.Message == "" {
		return fmt.Errorf("message is required")
	}
	if len(r.Category) > 100 {
		return fmt.Errorf("category must be ≤100 chars, got %d", len(r.Category))
	}
	for i, tag := range r.Tags {
		if tag == "" {
			return fmt.Errorf("tag[%d] must be non-empty", i)
		}
		if len(tag) > 50 {
			return fmt.Errorf("tag[%d] must be ≤50 chars, got %d", i, len(tag))
		}
	}
	if r.Error != nil {
		if len(r.Error.Code) > 50 {
			return fmt.Errorf("error.code must be ≤50 chars, got %d", len(r.Error.Code))
		}
		if r.Error.Message == "" {
			return fmt.Errorf("error.message is required when error is present")
		}
	}
	return nil
}

// EscapeInPlace HTML-escapes every string field visible to downstream
// consumers, as required by spec.md §3. It is idempotent: each field is
// unescaped before it is escaped, so an already-escaped string ("&lt;")
// comes back unchanged instead of having its '&' escaped again, satisfying
// testable property 4 in spec.md §8.
func (r *LogRecord) EscapeInPlace() {
	r.ID = escape(r.ID)
	r.DeviceID = escape(r.DeviceID)
	r.Message = escape(r.Message)
	r.Category = escape(r.Category)
	for i, tag := range r.Tags {
		r.Tags[i] = escape(tag)
	}
	if r.Error != nil {
		r.Error.Message = escape(r.Error.Message)
		r.Error.Code = escape(r.Error.Code)
	}
}

func escape(s string) string {
	return html.EscapeString(html.UnescapeString(s))
}

// Stamp sets the fields the File Reader populates: SourceFile and
// ProcessedAt (spec.md §3, §4.4 step 6).
func (r *LogRecord) Stamp(sourceFile string, processedAt time.Time) {
	r.SourceFile = sourceFile
	r.ProcessedAt = processedAt
}
