package lineproc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrangeas/fieldlog-agent/internal/telemetry"
)

func newProcessor(now time.Time) *Processor {
	return New(telemetry.NewFrozenClock(now), telemetry.Noop{})
}

func TestProcessSkipsBlankLines(t *testing.T) {
	p := newProcessor(time.Now())
	res := p.Process("   \n", "a.jsonl")
	assert.True(t, res.Skipped)
	assert.Nil(t, res.Err)
	assert.Nil(t, res.Record)
}

func TestProcessValidRecord(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := newProcessor(now)
	line := `{"id":"r1","timestamp":"2025-06-01T11:59:00Z","deviceId":"d1","level":"info","message":"hi"}`
	res := p.Process(line, "a.jsonl")
	require.Nil(t, res.Err)
	require.NotNil(t, res.Record)
	assert.Equal(t, "r1", res.Record.ID)
	assert.Equal(t, "a.jsonl", res.Record.SourceFile)
	assert.Equal(t, now, res.Record.ProcessedAt)
}

func TestProcessMalformedJSON(t *testing.T) {
	p := newProcessor(time.Now())
	res := p.Process(`{not json`, "a.jsonl")
	require.NotNil(t, res.Err)
	assert.Equal(t, ErrClassMalformedJSON, res.Err.Class)
}

func TestProcessRejectsTrailingContent(t *testing.T) {
	p := newProcessor(time.Now())
	line := `{"id":"r1","timestamp":"2025-06-01T11:59:00Z","deviceId":"d1","level":"info","message":"hi"} garbage`
	res := p.Process(line, "a.jsonl")
	require.NotNil(t, res.Err)
	assert.Equal(t, ErrClassMalformedJSON, res.Err.Class)
}

func TestProcessRejectsNaNAndInfinity(t *testing.T) {
	p := newProcessor(time.Now())
	line := `{"id":"r1","timestamp":"2025-06-01T11:59:00Z","deviceId":"d1","level":"info","message":"hi","data":{"x":NaN}}`
	res := p.Process(line, "a.jsonl")
	require.NotNil(t, res.Err)
	assert.Equal(t, ErrClassMalformedJSON, res.Err.Class)
}

func TestProcessRejectsUnsupportedTimestamp(t *testing.T) {
	p := newProcessor(time.Now())
	line := `{"id":"r1","timestamp":"06/01/2025","deviceId":"d1","level":"info","message":"hi"}`
	res := p.Process(line, "a.jsonl")
	require.NotNil(t, res.Err)
	assert.Equal(t, ErrClassUnsupportedTimestamp, res.Err.Class)
}

func TestProcessRejectsTimestampOutsideWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := newProcessor(now)
	line := `{"id":"r1","timestamp":"3000-01-01T00:00:00Z","deviceId":"d1","level":"info","message":"hi"}`
	res := p.Process(line, "a.jsonl")
	require.NotNil(t, res.Err)
	assert.Equal(t, ErrClassValidationFailed, res.Err.Class)
}

func TestProcessMixedValidityPreservesSubsequentLines(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p := newProcessor(now)
	lines := []string{
		`{"id":"r1","timestamp":"2025-06-01T11:00:00Z","deviceId":"d1","level":"info","message":"one"}`,
		`{not json`,
		`{"id":"r2","timestamp":"3000-01-01T00:00:00Z","deviceId":"d1","level":"info","message":"bad-year"}`,
		`{"id":"r3","timestamp":"2025-06-01T11:01:00Z","deviceId":"d1","level":"info","message":"three"}`,
	}
	var accepted []string
	var malformed, validationFailed int
	for _, l := range lines {
		res := p.Process(l, "a.jsonl")
		switch {
		case res.Record != nil:
			accepted = append(accepted, res.Record.ID)
		case res.Err != nil && res.Err.Class == ErrClassMalformedJSON:
			malformed++
		case res.Err != nil && res.Err.Class == ErrClassValidationFailed:
			validationFailed++
		}
	}
	assert.Equal(t, []string{"r1", "r3"}, accepted)
	assert.Equal(t, 1, malformed)
	assert.Equal(t, 1, validationFailed)
}

func TestProcessEscapesHTML(t *testing.T) {
	p := newProcessor(time.Now())
	line := `{"id":"r1","timestamp":"2025-06-01T11:00:00Z","deviceId":"d1","level":"info","message":"<b>hi</b>"}`
	res := p.Process(line, "a.jsonl")
	require.NotNil(t, res.Record)
	assert.NotContains(t, res.Record.Message, "<b>")
}
