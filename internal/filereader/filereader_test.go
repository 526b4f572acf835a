package filereader

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrangeas/fieldlog-agent/internal/catalog"
	"github.com/hydrangeas/fieldlog-agent/internal/record"
	"github.com/hydrangeas/fieldlog-agent/internal/telemetry"
)

type fakeSink struct {
	mu      sync.Mutex
	records []*record.LogRecord
}

func (s *fakeSink) Enqueue(_ context.Context, rec *record.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *fakeSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.records))
	for i, r := range s.records {
		out[i] = r.ID
	}
	return out
}

func writeLines(t *testing.T, dir, name string, lines []string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadHappyPath(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	path := writeLines(t, dir, "a.jsonl", []string{
		`{"id":"r1","timestamp":"2025-06-01T11:00:00Z","deviceId":"d1","level":"info","message":"one"}`,
		`{"id":"r2","timestamp":"2025-06-01T11:01:00Z","deviceId":"d1","level":"info","message":"two"}`,
		`{"id":"r3","timestamp":"2025-06-01T11:02:00Z","deviceId":"d1","level":"info","message":"three"}`,
	})

	r := New(DefaultConfig(), telemetry.NewFrozenClock(now), telemetry.Noop{})
	cat := catalog.New()
	d := cat.GetOrCreate(path, "w1")
	d.CompareAndSet(catalog.Observed, catalog.Stabilizing)

	sink := &fakeSink{}
	res := r.Read(context.Background(), path, d, sink)

	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.RecordsAccepted)
	assert.Equal(t, []string{"r1", "r2", "r3"}, sink.ids())
	assert.Equal(t, catalog.Processed, d.State())
}

func TestReadMixedValidity(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	path := writeLines(t, dir, "a.jsonl", []string{
		`{"id":"r1","timestamp":"2025-06-01T11:00:00Z","deviceId":"d1","level":"info","message":"one"}`,
		`{not json`,
		`{"id":"r2","timestamp":"3000-01-01T00:00:00Z","deviceId":"d1","level":"info","message":"bad"}`,
		`{"id":"r3","timestamp":"2025-06-01T11:02:00Z","deviceId":"d1","level":"info","message":"three"}`,
	})

	r := New(DefaultConfig(), telemetry.NewFrozenClock(now), telemetry.Noop{})
	cat := catalog.New()
	d := cat.GetOrCreate(path, "w1")
	d.CompareAndSet(catalog.Observed, catalog.Stabilizing)

	sink := &fakeSink{}
	res := r.Read(context.Background(), path, d, sink)

	require.NoError(t, res.Err)
	assert.Equal(t, []string{"r1", "r3"}, sink.ids())
	assert.Equal(t, 1, res.Drops.MalformedJSON)
	assert.Equal(t, 1, res.Drops.ValidationFailed)
}

func TestReadRejectsDescriptorInWrongState(t *testing.T) {
	dir := t.TempDir()
	path := writeLines(t, dir, "a.jsonl", []string{`{"id":"r1"}`})

	r := New(DefaultConfig(), telemetry.SystemClock{}, telemetry.Noop{})
	cat := catalog.New()
	d := cat.GetOrCreate(path, "w1")
	d.CompareAndSet(catalog.Observed, catalog.Reading)
	d.CompareAndSet(catalog.Reading, catalog.Processed)

	sink := &fakeSink{}
	res := r.Read(context.Background(), path, d, sink)
	assert.Error(t, res.Err)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	r := New(DefaultConfig(), telemetry.NewFrozenClock(now), telemetry.Noop{})
	pool := NewPool(r, 2, telemetry.Noop{})
	cat := catalog.New()
	sink := &fakeSink{}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		path := writeLines(t, dir, testFileName(i), []string{
			`{"id":"r","timestamp":"2025-06-01T11:00:00Z","deviceId":"d1","level":"info","message":"x"}`,
		})
		d := cat.GetOrCreate(path, "w1")
		d.CompareAndSet(catalog.Observed, catalog.Stabilizing)
		wg.Add(1)
		pool.Submit(context.Background(), path, d, sink, func(Result) { wg.Done() })
	}
	wg.Wait()
	pool.Wait()
	assert.Len(t, sink.ids(), 5)
}

func testFileName(i int) string {
	return "f" + string(rune('a'+i)) + ".jsonl"
}

func TestReadStripsUTF8BOM(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	line := `{"id":"r1","timestamp":"2025-06-01T11:00:00Z","deviceId":"d1","level":"info","message":"one"}`
	content := append([]byte{0xEF, 0xBB, 0xBF}, []byte(line+"\n")...)
	path := filepath.Join(dir, "bom.jsonl")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	r := New(DefaultConfig(), telemetry.NewFrozenClock(now), telemetry.Noop{})
	cat := catalog.New()
	d := cat.GetOrCreate(path, "w1")
	d.CompareAndSet(catalog.Observed, catalog.Stabilizing)

	sink := &fakeSink{}
	res := r.Read(context.Background(), path, d, sink)

	require.NoError(t, res.Err)
	assert.Equal(t, 0, res.Drops.MalformedJSON)
	assert.Equal(t, []string{"r1"}, sink.ids())
}

func TestReadTranscodesUTF16LE(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	line := `{"id":"r1","timestamp":"2025-06-01T11:00:00Z","deviceId":"d1","level":"info","message":"one"}` + "\n"

	codePoints := utf16.Encode([]rune(line))
	body := make([]byte, 0, len(codePoints)*2)
	for _, cp := range codePoints {
		body = binary.LittleEndian.AppendUint16(body, cp)
	}
	content := append([]byte{0xFF, 0xFE}, body...)

	path := filepath.Join(dir, "utf16le.jsonl")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	r := New(DefaultConfig(), telemetry.NewFrozenClock(now), telemetry.Noop{})
	cat := catalog.New()
	d := cat.GetOrCreate(path, "w1")
	d.CompareAndSet(catalog.Observed, catalog.Stabilizing)

	sink := &fakeSink{}
	res := r.Read(context.Background(), path, d, sink)

	require.NoError(t, res.Err)
	assert.Equal(t, 0, res.Drops.MalformedJSON)
	assert.Equal(t, []string{"r1"}, sink.ids())
}
