package deadletter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrangeas/fieldlog-agent/internal/batch"
	"github.com/hydrangeas/fieldlog-agent/internal/record"
	"github.com/hydrangeas/fieldlog-agent/internal/telemetry"
)

func TestPersistWritesPayloadAndReasonSidecar(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := New(filepath.Join(dir, "dead-letter"), telemetry.NewFrozenClock(now), telemetry.Noop{})

	b := batch.NewBuilder(1024, 10, "device-1")
	require.NoError(t, b.Add(&record.LogRecord{ID: "r1", SourceFile: "a.jsonl"}, 10))
	sealed := b.Seal(now)

	require.NoError(t, s.Persist(context.Background(), sealed, "upload retries exhausted"))

	payload, err := os.ReadFile(filepath.Join(dir, "dead-letter", "device-1", sealed.ID+".jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"id":"r1"`)

	reason, err := os.ReadFile(filepath.Join(dir, "dead-letter", "device-1", sealed.ID+".reason"))
	require.NoError(t, err)
	assert.Contains(t, string(reason), "upload retries exhausted")
	assert.Contains(t, string(reason), sealed.ID)
	assert.Contains(t, string(reason), "device-1")
}
