// Package deadletter implements the on-disk dead-letter landing zone
// referenced in spec.md §4.7/§4.9/§7: batches that exhaust retry or hit a
// permanent remote error are persisted here and never auto-deleted.
package deadletter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hydrangeas/fieldlog-agent/internal/batch"
	"github.com/hydrangeas/fieldlog-agent/internal/telemetry"
)

// Sink writes failed batches to Dir as two files per batch: the
// newline-delimited JSON payload and a ".reason" sidecar explaining why it
// landed here. This sidecar is a supplemented feature (spec.md is silent on
// the dead-letter file's shape beyond "on-disk landing zone").
type Sink struct {
	dir    string
	clock  telemetry.Clock
	logger telemetry.Logger
}

// New constructs a Sink rooted at dir. The directory is created on first
// use if missing.
func New(dir string, clock telemetry.Clock, logger telemetry.Logger) *Sink {
	if logger == nil {
		logger = telemetry.Noop{}
	}
	return &Sink{dir: dir, clock: clock, logger: logger}
}

// Persist writes b's NDJSON payload and a reason sidecar under
// Dir/{deviceId}/, named by the batch's id so operators and external
// tooling can correlate them (SPEC_FULL.md §10's
// `{DeadLetterPath}/{deviceId}/{batchId}.jsonl` layout).
func (s *Sink) Persist(ctx context.Context, b *batch.Batch, reason string) error {
	deviceDir := filepath.Join(s.dir, b.DeviceID)
	if err := os.MkdirAll(deviceDir, 0o755); err != nil {
		return fmt.Errorf("deadletter: create dir: %w", err)
	}

	body, err := b.MarshalNDJSON()
	if err != nil {
		return fmt.Errorf("deadletter: marshal batch %s: %w", b.ID, err)
	}

	payloadPath := filepath.Join(deviceDir, b.ID+".jsonl")
	if err := os.WriteFile(payloadPath, body, 0o644); err != nil {
		return fmt.Errorf("deadletter: write payload: %w", err)
	}

	sidecar := fmt.Sprintf("batchId=%s\ndeviceId=%s\nrecordCount=%d\nsealedAt=%s\nfailedAt=%s\nreason=%s\n",
		b.ID, b.DeviceID, b.RecordCount(), b.CreatedAt.Format(time.RFC3339), s.clock.Now().Format(time.RFC3339), reason)
	reasonPath := filepath.Join(deviceDir, b.ID+".reason")
	if err := os.WriteFile(reasonPath, []byte(sidecar), 0o644); err != nil {
		return fmt.Errorf("deadletter: write reason sidecar: %w", err)
	}

	s.logger.Warn("batch dead-lettered", map[string]any{"batchId": b.ID, "deviceId": b.DeviceID, "reason": reason, "records": b.RecordCount()})
	return nil
}
