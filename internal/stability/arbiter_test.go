package stability

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIsStableFirstPollIsGrowing(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.jsonl", "line one\n")

	a := New(DefaultConfig())
	got := a.IsStable(path, time.Now())
	assert.Equal(t, Growing, got)
}

func TestIsStableBecomesStableAfterTwoUnchangedPolls(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.jsonl", "line one\n")

	a := New(Config{StabilizationPeriod: time.Second, MaxProbeAttempts: 5})
	fi, err := os.Stat(path)
	require.NoError(t, err)

	require.Equal(t, Growing, a.IsStable(path, fi.ModTime()))
	require.Equal(t, Growing, a.IsStable(path, fi.ModTime()))
	got := a.IsStable(path, fi.ModTime().Add(2*time.Second))
	assert.Equal(t, Stable, got)
}

func TestIsStableResetsOnSizeChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.jsonl", "line one\n")

	a := New(Config{StabilizationPeriod: time.Second, MaxProbeAttempts: 5})
	require.Equal(t, Growing, a.IsStable(path, time.Now()))
	require.Equal(t, Growing, a.IsStable(path, time.Now()))

	require.NoError(t, os.WriteFile(path, []byte("line one\nline two\n"), 0o644))
	got := a.IsStable(path, time.Now().Add(5*time.Second))
	assert.Equal(t, Growing, got)
}

func TestIsStableZeroLengthFileNeverStable(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "empty.jsonl", "")

	a := New(Config{StabilizationPeriod: time.Second, MaxProbeAttempts: 5})
	require.Equal(t, Growing, a.IsStable(path, time.Now()))
	got := a.IsStable(path, time.Now().Add(10*time.Second))
	assert.Equal(t, Growing, got)
}

func TestIsStableGoneWhenFileRemoved(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.jsonl", "line one\n")

	a := New(DefaultConfig())
	a.IsStable(path, time.Now())
	require.NoError(t, os.Remove(path))

	got := a.IsStable(path, time.Now())
	assert.Equal(t, Gone, got)
}

func TestForgetDropsHistory(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.jsonl", "line one\n")

	a := New(DefaultConfig())
	a.IsStable(path, time.Now())
	a.Forget(path)
	_, tracked := a.samples[path]
	assert.False(t, tracked)
}
