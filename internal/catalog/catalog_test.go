package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateReturnsSameDescriptor(t *testing.T) {
	c := New()
	d1 := c.GetOrCreate("/var/log/a.jsonl", "w1")
	d2 := c.GetOrCreate("/var/log/a.jsonl", "w1")
	assert.Same(t, d1, d2)
	assert.Equal(t, Observed, d1.State())
}

func TestCompareAndSetTransitionsState(t *testing.T) {
	c := New()
	d := c.GetOrCreate("/var/log/a.jsonl", "w1")

	require.True(t, d.CompareAndSet(Observed, Stabilizing))
	assert.Equal(t, Stabilizing, d.State())

	require.False(t, d.CompareAndSet(Observed, Reading))
	assert.Equal(t, Stabilizing, d.State())

	require.True(t, d.CompareAndSet(Stabilizing, Reading))
	assert.Equal(t, Reading, d.State())
}

func TestGetMissingPath(t *testing.T) {
	c := New()
	_, ok := c.Get("/nowhere")
	assert.False(t, ok)
}

func TestRemoveAndSnapshot(t *testing.T) {
	c := New()
	c.GetOrCreate("/a", "w1")
	c.GetOrCreate("/b", "w1")
	assert.Equal(t, 2, c.Len())

	snap := c.Snapshot()
	assert.Len(t, snap, 2)

	c.Remove("/a")
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("/a")
	assert.False(t, ok)
}

func TestStateStringValues(t *testing.T) {
	assert.Equal(t, "Observed", Observed.String())
	assert.Equal(t, "Stabilizing", Stabilizing.String())
	assert.Equal(t, "Reading", Reading.String())
	assert.Equal(t, "Processed", Processed.String())
	assert.Equal(t, "Archived", Archived.String())
	assert.Equal(t, "Failed", Failed.String())
}
