package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfiler_CPU(t *testing.T) {
	// Given
	p := NewProfiler()
	path := filepath.Join(t.TempDir(), "cpu.prof")

	// When: profiling starts and stops
	cleanup, err := p.StartCPU(path)
	require.NoError(t, err)
	_, err = p.StartCPU(path)
	assert.Error(t, err, "second profile while running")
	cleanup()

	// Then: the profile was written and a new one may start
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	cleanup, err = p.StartCPU(path)
	require.NoError(t, err)
	cleanup()
}

func TestProfiler_Trace(t *testing.T) {
	p := NewProfiler()
	path := filepath.Join(t.TempDir(), "trace.out")

	cleanup, err := p.StartTrace(path)
	require.NoError(t, err)
	cleanup()

	assert.FileExists(t, path)
}

func TestProfiler_WriteHeap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mem.prof")

	require.NoError(t, NewProfiler().WriteHeap(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestProfiler_BadPath(t *testing.T) {
	p := NewProfiler()
	bad := filepath.Join(t.TempDir(), "missing", "x.prof")

	_, err := p.StartCPU(bad)
	assert.Error(t, err)
	_, err = p.StartTrace(bad)
	assert.Error(t, err)
	assert.Error(t, p.WriteHeap(bad))
}
