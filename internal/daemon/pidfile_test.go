package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFile_WriteReadRemove(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "nested", "d.pid"))

	_, err := pf.Read()
	assert.ErrorIs(t, err, ErrPIDFileNotFound)
	assert.False(t, pf.IsRunning())

	require.NoError(t, pf.Write())
	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, pf.IsRunning())

	require.NoError(t, pf.Remove())
	require.NoError(t, pf.Remove())
	assert.NoFileExists(t, pf.Path())
}

func TestPIDFile_ReadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o644))

	_, err := NewPIDFile(path).Read()

	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrPIDFileNotFound)
}

func TestPIDFile_ReadTrimsWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.pid")
	require.NoError(t, os.WriteFile(path, []byte("4242\n"), 0o644))

	pid, err := NewPIDFile(path).Read()

	require.NoError(t, err)
	assert.Equal(t, 4242, pid)
}

func TestPIDFile_AcquireRefusesLiveOwner(t *testing.T) {
	// Given: a PID file naming another live process
	path := filepath.Join(t.TempDir(), "d.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid()+1)), 0o644))
	pf := NewPIDFile(path)
	pf.alive = func(int) bool { return true }

	// When: acquiring
	err := pf.Acquire()

	// Then
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestPIDFile_AcquireReplacesStaleFile(t *testing.T) {
	// Given: a PID file left by a dead process
	path := filepath.Join(t.TempDir(), "d.pid")
	require.NoError(t, os.WriteFile(path, []byte("99999"), 0o644))
	pf := NewPIDFile(path)
	pf.alive = func(int) bool { return false }

	// When: acquiring
	require.NoError(t, pf.Acquire())

	// Then: the file names this process
	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}
