package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/clipbridge/internal/testutil/faketool"
)

func TestMain(m *testing.M) {
	faketool.RunIfRequested()
	os.Exit(m.Run())
}

// testEnv points every config source at temp directories.
type testEnv struct {
	dataDir  string
	toolRoot string
	workDir  string
}

func isolate(t *testing.T) testEnv {
	t.Helper()
	env := testEnv{
		dataDir:  filepath.Join(t.TempDir(), "data"),
		toolRoot: filepath.Join(t.TempDir(), "tools"),
		workDir:  t.TempDir(),
	}
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(t.TempDir(), "xdg"))
	t.Setenv("CLIPBRIDGE_DATA_DIR", env.dataDir)
	t.Setenv("CLIPBRIDGE_TOOL_ROOT", env.toolRoot)
	t.Setenv("CLIPBRIDGE_TELEMETRY", "0")
	t.Setenv("CLIPBRIDGE_INDEX_PATH", "")
	t.Setenv("CLIPBRIDGE_SOCKET_PATH", "")
	t.Setenv("NO_COLOR", "1")
	t.Chdir(env.workDir)
	return env
}

// execute runs the CLI with args and returns stdout and the error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	stdout := new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func requireFile(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	require.NoError(t, err, "expected %s to exist", path)
}
