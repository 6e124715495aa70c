package preflight

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/clipbridge/internal/locator"
)

func readyReport() locator.Report {
	return locator.Report{
		Root:        "/opt/clip",
		GOOS:        "linux",
		Supported:   true,
		PackageDir:  "/opt/clip/clipunity-v1.2.0",
		Executable:  "/opt/clip/clipunity-v1.2.0/linux/clip_tool",
		Exists:      true,
		ExecBit:     true,
		IndexPath:   "/data/index/index.pt",
		IndexExists: true,
	}
}

func TestCheckStatus_String(t *testing.T) {
	assert.Equal(t, "PASS", StatusPass.String())
	assert.Equal(t, "WARN", StatusWarn.String())
	assert.Equal(t, "FAIL", StatusFail.String())
	assert.Equal(t, "UNKNOWN", CheckStatus(7).String())
}

func TestCheckResult_IsCritical(t *testing.T) {
	assert.False(t, CheckResult{Status: StatusPass, Required: true}.IsCritical())
	assert.True(t, CheckResult{Status: StatusFail, Required: true}.IsCritical())
	assert.False(t, CheckResult{Status: StatusFail}.IsCritical())
	assert.False(t, CheckResult{Status: StatusWarn, Required: true}.IsCritical())
}

func TestChecker_RunAll_Ready(t *testing.T) {
	// Given: a complete installation and a writable data dir
	c := New(WithOutput(&bytes.Buffer{}))
	dataDir := filepath.Join(t.TempDir(), ".clipbridge")

	// When
	results := c.RunAll(context.Background(), readyReport(), dataDir)

	// Then: every check ran and none is critical
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"platform", "clip_tool", "executable", "index", "data_dir", "disk_space", "file_descriptors"}, names)
	assert.False(t, c.HasCriticalFailures(results))
	assert.DirExists(t, dataDir)
}

func TestChecker_ToolChecks(t *testing.T) {
	c := New()

	tests := []struct {
		name     string
		mutate   func(*locator.Report)
		check    func(locator.Report) CheckResult
		want     CheckStatus
		critical bool
		message  string
	}{
		{"platform ok", func(*locator.Report) {}, c.CheckPlatform, StatusPass, false, "linux"},
		{"platform unsupported", func(r *locator.Report) { r.GOOS, r.Supported = "plan9", false }, c.CheckPlatform, StatusFail, true, "plan9 is not supported"},
		{"tool ok", func(*locator.Report) {}, c.CheckTool, StatusPass, false, "/opt/clip/clipunity-v1.2.0/linux/clip_tool"},
		{"tool not installed", func(r *locator.Report) { r.Error = "clip_tool is not installed" }, c.CheckTool, StatusFail, true, "clip_tool is not installed"},
		{"tool missing binary", func(r *locator.Report) { r.Exists = false }, c.CheckTool, StatusFail, true, "/opt/clip/clipunity-v1.2.0/linux/clip_tool does not exist"},
		{"exec bit missing", func(r *locator.Report) { r.ExecBit = false }, c.CheckExecutableBit, StatusWarn, false, "clip_tool is not executable"},
		{"exec bit skipped", func(r *locator.Report) { r.Exists = false }, c.CheckExecutableBit, StatusWarn, false, "skipped, clip_tool not found"},
		{"index missing", func(r *locator.Report) { r.IndexExists = false }, c.CheckIndex, StatusWarn, false, "/data/index/index.pt not built yet"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := readyReport()
			tt.mutate(&report)

			got := tt.check(report)

			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.critical, got.IsCritical())
			assert.Equal(t, tt.message, got.Message)
		})
	}
}

func TestChecker_CheckWritePermissions_ReadOnly(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	// Given: a read-only parent
	parent := t.TempDir()
	require.NoError(t, os.Chmod(parent, 0o555))
	t.Cleanup(func() { _ = os.Chmod(parent, 0o755) })

	// When
	result := New().CheckWritePermissions(filepath.Join(parent, "data"))

	// Then
	assert.Equal(t, StatusFail, result.Status)
	assert.True(t, result.IsCritical())
}

func TestChecker_CheckDiskSpace_MissingDirUsesParent(t *testing.T) {
	result := New().CheckDiskSpace(filepath.Join(t.TempDir(), "not", "yet"))

	assert.NotEqual(t, StatusFail, result.Status)
	assert.NotEmpty(t, result.Message)
}

func TestChecker_SummaryStatus(t *testing.T) {
	c := New()
	assert.Equal(t, "ready", c.SummaryStatus([]CheckResult{{Status: StatusPass, Required: true}}))
	assert.Equal(t, "ready_with_warnings", c.SummaryStatus([]CheckResult{{Status: StatusWarn}}))
	assert.Equal(t, "ready_with_warnings", c.SummaryStatus([]CheckResult{{Status: StatusFail}}))
	assert.Equal(t, "failed", c.SummaryStatus([]CheckResult{{Status: StatusWarn}, {Status: StatusFail, Required: true}}))
}

func TestChecker_PrintResults(t *testing.T) {
	// Given: one failure and one warning
	buf := &bytes.Buffer{}
	c := New(WithOutput(buf))
	results := []CheckResult{
		{Name: "clip_tool", Status: StatusFail, Required: true, Message: "not installed", Details: "install it"},
		{Name: "index", Status: StatusWarn, Message: "not built yet"},
		{Name: "platform", Status: StatusPass, Required: true, Message: "linux", Details: "hidden unless verbose"},
	}

	// When
	c.PrintResults(results)

	// Then
	out := buf.String()
	assert.Contains(t, out, "[FAIL] clip_tool: not installed\n       install it\n")
	assert.Contains(t, out, "[WARN] index: not built yet")
	assert.NotContains(t, out, "hidden unless verbose")
	assert.Contains(t, out, "Status: FAILED")
	assert.Contains(t, out, "1 error(s):\n  - clip_tool: not installed")
	assert.Contains(t, out, "1 warning(s):\n  - index: not built yet")
}

func TestChecker_PrintResults_Verbose(t *testing.T) {
	buf := &bytes.Buffer{}
	New(WithOutput(buf), WithVerbose(true)).PrintResults([]CheckResult{
		{Name: "platform", Status: StatusPass, Message: "linux", Details: "shown"},
	})

	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "Status: READY")
}

func TestCheckResult_JSONStatusName(t *testing.T) {
	data, err := json.Marshal(CheckResult{Name: "index", Status: StatusWarn})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"warn"`)
}
