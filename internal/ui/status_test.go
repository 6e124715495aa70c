package ui

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/clipbridge/internal/daemon"
	"github.com/Aman-CERP/clipbridge/internal/locator"
)

func TestStatusRenderer_Render(t *testing.T) {
	// Given: a ready tool, an index and a running daemon
	info := StatusInfo{
		Tool: locator.Report{
			GOOS:        "linux",
			Executable:  "/opt/clip/linux/clip_tool",
			Exists:      true,
			IndexPath:   "/data/index.pt",
			IndexExists: true,
		},
		IndexSize:   3 * 1024 * 1024,
		LastIndexed: time.Now().Add(-2 * time.Hour),
		Daemon: &daemon.StatusResult{
			Running:      true,
			PID:          99,
			Uptime:       "5m0s",
			SessionState: "started",
			Threshold:    0.25,
			TopK:         5,
			Queries:      7,
			CacheEntries: 3,
			Breaker:      "closed",
		},
	}
	buf := &bytes.Buffer{}

	// When
	require.NoError(t, NewStatusRenderer(buf, true).Render(info))

	// Then
	out := buf.String()
	assert.Contains(t, out, "Executable: /opt/clip/linux/clip_tool")
	assert.Contains(t, out, "Status:     ready")
	assert.Contains(t, out, "Size:         3.0 MB")
	assert.Contains(t, out, "Last indexed: 2 hours ago")
	assert.Contains(t, out, "running (pid 99, up 5m0s)")
	assert.Contains(t, out, "Threshold: 0.25   Top K: 5")
	assert.Contains(t, out, "Queries:   7 (3 cached entries, 0 restarts)")
}

func TestStatusRenderer_RenderProblems(t *testing.T) {
	info := StatusInfo{Tool: locator.Report{
		GOOS:      "plan9",
		Error:     "platform plan9 is not supported",
		IndexPath: "/data/index.pt",
	}}
	buf := &bytes.Buffer{}

	require.NoError(t, NewStatusRenderer(buf, true).Render(info))

	out := buf.String()
	assert.Contains(t, out, "Status:     error")
	assert.Contains(t, out, "Problem:    platform plan9 is not supported")
	assert.Contains(t, out, "Status:       missing")
	assert.Contains(t, out, "Status: stopped")
}

func TestStatusRenderer_RenderJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	info := StatusInfo{Tool: locator.Report{GOOS: "linux", IndexPath: "/i.pt"}, IndexSize: 10}

	require.NoError(t, NewStatusRenderer(buf, true).RenderJSON(info))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, float64(10), decoded["index_size"])
	assert.NotContains(t, decoded, "daemon")
	tool := decoded["tool"].(map[string]any)
	assert.Equal(t, "/i.pt", tool["index_path"])
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
	assert.Equal(t, "2.0 GB", FormatBytes(2*1024*1024*1024))
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "just now", formatTime(time.Now()))
	assert.Equal(t, "1 minute ago", formatTime(time.Now().Add(-90*time.Second)))
	assert.Equal(t, "3 days ago", formatTime(time.Now().Add(-73*time.Hour)))
}
