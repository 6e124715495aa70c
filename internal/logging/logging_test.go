package logging

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/data/logs")

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, filepath.Join("/data/logs", LogFileName), cfg.FilePath)
	assert.True(t, cfg.WriteToStderr)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"loud":    slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	// Given: a file-only config at debug level
	path := filepath.Join(t.TempDir(), "logs", LogFileName)
	logger, cleanup, err := Setup(Config{Level: "debug", FilePath: path, MaxSizeMB: 1, MaxFiles: 2})
	require.NoError(t, err)

	// When: logging
	logger.Debug("spawned", slog.Int("pid", 42))
	cleanup()

	// Then: the file holds a parseable JSON record
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	e := ParseLine(strings.TrimSpace(string(data)))
	require.True(t, e.Valid)
	assert.Equal(t, "spawned", e.Msg)
	assert.Equal(t, "DEBUG", e.Level)
	assert.EqualValues(t, 42, e.Attrs["pid"])
}

func TestSetup_NoOutputsDiscards(t *testing.T) {
	logger, cleanup, err := Setup(Config{Level: "info"})
	require.NoError(t, err)
	defer cleanup()

	assert.NotPanics(t, func() { logger.Info("nowhere") })
}

func TestSetupQuiet_SetsDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), LogFileName)
	cleanup, err := SetupQuiet(Config{Level: "info", FilePath: path, WriteToStderr: true})
	require.NoError(t, err)

	slog.Info("quiet mode")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "quiet mode")
}

func TestFindLogFile(t *testing.T) {
	dir := t.TempDir()

	_, err := FindLogFile(dir, "")
	assert.Error(t, err)

	_, err = FindLogFile(dir, filepath.Join(dir, "other.log"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(LogPath(dir), []byte("{}\n"), 0o644))
	got, err := FindLogFile(dir, "")
	require.NoError(t, err)
	assert.Equal(t, LogPath(dir), got)
}

func TestRotatingWriter_Rotates(t *testing.T) {
	// Given: a 1MB writer keeping two rotated files
	path := filepath.Join(t.TempDir(), LogFileName)
	w, err := NewRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	// When: writing well past the limit several times
	chunk := bytes.Repeat([]byte("x"), 700*1024)
	for i := 0; i < 5; i++ {
		_, err := w.Write(chunk)
		require.NoError(t, err)
	}

	// Then: the active file and at most two rotations exist
	assert.FileExists(t, path)
	assert.FileExists(t, path+".1")
	assert.FileExists(t, path+".2")
	assert.NoFileExists(t, path+".3")
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	w, err := NewRotatingWriter(filepath.Join(t.TempDir(), LogFileName), 1, 1)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.NoError(t, w.Close())
}

func TestParseLine(t *testing.T) {
	e := ParseLine(`{"time":"2026-01-02T03:04:05.5Z","level":"WARN","msg":"search process exited","code":"ERR_302_PROCESS_EXITED"}`)

	require.True(t, e.Valid)
	assert.Equal(t, "WARN", e.Level)
	assert.Equal(t, "search process exited", e.Msg)
	assert.Equal(t, "ERR_302_PROCESS_EXITED", e.Attrs["code"])
	assert.Equal(t, 3, e.Time.Hour())

	raw := ParseLine("not json")
	assert.False(t, raw.Valid)
	assert.Equal(t, "not json", raw.Raw)
}

func TestViewer_FormatNoColor(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true}, &bytes.Buffer{})
	e := ParseLine(`{"time":"2026-01-02T03:04:05Z","level":"INFO","msg":"built","total":3,"dir":"/imgs"}`)

	assert.Equal(t, "03:04:05.000 INFO  built dir=/imgs total=3", v.Format(e))
	assert.Equal(t, "plain", v.Format(ParseLine("plain")))
}

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	for _, l := range lines {
		_, err := fmt.Fprintln(f, l)
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())
}

func TestViewer_TailFilters(t *testing.T) {
	// Given: a log with mixed levels
	path := filepath.Join(t.TempDir(), LogFileName)
	writeLines(t, path,
		`{"level":"DEBUG","msg":"one"}`,
		`{"level":"INFO","msg":"two"}`,
		`{"level":"ERROR","msg":"three"}`,
		`{"level":"WARN","msg":"four"}`,
	)

	// When: tailing the last three at warn and above
	v := NewViewer(ViewerConfig{Level: "warn"}, &bytes.Buffer{})
	entries, err := v.Tail(path, 3)

	// Then
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "three", entries[0].Msg)
	assert.Equal(t, "four", entries[1].Msg)

	// And: pattern filtering applies to the raw line
	v = NewViewer(ViewerConfig{Pattern: regexp.MustCompile("tw")}, &bytes.Buffer{})
	entries, err = v.Tail(path, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "two", entries[0].Msg)
}

func TestViewer_TailMissingFile(t *testing.T) {
	_, err := NewViewer(ViewerConfig{}, &bytes.Buffer{}).Tail(filepath.Join(t.TempDir(), "nope"), 10)
	assert.Error(t, err)
}

func TestViewer_FollowSeesAppends(t *testing.T) {
	// Given: an existing log being followed
	path := filepath.Join(t.TempDir(), LogFileName)
	writeLines(t, path, `{"level":"INFO","msg":"old"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entries := make(chan Entry, 4)
	errc := make(chan error, 1)
	go func() {
		errc <- NewViewer(ViewerConfig{}, &bytes.Buffer{}).Follow(ctx, path, entries)
	}()

	// When: a line is appended after the follower is watching
	var got Entry
	require.Eventually(t, func() bool {
		writeLines(t, path, `{"level":"INFO","msg":"new"}`)
		select {
		case got = <-entries:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 4*time.Second, 100*time.Millisecond)

	// Then: only new lines arrive
	assert.Equal(t, "new", got.Msg)
	cancel()
	assert.NoError(t, <-errc)
}
