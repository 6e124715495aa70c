package integration

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/clipbridge/internal/controller"
	"github.com/Aman-CERP/clipbridge/internal/session"
	"github.com/Aman-CERP/clipbridge/internal/telemetry"
	"github.com/Aman-CERP/clipbridge/internal/testutil/faketool"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestBuildThenSearch_RecordsTelemetry runs a build and searches against one
// controller and checks what reaches the SQLite history.
func TestBuildThenSearch_RecordsTelemetry(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: a controller wired to a telemetry store
	r := faketool.Enable(t)
	store, err := telemetry.Open(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	rec := telemetry.NewRecorder(store, quietLogger())

	cfg := controller.DefaultConfig()
	cfg.TopK = 2
	ctrl := controller.New(r, cfg,
		controller.WithLogger(quietLogger()),
		controller.WithQueryRecorder(rec.QueryHook()),
		controller.WithBuildRecorder(rec.BuildHook()))
	defer func() { _ = ctrl.Close() }()
	ctx := context.Background()

	// When: building an index of five images
	dir := faketool.WriteImages(t, 5)
	h, err := ctrl.StartBuild(ctx, dir)
	require.NoError(t, err)
	ok, err := h.Wait()
	require.NoError(t, err)
	require.True(t, ok)

	// Then: the controller reports the finished build
	require.Eventually(t, func() bool {
		return !ctrl.Build().Running && ctrl.Build().Success != nil
	}, 5*time.Second, 10*time.Millisecond)
	b := ctrl.Build()
	assert.True(t, *b.Success)
	assert.Equal(t, 5, b.Processed)
	assert.Equal(t, 5, b.Total)

	// When: searching the new index, once repeated and once with no hits
	require.NoError(t, ctrl.StartSession(ctx))
	ids, err := ctrl.Search(ctx, "red boat", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"red boat-0.png", "red boat-1.png"}, ids)

	_, cachedRec, err := ctrl.SearchRecord(ctx, "red boat", 0)
	require.NoError(t, err)
	assert.True(t, cachedRec.Cached)

	ids, err = ctrl.Search(ctx, "empty", 0)
	require.NoError(t, err)
	assert.Empty(t, ids)

	rec.Close()

	// Then: the history has the build and all three queries
	stats, err := store.Stats(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalQueries)
	assert.Equal(t, int64(1), stats.CachedQueries)
	assert.Equal(t, int64(1), stats.ZeroResultCount)
	assert.Contains(t, stats.ZeroResultQueries, "empty")
	require.Len(t, stats.RecentBuilds, 1)
	assert.True(t, stats.RecentBuilds[0].Success)
	assert.Equal(t, dir, stats.RecentBuilds[0].SourceDir)
}

// TestSessionCrash_RecoversOnRestart checks that a dead child is reported as a
// notice and that a restart serves queries again.
func TestSessionCrash_RecoversOnRestart(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: a started session
	ctrl := controller.New(faketool.Enable(t), controller.DefaultConfig(), controller.WithLogger(quietLogger()))
	defer func() { _ = ctrl.Close() }()
	ctx := context.Background()
	require.NoError(t, ctrl.StartSession(ctx))

	// When: the tool crashes mid-query
	_, err := ctrl.Search(ctx, "crash", 0)
	require.Error(t, err)

	// Then: the session is back to not started with a warning notice
	require.Eventually(t, func() bool {
		return ctrl.Snapshot().State == session.NotStarted
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		for _, n := range ctrl.Notices() {
			if n.Level == controller.LevelWarning {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	// When: restarting
	require.NoError(t, ctrl.StartSession(ctx))

	// Then: queries work again
	ids, err := ctrl.Search(ctx, "tree", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"tree-0.png"}, ids)
}
