package controller

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cberrors "github.com/Aman-CERP/clipbridge/internal/errors"
	"github.com/Aman-CERP/clipbridge/internal/indexer"
	"github.com/Aman-CERP/clipbridge/internal/session"
	"github.com/Aman-CERP/clipbridge/internal/testutil/faketool"
)

func TestMain(m *testing.M) {
	faketool.RunIfRequested()
	os.Exit(m.Run())
}

func newController(t *testing.T, opts ...Option) *Controller {
	t.Helper()
	r := faketool.Enable(t)
	c := New(r, DefaultConfig(), opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNew_AppliesDefaults(t *testing.T) {
	r := faketool.Resolver{IndexPath: "/data/index/index.pt"}
	c := New(r, Config{})

	assert.Equal(t, session.DefaultTopK, c.Config().TopK)
	assert.Equal(t, "/data/index/index.pt", c.Config().IndexPath)
	assert.Equal(t, "/data/index/index.pt", c.Session().IndexPath())
	assert.Equal(t, 0.0, c.Session().Threshold())

	snap := c.Snapshot()
	assert.Equal(t, "not_started", snap.StateName)
	assert.False(t, snap.Build.Running)
}

func TestStartBuild_TracksProgressAndPurgesCache(t *testing.T) {
	// Given: a controller with a warm cache and a folder of 12 images
	var builds []indexer.BuildRecord
	var mu sync.Mutex
	c := newController(t, WithBuildRecorder(func(rec indexer.BuildRecord) {
		mu.Lock()
		builds = append(builds, rec)
		mu.Unlock()
	}))
	require.NoError(t, c.StartSession(context.Background()))
	_, err := c.Search(context.Background(), "warm", 1)
	require.NoError(t, err)
	require.Equal(t, 1, c.Snapshot().CacheSize)

	dir := faketool.WriteImages(t, 12)

	// When: building
	h, err := c.StartBuild(context.Background(), dir)
	require.NoError(t, err)
	ok, err := h.Wait()
	require.True(t, ok)
	require.NoError(t, err)

	// Then: the snapshot converges to the finished build and the cache is purged
	require.Eventually(t, func() bool {
		b := c.Build()
		return !b.Running && b.Success != nil
	}, 5*time.Second, 10*time.Millisecond)

	b := c.Build()
	assert.True(t, *b.Success)
	assert.Equal(t, 12, b.Total)
	assert.Equal(t, 12, b.Processed)
	assert.Equal(t, 1.0, b.Fraction())
	assert.Equal(t, dir, b.SourceDir)
	assert.Eventually(t, func() bool { return c.Snapshot().CacheSize == 0 }, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Len(t, builds, 1)
	mu.Unlock()
}

func TestStartBuild_MissingDirAddsNotice(t *testing.T) {
	c := newController(t)

	_, err := c.StartBuild(context.Background(), "/definitely/not/here")

	assert.ErrorIs(t, err, cberrors.ErrDirectoryNotFound)
	notices := c.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, LevelError, notices[0].Level)
	assert.Equal(t, cberrors.ErrCodeDirectoryNotFound, notices[0].Code)
}

func TestStartBuild_FailureReported(t *testing.T) {
	c := newController(t)
	t.Setenv(faketool.EnvFailBuild, "1")

	h, err := c.StartBuild(context.Background(), faketool.WriteImages(t, 3))
	require.NoError(t, err)
	_, _ = h.Wait()

	require.Eventually(t, func() bool { return c.Build().Success != nil }, 5*time.Second, 10*time.Millisecond)
	assert.False(t, *c.Build().Success)
	assert.NotEmpty(t, c.Build().Error)
	assert.Eventually(t, func() bool { return len(c.Notices()) == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestCancelBuild(t *testing.T) {
	c := newController(t)
	t.Setenv(faketool.EnvHangBuild, "1")

	h, err := c.StartBuild(context.Background(), faketool.WriteImages(t, 3))
	require.NoError(t, err)
	c.CancelBuild()

	ok, err := h.Wait()
	assert.False(t, ok)
	assert.ErrorIs(t, err, indexer.ErrCancelled)
	require.Eventually(t, func() bool { return !c.Build().Running }, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, c.Notices())
}

func TestSearch_RecordsResultsAndTelemetry(t *testing.T) {
	// Given: a started session and a query recorder
	var records []QueryRecord
	c := newController(t, WithQueryRecorder(func(r QueryRecord) { records = append(records, r) }))
	require.NoError(t, c.StartSession(context.Background()))

	// When: searching twice with the default topK
	ids, err := c.Search(context.Background(), "dog", 0)
	require.NoError(t, err)
	again, err := c.Search(context.Background(), "dog", 0)
	require.NoError(t, err)

	// Then: the second hit came from cache and the snapshot shows the results
	assert.Len(t, ids, session.DefaultTopK)
	assert.Equal(t, ids, again)
	require.Len(t, records, 2)
	assert.False(t, records[0].Cached)
	assert.True(t, records[1].Cached)
	assert.Equal(t, session.DefaultTopK, records[0].Results)

	snap := c.Snapshot()
	assert.Equal(t, "started", snap.StateName)
	assert.Equal(t, "dog", snap.LastPrompt)
	assert.Equal(t, ids, snap.LastResults)
	assert.Greater(t, snap.PID, 0)
}

func TestSearch_NotStartedAddsNotice(t *testing.T) {
	c := newController(t)

	_, err := c.Search(context.Background(), "dog", 3)

	assert.ErrorIs(t, err, cberrors.ErrSessionNotStarted)
	require.Len(t, c.Notices(), 1)
	assert.Equal(t, LevelError, c.Notices()[0].Level)
}

func TestSearch_AfterStopIsRefused(t *testing.T) {
	// Given: a started session with a cached result
	c := newController(t)
	require.NoError(t, c.StartSession(context.Background()))
	ids, err := c.Search(context.Background(), "cats", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"cats-0.png", "cats-1.png"}, ids)

	// When: the session is stopped and the same search runs again
	c.StopSession()
	ids, err = c.Search(context.Background(), "cats", 2)

	// Then: it is rejected instead of answered from the cache
	assert.ErrorIs(t, err, cberrors.ErrSessionNotStarted)
	assert.Empty(t, ids)
	assert.Equal(t, session.NotStarted, c.Snapshot().State)
	assert.Zero(t, c.Snapshot().CacheSize)
}

func TestSearchRecordWithThreshold_LeavesSessionThreshold(t *testing.T) {
	// Given: a started session at threshold 0.3
	c := newController(t)
	require.NoError(t, c.StartSession(context.Background()))
	c.SetThreshold(0.3)

	// When: one search overrides the threshold
	ids, rec, err := c.SearchRecordWithThreshold(context.Background(), "threshold", 1, 0.8)

	// Then: the override reached the tool and was recorded
	require.NoError(t, err)
	assert.Equal(t, []string{"0.8"}, ids)
	assert.Equal(t, 0.8, rec.Threshold)

	// And: plain searches still use the session threshold
	ids, rec, err = c.SearchRecord(context.Background(), "threshold", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"0.3"}, ids)
	assert.Equal(t, 0.3, rec.Threshold)
	assert.False(t, rec.Cached)
}

func TestSearch_ProcessExitBecomesWarningNotice(t *testing.T) {
	// Given: a started session
	c := newController(t)
	require.NoError(t, c.StartSession(context.Background()))

	// When: the child dies mid-query
	ids, err := c.Search(context.Background(), "crash", 3)

	// Then: empty result, NotStarted, exactly one warning notice
	assert.Empty(t, ids)
	assert.ErrorIs(t, err, cberrors.ErrProcessExited)
	assert.Equal(t, session.NotStarted, c.Snapshot().State)
	require.Eventually(t, func() bool { return len(c.Notices()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, LevelWarning, c.Notices()[0].Level)
}

func TestSetThreshold_ChangesCacheKey(t *testing.T) {
	c := newController(t)
	require.NoError(t, c.StartSession(context.Background()))

	c.SetThreshold(5)
	ids, err := c.Search(context.Background(), "threshold", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, ids)

	c.SetThreshold(0.5)
	ids, err = c.Search(context.Background(), "threshold", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"0.5"}, ids)
}

func TestStartSession_FailureNotice(t *testing.T) {
	r := faketool.Resolver{Err: cberrors.New(cberrors.ErrCodeNotInstalled, "clip_tool missing", nil)}
	c := New(r, DefaultConfig())

	err := c.StartSession(context.Background())

	assert.ErrorIs(t, err, cberrors.ErrNotInstalled)
	require.Len(t, c.Notices(), 1)
	assert.Contains(t, c.Notices()[0].Message, "clip_tool missing")
}

func TestClose_StopsEverything(t *testing.T) {
	c := newController(t)
	t.Setenv(faketool.EnvHangBuild, "1")
	require.NoError(t, c.StartSession(context.Background()))
	h, err := c.StartBuild(context.Background(), faketool.WriteImages(t, 2))
	require.NoError(t, err)

	require.NoError(t, c.Close())

	assert.False(t, h.Running())
	assert.Equal(t, session.NotStarted, c.Snapshot().State)
	c.StopSession()
}

func TestNotices_Bounded(t *testing.T) {
	c := New(faketool.Resolver{}, DefaultConfig())
	for i := 0; i < maxNotices+10; i++ {
		c.addNotice(Notice{Message: "n"})
	}
	assert.Len(t, c.Notices(), maxNotices)
}

func TestBuildStatus_Fraction(t *testing.T) {
	assert.Equal(t, 0.0, BuildStatus{}.Fraction())
	assert.Equal(t, 0.5, BuildStatus{Processed: 6, Total: 12}.Fraction())
	assert.Equal(t, 1.0, BuildStatus{Processed: 13, Total: 12}.Fraction())
}
