package daemon

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/clipbridge/internal/controller"
	cberrors "github.com/Aman-CERP/clipbridge/internal/errors"
	"github.com/Aman-CERP/clipbridge/internal/locator"
	"github.com/Aman-CERP/clipbridge/internal/testutil/faketool"
)

func TestMain(m *testing.M) {
	faketool.RunIfRequested()
	os.Exit(m.Run())
}

// daemonTestConfig keeps the socket path short; t.TempDir can exceed the
// unix socket path limit on macOS.
func daemonTestConfig(t *testing.T) Config {
	t.Helper()
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	socketPath := filepath.Join(os.TempDir(), "cb-"+suffix+".sock")
	t.Cleanup(func() { _ = os.Remove(socketPath) })
	return Config{
		SocketPath:          socketPath,
		PIDPath:             filepath.Join(t.TempDir(), "daemon.pid"),
		Timeout:             5 * time.Second,
		ShutdownGracePeriod: 2 * time.Second,
	}
}

// startDaemon runs a daemon over resolver and returns a ready client.
func startDaemon(t *testing.T, resolver locator.Resolver, opts ...Option) (*Client, Config) {
	t.Helper()
	cfg := daemonTestConfig(t)
	ctrl := controller.New(resolver, controller.DefaultConfig())
	d, err := New(cfg, ctrl, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	client := NewClient(cfg)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, client.WaitForReady(waitCtx))
	return client, cfg
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{}, controller.New(faketool.Resolver{}, controller.DefaultConfig()))

	assert.Equal(t, cberrors.ErrCodeConfigInvalid, cberrors.GetCode(err))
}

func TestDaemon_QueryRoundTrip(t *testing.T) {
	// Given: a running daemon with a resident session
	client, cfg := startDaemon(t, faketool.Enable(t))
	ctx := context.Background()

	// When: querying twice
	first, err := client.Query(ctx, "cat", 2)
	require.NoError(t, err)
	second, err := client.Query(ctx, "cat", 2)
	require.NoError(t, err)

	// Then: identifiers come back and the repeat is served from cache
	assert.Equal(t, []string{"cat-0.png", "cat-1.png"}, first.IDs)
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.IDs, second.IDs)

	// And: status reflects the session and the PID file exists
	st, err := client.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, "started", st.SessionState)
	assert.Positive(t, st.SessionPID)
	assert.EqualValues(t, 2, st.Queries)
	assert.Equal(t, "closed", st.Breaker)
	assert.FileExists(t, cfg.PIDPath)
}

func TestDaemon_DefaultTopK(t *testing.T) {
	client, _ := startDaemon(t, faketool.Enable(t))

	res, err := client.Query(context.Background(), "dog", 0)

	require.NoError(t, err)
	assert.Equal(t, controller.DefaultConfig().TopK, res.TopK)
	assert.Len(t, res.IDs, res.TopK)
}

func TestDaemon_SetThresholdClamps(t *testing.T) {
	client, _ := startDaemon(t, faketool.Enable(t))
	ctx := context.Background()

	got, err := client.SetThreshold(ctx, 2.5)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)

	res, err := client.Query(ctx, "threshold", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, res.IDs)
}

func TestDaemon_RestartsCrashedSession(t *testing.T) {
	// Given: a daemon whose session crashes on one prompt
	client, _ := startDaemon(t, faketool.Enable(t))
	ctx := context.Background()

	// When: the child crashes mid-query
	_, err := client.Query(ctx, "crash", 1)

	// Then: the process-exited code crosses the socket
	require.Error(t, err)
	assert.ErrorIs(t, err, cberrors.ErrProcessExited)

	// And: the next query starts a fresh session
	res, err := client.Query(ctx, "after", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"after-0.png"}, res.IDs)

	st, err := client.Status(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.Restarts)
}

func TestDaemon_BreakerOpensOnBrokenInstall(t *testing.T) {
	// Given: an install that cannot be resolved and a two-failure breaker
	resolver := faketool.Resolver{
		IndexPath: filepath.Join(t.TempDir(), "index.pt"),
		Err:       cberrors.New(cberrors.ErrCodeNotInstalled, "clip_tool not found", nil),
	}
	client, _ := startDaemon(t, resolver,
		WithBreaker(cberrors.NewCircuitBreaker("test", cberrors.WithMaxFailures(2), cberrors.WithResetTimeout(time.Hour))))
	ctx := context.Background()

	// When: queries keep failing (Run's initial start counted as the first failure)
	_, err := client.Query(ctx, "cat", 1)
	assert.ErrorIs(t, err, cberrors.ErrNotInstalled)
	_, err = client.Query(ctx, "cat", 1)

	// Then: the breaker short-circuits with a not-started error
	assert.ErrorIs(t, err, cberrors.ErrSessionNotStarted)
	st, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "open", st.Breaker)
	assert.Equal(t, "not_started", st.SessionState)
}

func TestDaemon_RestartMethod(t *testing.T) {
	client, _ := startDaemon(t, faketool.Enable(t))
	ctx := context.Background()
	before, err := client.Status(ctx)
	require.NoError(t, err)

	after, err := client.Restart(ctx)

	require.NoError(t, err)
	assert.Equal(t, "started", after.SessionState)
	assert.NotEqual(t, before.SessionPID, after.SessionPID)
}

func TestServer_RejectsUnknownMethodAndBadJSON(t *testing.T) {
	_, cfg := startDaemon(t, faketool.Enable(t))

	conn, err := net.Dial("unix", cfg.SocketPath)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	reader := bufio.NewReader(conn)

	// Two requests on one connection
	_, err = fmt.Fprintln(conn, `{"jsonrpc":"2.0","method":"explode","id":"1"}`)
	require.NoError(t, err)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, fmt.Sprint(ErrCodeMethodNotFound))

	_, err = fmt.Fprintln(conn, `{not json`)
	require.NoError(t, err)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, fmt.Sprint(ErrCodeParseError))
}

func TestDaemon_ShutdownCleansUp(t *testing.T) {
	// Given: a running daemon
	cfg := daemonTestConfig(t)
	d, err := New(cfg, controller.New(faketool.Enable(t), controller.DefaultConfig()))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	client := NewClient(cfg)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, client.WaitForReady(waitCtx))

	// When: the context is cancelled
	cancel()

	// Then: Run returns and the socket and PID file are gone
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
	assert.NoFileExists(t, cfg.SocketPath)
	assert.NoFileExists(t, cfg.PIDPath)
	assert.False(t, client.IsRunning())
}

func TestClient_UnavailableDaemon(t *testing.T) {
	client := NewClient(daemonTestConfig(t))

	err := client.Ping(context.Background())

	assert.ErrorIs(t, err, cberrors.ErrDaemonUnavailable)
	assert.False(t, client.IsRunning())
}

func TestStopRunning_NotRunning(t *testing.T) {
	err := StopRunning(daemonTestConfig(t))

	assert.ErrorIs(t, err, cberrors.ErrDaemonUnavailable)
}
