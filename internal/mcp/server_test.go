package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/clipbridge/internal/controller"
	cberrors "github.com/Aman-CERP/clipbridge/internal/errors"
	"github.com/Aman-CERP/clipbridge/internal/session"
	"github.com/Aman-CERP/clipbridge/internal/telemetry"
	"github.com/Aman-CERP/clipbridge/internal/testutil/faketool"
)

func TestMain(m *testing.M) {
	faketool.RunIfRequested()
	os.Exit(m.Run())
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *controller.Controller) {
	t.Helper()
	ctrl := controller.New(faketool.Enable(t), controller.DefaultConfig())
	t.Cleanup(func() { _ = ctrl.Close() })
	s, err := NewServer(ctrl, opts...)
	require.NoError(t, err)
	return s, ctrl
}

func TestNewServer_RequiresBackend(t *testing.T) {
	_, err := NewServer(nil)
	assert.Error(t, err)
}

func TestSearchImages_StartsSessionOnFirstUse(t *testing.T) {
	// Given: a server whose session has not been started
	s, ctrl := newTestServer(t)
	require.Equal(t, "not_started", ctrl.Snapshot().StateName)

	// When: searching
	res, out, err := s.mcpSearchImagesHandler(context.Background(), nil, SearchImagesInput{Prompt: "  dog ", TopK: 3})

	// Then: the session is running and results come back in rank order
	require.NoError(t, err)
	assert.Equal(t, "started", ctrl.Snapshot().StateName)
	require.Len(t, out.Results, 3)
	assert.Equal(t, "dog-0.png", out.Results[0].ID)
	assert.Equal(t, 1, out.Results[0].Rank)
	assert.Equal(t, "image/png", out.Results[0].MIMEType)
	assert.Equal(t, 3, out.TopK)
	assert.False(t, out.Cached)
	require.Len(t, res.Content, 1)
	assert.Contains(t, res.Content[0].(*mcp.TextContent).Text, "dog-2.png")

	// And: the same search again is served from the cache
	_, out, err = s.mcpSearchImagesHandler(context.Background(), nil, SearchImagesInput{Prompt: "dog", TopK: 3})
	require.NoError(t, err)
	assert.True(t, out.Cached)
}

func TestSearchImages_DefaultAndMaxTopK(t *testing.T) {
	s, _ := newTestServer(t)

	_, out, err := s.mcpSearchImagesHandler(context.Background(), nil, SearchImagesInput{Prompt: "cat"})
	require.NoError(t, err)
	assert.Len(t, out.Results, controller.DefaultConfig().TopK)

	_, out, err = s.mcpSearchImagesHandler(context.Background(), nil, SearchImagesInput{Prompt: "cat", TopK: 1000})
	require.NoError(t, err)
	assert.Equal(t, 50, out.TopK)
}

func TestSearchImages_ThresholdAppliesToOneCall(t *testing.T) {
	// Given: a server at the default threshold
	s, ctrl := newTestServer(t)
	half := 0.5

	// When: a search passes its own threshold
	_, out, err := s.mcpSearchImagesHandler(context.Background(), nil, SearchImagesInput{Prompt: "threshold", Threshold: &half})

	// Then: the tool received it and the session threshold is unchanged
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "0.5", out.Results[0].ID)
	assert.Equal(t, 0.5, out.Threshold)
	assert.Equal(t, session.DefaultThreshold, ctrl.Snapshot().Threshold)

	// And: a later search without one uses the session threshold
	_, out, err = s.mcpSearchImagesHandler(context.Background(), nil, SearchImagesInput{Prompt: "threshold"})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "0.1", out.Results[0].ID)
	assert.Equal(t, session.DefaultThreshold, out.Threshold)
}

func TestSearchImages_ConcurrentThresholdsStaySeparate(t *testing.T) {
	// Given: a running server
	s, _ := newTestServer(t)
	_, _, err := s.mcpSearchImagesHandler(context.Background(), nil, SearchImagesInput{Prompt: "warm"})
	require.NoError(t, err)

	// When: calls with different thresholds run at the same time
	thresholds := []float64{0.9, 0.2, 0.9, 0.2, 0.9, 0.2, 0.9, 0.2}
	outs := make([]SearchImagesOutput, len(thresholds))
	errs := make([]error, len(thresholds))
	var wg sync.WaitGroup
	for i, th := range thresholds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, outs[i], errs[i] = s.mcpSearchImagesHandler(context.Background(), nil,
				SearchImagesInput{Prompt: "threshold", Threshold: &th})
		}()
	}
	wg.Wait()

	// Then: each call's request and reply carry its own threshold
	for i, th := range thresholds {
		require.NoError(t, errs[i])
		require.Len(t, outs[i].Results, 1)
		assert.Equal(t, strconv.FormatFloat(th, 'f', -1, 64), outs[i].Results[0].ID)
		assert.Equal(t, th, outs[i].Threshold)
	}
}

func TestSearchImages_InvalidInput(t *testing.T) {
	s, _ := newTestServer(t)
	tooHigh := 1.5

	tests := []struct {
		name  string
		input SearchImagesInput
	}{
		{"empty prompt", SearchImagesInput{}},
		{"whitespace prompt", SearchImagesInput{Prompt: " \t "}},
		{"negative top_k", SearchImagesInput{Prompt: "x", TopK: -1}},
		{"threshold out of range", SearchImagesInput{Prompt: "x", Threshold: &tooHigh}},
		{"separator in prompt", SearchImagesInput{Prompt: "a||b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := s.mcpSearchImagesHandler(context.Background(), nil, tt.input)
			var mcpErr *MCPError
			require.ErrorAs(t, err, &mcpErr)
			assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
		})
	}
}

func TestSearchImages_NotInstalled(t *testing.T) {
	// Given: a resolver that cannot find the tool
	r := faketool.Resolver{
		Err:       cberrors.New(cberrors.ErrCodeNotInstalled, "clip_tool not found", nil),
		IndexPath: filepath.Join(t.TempDir(), "index.pt"),
	}
	ctrl := controller.New(r, controller.DefaultConfig())
	t.Cleanup(func() { _ = ctrl.Close() })
	s, err := NewServer(ctrl)
	require.NoError(t, err)

	// When
	_, _, err = s.mcpSearchImagesHandler(context.Background(), nil, SearchImagesInput{Prompt: "x"})

, ctrl.Snapshot().StateName)
}

func TestSearchImages_RestartsLostSession(t *testing.T) {
	// Given: a session whose child crashed
	s, ctrl := newTestServer(t)
	_, _, err := s.mcpSearchImagesHandler(context.Background(), nil, SearchImagesInput{Prompt: "warm"})
	require.NoError(t, err)
	_, _, err = s.mcpSearchImagesHandler(context.Background(), nil, SearchImagesInput{Prompt: "crash"})
	require.Error(t, err)
	require.Eventually(t, func() bool { return ctrl.Snapshot().StateName == "not_started" }, 5*time.Second, 10*time.Millisecond)

	// When: the next search arrives
	_, out, err := s.mcpSearchImagesHandler(context.Background(), nil, SearchImagesInput{Prompt: "again", TopK: 1})

	// Then: a new child answers it
	require.NoError(t, err)
	assert.Equal(t, "again-0.png", out.Results[0].ID)
}

func TestIndexImages_WaitReportsCompletion(t *testing.T) {
	// Given: a folder of images
	s, ctrl := newTestServer(t)
	dir := faketool.WriteImages(t, 6)

	// When: indexing with wait
	_, out, err := s.mcpIndexImagesHandler(context.Background(), nil, IndexImagesInput{Directory: dir, Wait: true})

	// Then: the build finished and counted every image
	require.NoError(t, err)
	assert.True(t, out.Started)
	assert.NotZero(t, out.PID)
	assert.False(t, out.Build.Running)
	require.NotNil(t, out.Build.Success)
	assert.True(t, *out.Build.Success)
	assert.Equal(t, 6, out.Build.Processed)
	assert.Equal(t, 6, out.Build.Total)
	assert.Contains(t, out.Summary, "Indexed 6 images")

	_, err = os.Stat(ctrl.Config().IndexPath)
	assert.NoError(t, err)
}

func TestIndexImages_OutlivesRequestContext(t *testing.T) {
	// Given: a slow build
	t.Setenv(faketool.EnvStepDelay, "20ms")
	s, ctrl := newTestServer(t)
	dir := faketool.WriteImages(t, 4)

	// When: the request returns and its context is cancelled
	ctx, cancel := context.WithCancel(context.Background())
	_, out, err := s.mcpIndexImagesHandler(ctx, nil, IndexImagesInput{Directory: dir})
	require.NoError(t, err)
	assert.True(t, out.Build.Running)
	cancel()

	// Then: the build still completes
	require.Eventually(t, func() bool {
		b := ctrl.Build()
		return b.Success != nil && *b.Success
	}, 10*time.Second, 20*time.Millisecond)
}

func TestIndexImages_InvalidDirectory(t *testing.T) {
	s, _ := newTestServer(t)

	_, _, err := s.mcpIndexImagesHandler(context.Background(), nil, IndexImagesInput{})
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)

	_, _, err = s.mcpIndexImagesHandler(context.Background(), nil, IndexImagesInput{Directory: filepath.Join(t.TempDir(), "missing")})
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestIndexStatus_ReportsSessionAndBuild(t *testing.T) {
	s, ctrl := newTestServer(t)
	ctrl.SetThreshold(0.3)

	res, out, err := s.mcpIndexStatusHandler(context.Background(), nil, IndexStatusInput{})

	require.NoError(t, err)
	assert.Equal(t, "not_started", out.Session.State)
	assert.Equal(t, 0.3, out.Session.Threshold)
	assert.Equal(t, ctrl.Config().IndexPath, out.IndexPath)
	assert.Equal(t, "No index build has been started.", out.Summary)
	assert.Contains(t, res.Content[0].(*mcp.TextContent).Text, "Search session: not_started")
}

func TestResources_StatusAndQueryStats(t *testing.T) {
	// Given: a server with telemetry
	store, err := telemetry.Open(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.RecordQuery(context.Background(), telemetry.QueryEvent{
		Time: time.Now(), Prompt: "sunset beach", TopK: 5, Threshold: 0.1, Results: 0, Latency: 5 * time.Millisecond,
	}))
	s, _ := newTestServer(t, WithStats(store))

	// When: reading both resources
	status, err := s.handleStatusResource(context.Background(), nil)
	require.NoError(t, err)
	stats, err := s.handleQueryStatsResource(context.Background(), nil)
	require.NoError(t, err)

	// Then
	var st IndexStatusOutput
	require.NoError(t, json.Unmarshal([]byte(status.Contents[0].Text), &st))
	assert.Equal(t, "not_started", st.Session.State)

	var qs QueryStatsOutput
	require.NoError(t, json.Unmarshal([]byte(stats.Contents[0].Text), &qs))
	assert.Equal(t, int64(1), qs.TotalQueries)
	assert.Equal(t, []string{"sunset beach"}, qs.ZeroResultQueries)
	assert.Equal(t, 100.0, qs.ZeroResultPct)
	assert.Equal(t, "application/json", stats.Contents[0].MIMEType)
}

func TestServer_InMemoryRoundTrip(t *testing.T) {
	// Given: a client connected over in-memory transports
	s, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := s.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer func() { _ = ss.Close() }()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer func() { _ = cs.Close() }()

	// When: listing tools
	tools, err := cs.ListTools(ctx, &mcp.ListToolsParams{})
	require.NoError(t, err)

	// Then: the three tools are exposed
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"index_images", "index_status", "search_images"}, names)

	// And: a search works end to end
	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "search_images",
		Arguments: map[string]any{"prompt": "boat", "top_k": 2},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.NotEmpty(t, res.Content)
	assert.Contains(t, res.Content[0].(*mcp.TextContent).Text, "boat-1.png")
}
