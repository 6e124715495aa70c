package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/clipbridge/internal/controller"
	"github.com/Aman-CERP/clipbridge/internal/indexer"
	"github.com/Aman-CERP/clipbridge/internal/session"
	"github.com/Aman-CERP/clipbridge/internal/telemetry"
	"github.com/Aman-CERP/clipbridge/pkg/version"
)

// ServerName is reported to MCP clients.
const ServerName = "clipbridge"

// Backend is the part of the controller the server drives.
type Backend interface {
	SearchRecord(ctx context.Context, prompt string, topK int) ([]string, controller.QueryRecord, error)
	SearchRecordWithThreshold(ctx context.Context, prompt string, topK int, threshold float64) ([]string, controller.QueryRecord, error)
	StartSession(ctx context.Context) error
	StartBuild(ctx context.Context, dir string) (*indexer.Handle, error)
	Snapshot() controller.Snapshot
}

// StatsSource provides query telemetry for the query_stats resource.
type StatsSource interface {
	Stats(ctx context.Context, since time.Time, limit int) (*telemetry.Stats, error)
}

// Server is the MCP server. It bridges AI clients with one controller.
type Server struct {
	mcp     *mcp.Server
	backend Backend
	stats   StatsSource
	logger  *slog.Logger

	// startMu keeps concurrent tool calls from racing to start the session.
	startMu sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStats enables the query_stats resource.
func WithStats(stats StatsSource) Option {
	return func(s *Server) {
		s.stats = stats
	}
}

// NewServer creates a new MCP server backed by b.
func NewServer(b Backend, opts ...Option) (*Server, error) {
	if b == nil {
		return nil, errors.New("backend is required")
	}

	s := &Server{
		backend: b,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    ServerName,
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()
	s.registerResources()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_images",
		Description: "Find images in the local index that match a natural language description. Returns image identifiers best first. Only images scoring at or above the threshold are returned, so an empty list is a valid answer.",
	}, s.mcpSearchImagesHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_images",
		Description: "Build the image index from a folder. Only the top level of the folder is indexed. Replaces the previous index and cancels any build in progress.",
	}, s.mcpIndexImagesHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: "Report build progress, the search session state and recent warnings. Use before searching to check the index is ready.",
	}, s.mcpIndexStatusHandler)

	s.logger.Debug("MCP tools registered", slog.Int("count", 3))
}

// mcpSearchImagesHandler is the MCP SDK handler for the search_images tool.
func (s *Server) mcpSearchImagesHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchImagesInput) (
	*mcp.CallToolResult,
	SearchImagesOutput,
	error,
) {
	requestID := generateRequestID()

	prompt := strings.TrimSpace(input.Prompt)
	if prompt == "" {
		return nil, SearchImagesOutput{}, NewInvalidParamsError("prompt is required and cannot be whitespace only")
	}
	if input.TopK < 0 {
		return nil, SearchImagesOutput{}, NewInvalidParamsError("top_k must not be negative")
	}
	if input.Threshold != nil {
		t := *input.Threshold
		if t < 0 || t > 1 {
			return nil, SearchImagesOutput{}, NewInvalidParamsError(fmt.Sprintf("threshold %v is outside [0,1]", t))
		}
	}

	snap := s.backend.Snapshot()
	topK := clampLimit(input.TopK, snap.TopK, 1, session.MaxTopK)

	s.logger.Info("search_images started",
		slog.String("request_id", requestID),
		slog.String("prompt", prompt),
		slog.Int("top_k", topK))

	if err := s.ensureSession(ctx); err != nil {
		s.logger.Error("search_images failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return nil, SearchImagesOutput{}, MapError(err)
	}

	var (
		ids []string
		rec controller.QueryRecord
		err error
	)
	if input.Threshold != nil {
		ids, rec, err = s.backend.SearchRecordWithThreshold(ctx, prompt, topK, *input.Threshold)
	} else {
		ids, rec, err = s.backend.SearchRecord(ctx, prompt, topK)
	}
	if err != nil {
		s.logger.Error("search_images failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", rec.Latency),
			slog.String("error", err.Error()))
		return nil, SearchImagesOutput{}, MapError(err)
	}

	out := SearchImagesOutput{
		Results:   make([]ImageResult, 0, len(ids)),
		TopK:      rec.TopK,
		Threshold: rec.Threshold,
		Cached:    rec.Cached,
	}
	for i, id := range ids {
		out.Results = append(out.Results, ImageResult{
			Rank:     i + 1,
			ID:       id,
			URI:      imageURI(id),
			MIMEType: MimeTypeForPath(id),
		})
	}

	s.logger.Info("search_images completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", rec.Latency),
		slog.Int("result_count", len(ids)),
		slog.Bool("cached", rec.Cached))

	return textResult(FormatSearchResults(prompt, out)), out, nil
}

// ensureSession starts the search session on first use, and again after the
// child was lost.
func (s *Server) ensureSession(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.backend.Snapshot().State == session.Started {
		return nil
	}
	return s.backend.StartSession(ctx)
}

// mcpIndexImagesHandler is the MCP SDK handler for the index_images tool.
func (s *Server) mcpIndexImagesHandler(ctx context.Context, _ *mcp.CallToolRequest, input IndexImagesInput) (
	*mcp.CallToolResult,
	IndexImagesOutput,
	error,
) {
	dir := strings.TrimSpace(input.Directory)
	if dir == "" {
		return nil, IndexImagesOutput{}, NewInvalidParamsError("directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, IndexImagesOutput{}, NewInvalidParamsError(fmt.Sprintf("invalid directory: %v", err))
	}

	// The build outlives this request; only the server's own shutdown stops it.
	h, err := s.backend.StartBuild(context.WithoutCancel(ctx), abs)
	if err != nil {
		s.logger.Error("index_images failed", slog.String("dir", abs), slog.String("error", err.Error()))
		return nil, IndexImagesOutput{}, MapError(err)
	}
	s.logger.Info("index_images started", slog.String("dir", abs), slog.Int("pid", h.PID()))

	out := IndexImagesOutput{Started: true, PID: h.PID()}
	if input.Wait {
		select {
		case <-h.Done():
		case <-ctx.Done():
		}
	}
	out.Build = buildStatus(h)
	out.Summary = FormatBuildStatus(out.Build)
	return textResult(out.Summary), out, nil
}

// buildStatus reads progress straight from the handle, which is current
// even before the controller has processed the completion event.
func buildStatus(h *indexer.Handle) controller.BuildStatus {
	job := h.Progress()
	st := controller.BuildStatus{
		Running:   h.Running(),
		SourceDir: job.SourceDir,
		IndexPath: job.IndexPath,
		Processed: job.Processed,
		Total:     job.Total,
	}
	if !st.Running {
		ok, err := h.Wait()
		st.Success = &ok
		if err != nil {
			st.Error = err.Error()
		}
	}
	return st
}

// mcpIndexStatusHandler is the MCP SDK handler for the index_status tool.
func (s *Server) mcpIndexStatusHandler(_ context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	IndexStatusOutput,
	error,
) {
	out := s.status()
	text := fmt.Sprintf("%s\nSearch session: %s (threshold %.2f, top_k %d)", out.Summary, out.Session.State, out.Session.Threshold, out.Session.TopK)
	return textResult(text), out, nil
}

func (s *Server) status() IndexStatusOutput {
	snap := s.backend.Snapshot()
	return IndexStatusOutput{
		Session: SessionInfo{
			State:        snap.StateName,
			PID:          snap.PID,
			Threshold:    snap.Threshold,
			TopK:         snap.TopK,
			CacheEntries: snap.CacheSize,
		},
		Build:     snap.Build,
		Summary:   FormatBuildStatus(snap.Build),
		IndexPath: snap.IndexPath,
		Notices:   snap.Notices,
	}
}

// Serve runs the server on the given transport until ctx is done.
// Supported transports are "stdio" and "http" (streamable HTTP on addr).
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	s.logger.Info("Starting MCP server",
		slog.String("transport", transport),
		slog.String("addr", addr))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("MCP server stopped gracefully")
		return nil
	case "http":
		return s.serveHTTP(ctx, addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, http)", transport)
	}
}

func (s *Server) serveHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.mcp
	}, nil)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// clampLimit returns def for v <= 0, otherwise v bounded to [lo, hi].
func clampLimit(v, def, lo, hi int) int {
	if v <= 0 {
		v = def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	return uuid.NewString()[:8]
}
