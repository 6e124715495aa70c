// Package controller orchestrates one search session and one index build for
// a user-facing surface (CLI, TUI, daemon, MCP). It owns both, keeps a
// snapshot that pollers read, and turns failures into short notices.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	cberrors "github.com/Aman-CERP/clipbridge/internal/errors"
	"github.com/Aman-CERP/clipbridge/internal/indexer"
	"github.com/Aman-CERP/clipbridge/internal/locator"
	"github.com/Aman-CERP/clipbridge/internal/session"
)

// maxNotices bounds the notice history.
const maxNotices = 50

// Config holds the tunables a controller passes to its session and builder.
type Config struct {
	// IndexPath is shared by builds and searches. Empty uses the resolver default.
	IndexPath    string
	Extensions   []string
	Threshold    float64
	TopK         int
	QueryTimeout time.Duration
	CacheSize    int
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		Extensions: indexer.DefaultExtensions,
		Threshold:  session.DefaultThreshold,
		TopK:       session.DefaultTopK,
		CacheSize:  session.DefaultCacheSize,
	}
}

// Level classifies a notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a short user-visible message.
type Notice struct {
	Time    time.Time `json:"time"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
}

// QueryRecord describes one search for telemetry.
type QueryRecord struct {
	Prompt    string
	TopK      int
	Threshold float64
	Results   int
	Cached    bool
	Latency   time.Duration
	Error     string
}

// BuildStatus is the progress of the latest build.
type BuildStatus struct {
	Running   bool   `json:"running"`
	SourceDir string `json:"source_dir,omitempty"`
	IndexPath string `json:"index_path,omitempty"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Success   *bool  `json:"success,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Fraction returns processed/total in [0,1], or 0 when the total is unknown.
func (b BuildStatus) Fraction() float64 {
	if b.Total <= 0 {
		return 0
	}
	f := float64(b.Processed) / float64(b.Total)
	if f > 1 {
		return 1
	}
	return f
}

// Snapshot is a consistent read of controller state.
type Snapshot struct {
	State       session.State `json:"-"`
	StateName   string        `json:"state"`
	PID         int           `json:"pid,omitempty"`
	Threshold   float64       `json:"threshold"`
	TopK        int           `json:"top_k"`
	IndexPath   string        `json:"index_path"`
	Build       BuildStatus   `json:"build"`
	LastPrompt  string        `json:"last_prompt,omitempty"`
	LastResults []string      `json:"last_results,omitempty"`
	CacheSize   int           `json:"cache_entries"`
	Notices     []Notice      `json:"notices,omitempty"`
}

// Controller is safe for concurrent use.
type Controller struct {
	cfg      Config
	resolver locator.Resolver
	logger   *slog.Logger

	builder *indexer.Builder
	session *session.Session
	cache   *session.Cached

	onQuery func(QueryRecord)
	onBuild func(indexer.BuildRecord)

	mu          sync.RWMutex
	current     *indexer.Handle
	build       BuildStatus
	lastPrompt  string
	lastResults []string
	notices     []Notice
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger shared with the session and builder.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithQueryRecorder registers a callback for every search.
func WithQueryRecorder(fn func(QueryRecord)) Option {
	return func(c *Controller) {
		c.onQuery = fn
	}
}

// WithBuildRecorder registers a callback for every finished build.
func WithBuildRecorder(fn func(indexer.BuildRecord)) Option {
	return func(c *Controller) {
		c.onBuild = fn
	}
}

// New creates a controller. Nothing is spawned until StartBuild or StartSession.
func New(resolver locator.Resolver, cfg Config, opts ...Option) *Controller {
	if cfg.TopK <= 0 {
		cfg.TopK = session.DefaultTopK
	}
	if cfg.IndexPath == "" {
		cfg.IndexPath = resolver.DefaultIndexPath()
	}

	c := &Controller{
		cfg:      cfg,
		resolver: resolver,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.builder = indexer.NewBuilder(resolver,
		indexer.WithLogger(c.logger),
		indexer.WithRecorder(func(rec indexer.BuildRecord) {
			if c.onBuild != nil {
				c.onBuild(rec)
			}
		}))
	c.session = session.New(resolver,
		session.WithLogger(c.logger),
		session.WithThreshold(cfg.Threshold),
		session.WithIndexPath(cfg.IndexPath),
		session.WithQueryTimeout(cfg.QueryTimeout),
		session.WithExitHandler(c.sessionExited))
	c.cache = session.NewCached(c.session, cfg.CacheSize)
	return c
}

// Session exposes the underlying session.
func (c *Controller) Session() *session.Session {
	return c.session
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

func (c *Controller) sessionExited(err error) {
	c.cache.Purge()
	c.notify(LevelWarning, err)
}

func (c *Controller) notify(level Level, err error) {
	c.addNotice(Notice{
		Time:    time.Now(),
		Level:   level,
		Message: cberrors.FormatForUser(err),
		Code:    cberrors.GetCode(err),
	})
}

func (c *Controller) addNotice(n Notice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notices = append(c.notices, n)
	if len(c.notices) > maxNotices {
		c.notices = append([]Notice(nil), c.notices[len(c.notices)-maxNotices:]...)
	}
}

func levelFor(err error) Level {
	switch {
	case cberrors.IsFatal(err):
		return LevelError
	case cberrors.IsRetryable(err), cberrors.GetCode(err) == cberrors.ErrCodeProcessExited:
		return LevelWarning
	default:
		return LevelError
	}
}

// StartBuild pre-counts the images in dir and starts indexing them into the
// configured index. Any running build is killed first. Progress is read from
// Snapshot or the returned handle.
func (c *Controller) StartBuild(ctx context.Context, dir string) (*indexer.Handle, error) {
	total, err := indexer.CountImages(dir, c.cfg.Extensions)
	if err != nil {
		c.notify(LevelError, err)
		return nil, err
	}

	h, err := c.builder.Start(ctx, indexer.Job{SourceDir: dir, IndexPath: c.cfg.IndexPath, Total: total})
	if err != nil {
		c.notify(levelFor(err), err)
		return nil, err
	}

	c.mu.Lock()
	c.current = h
	c.build = BuildStatus{Running: true, SourceDir: dir, IndexPath: c.cfg.IndexPath, Total: total}
	c.mu.Unlock()

	go c.follow(h)
	return h, nil
}

// follow is the only writer of build progress for h.
func (c *Controller) follow(h *indexer.Handle) {
	for ev := range h.Events() {
		c.mu.Lock()
		if c.current != h {
			c.mu.Unlock()
			continue
		}
		c.build.Processed = ev.Done
		c.build.Total = ev.Total
		if ev.Kind == indexer.EventCompleted {
			success := ev.Success
			c.build.Running = false
			c.build.Success = &success
			if ev.Err != nil {
				c.build.Error = cberrors.FormatForUser(ev.Err)
			}
		}
		c.mu.Unlock()

		if ev.Kind != indexer.EventCompleted {
			continue
		}
		if ev.Success {
			c.cache.Purge()
			c.addNotice(Notice{Time: time.Now(), Level: LevelInfo, Message: "index build finished"})
		} else if ev.Err != nil && !errors.Is(ev.Err, indexer.ErrCancelled) {
			c.notify(LevelError, ev.Err)
		}
	}
}

// CancelBuild kills the running build, if any.
func (c *Controller) CancelBuild() {
	c.mu.RLock()
	h := c.current
	c.mu.RUnlock()
	if h != nil {
		h.Kill()
	}
}

// StartSession starts (or restarts) the search session.
func (c *Controller) StartSession(ctx context.Context) error {
	c.cache.Purge()
	if err := c.session.Start(ctx); err != nil {
		c.notify(levelFor(err), err)
		return err
	}
	return nil
}

// StopSession stops the search session and drops cached results. It never fails.
func (c *Controller) StopSession() {
	c.session.Stop()
	c.cache.Purge()
}

// Search runs one query through the result cache. topK <= 0 uses the configured default.
func (c *Controller) Search(ctx context.Context, prompt string, topK int) ([]string, error) {
	ids, _, err := c.SearchRecord(ctx, prompt, topK)
	return ids, err
}

// SearchRecord is Search that also returns what was recorded for the query.
func (c *Controller) SearchRecord(ctx context.Context, prompt string, topK int) ([]string, QueryRecord, error) {
	return c.SearchRecordWithThreshold(ctx, prompt, topK, c.session.Threshold())
}

// SearchRecordWithThreshold is SearchRecord at threshold for this query only.
// The session threshold is left unchanged.
func (c *Controller) SearchRecordWithThreshold(ctx context.Context, prompt string, topK int, threshold float64) ([]string, QueryRecord, error) {
	if topK <= 0 {
		topK = c.cfg.TopK
	}
	threshold = session.ClampThreshold(threshold)

	start := time.Now()
	ids, cached, err := c.cache.Search(ctx, prompt, topK, threshold)

	rec := QueryRecord{
		Prompt:    prompt,
		TopK:      topK,
		Threshold: threshold,
		Results:   len(ids),
		Cached:    cached,
		Latency:   time.Since(start),
	}
	if err != nil {
		rec.Error = cberrors.GetCode(err)
		if rec.Error == "" {
			rec.Error = err.Error()
		}
	}
	if c.onQuery != nil {
		c.onQuery(rec)
	}

	if err != nil {
		// An exit was already reported by the session's exit handler.
		if cberrors.GetCode(err) != cberrors.ErrCodeProcessExited {
			c.notify(levelFor(err), err)
		}
		return ids, rec, err
	}

	c.mu.Lock()
	c.lastPrompt = prompt
	c.lastResults = append([]string{}, ids...)
	c.mu.Unlock()
	return ids, rec, nil
}

// SetThreshold clamps t to [0,1] for subsequent searches.
func (c *Controller) SetThreshold(t float64) {
	c.session.SetThreshold(t)
}

// PurgeCache drops cached search results.
func (c *Controller) PurgeCache() {
	c.cache.Purge()
}

// Build returns the status of the latest build.
func (c *Controller) Build() BuildStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.build
}

// Notices returns the notice history, oldest first.
func (c *Controller) Notices() []Notice {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Notice(nil), c.notices...)
}

// Snapshot returns a consistent copy of everything a poller renders.
func (c *Controller) Snapshot() Snapshot {
	state := c.session.State()
	snap := Snapshot{
		State:     state,
		StateName: state.String(),
		PID:       c.session.PID(),
		Threshold: c.session.Threshold(),
		TopK:      c.cfg.TopK,
		IndexPath: c.cfg.IndexPath,
		CacheSize: c.cache.Len(),
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	snap.Build = c.build
	snap.LastPrompt = c.lastPrompt
	snap.LastResults = append([]string(nil), c.lastResults...)
	snap.Notices = append([]Notice(nil), c.notices...)
	return snap
}

// Close kills the build and stops the session.
func (c *Controller) Close() error {
	c.builder.Close()
	c.session.Stop()
	return nil
}
