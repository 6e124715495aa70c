// Package indexer runs clip_tool's one-shot index build and streams its progress.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	cberrors "github.com/Aman-CERP/clipbridge/internal/errors"
	"github.com/Aman-CERP/clipbridge/internal/locator"
	"github.com/Aman-CERP/clipbridge/internal/proc"
	"github.com/Aman-CERP/clipbridge/internal/protocol"
)

// DefaultReleaseTimeout bounds how long Start waits for a replaced build to be reaped.
const DefaultReleaseTimeout = 5 * time.Second

// Job describes one indexing run.
type Job struct {
	SourceDir string `json:"source_dir"`
	IndexPath string `json:"index_path"`
	// Total is the caller's pre-count of images. Zero means unknown.
	Total int `json:"total"`
	// Processed is the latest progress count.
	Processed int `json:"processed"`
}

// BuildRecord summarizes a finished run for telemetry.
type BuildRecord struct {
	SourceDir string
	IndexPath string
	Total     int
	Processed int
	Success   bool
	Killed    bool
	Error     string
	StartedAt time.Time
	Duration  time.Duration
}

// Builder starts index builds. It keeps at most one build in flight: starting
// a new one kills the previous.
type Builder struct {
	resolver       locator.Resolver
	logger         *slog.Logger
	recorder       func(BuildRecord)
	releaseTimeout time.Duration

	mu      sync.Mutex
	current *Handle
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger. Child stderr is forwarded to it at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// WithRecorder registers a callback invoked once per finished build.
func WithRecorder(fn func(BuildRecord)) Option {
	return func(b *Builder) {
		b.recorder = fn
	}
}

// WithReleaseTimeout bounds the wait for a replaced build to exit.
func WithReleaseTimeout(d time.Duration) Option {
	return func(b *Builder) {
		b.releaseTimeout = d
	}
}

// NewBuilder creates a builder that finds clip_tool through resolver.
func NewBuilder(resolver locator.Resolver, opts ...Option) *Builder {
	b := &Builder{
		resolver:       resolver,
		logger:         slog.Default(),
		releaseTimeout: DefaultReleaseTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start launches "clip_tool process <src> <idx>" and returns immediately.
// An empty job.IndexPath uses the resolver's default index path.
//
// Cancelling ctx kills the build.
func (b *Builder) Start(ctx context.Context, job Job) (*Handle, error) {
	if err := checkDir(job.SourceDir); err != nil {
		return nil, err
	}
	if job.IndexPath == "" {
		job.IndexPath = b.resolver.DefaultIndexPath()
	}
	job.Processed = 0

	b.mu.Lock()
	defer b.mu.Unlock()

	if prev := b.current; prev != nil {
		prev.Kill()
		select {
		case <-prev.done:
		case <-time.After(b.releaseTimeout):
			b.logger.Warn("previous build did not exit in time", slog.Int("pid", prev.PID()))
		}
		b.current = nil
	}

	exe, err := b.resolver.ResolveExecutablePath()
	if err != nil {
		return nil, err
	}
	if err := proc.EnsureExecutable(exe); err != nil {
		b.logger.Debug("could not mark clip_tool executable", slog.String("path", exe), slog.String("error", err.Error()))
	}
	if err := os.MkdirAll(filepath.Dir(job.IndexPath), 0o755); err != nil {
		return nil, cberrors.InternalError(fmt.Sprintf("cannot create index directory for %s", job.IndexPath), err)
	}

	lock := flock.New(job.IndexPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, cberrors.InternalError("failed to lock index", err)
	}
	if !locked {
		return nil, cberrors.New(cberrors.ErrCodeBuildLocked,
			fmt.Sprintf("index %s is being built by another process", job.IndexPath), nil).
			WithDetail("lock", lock.Path())
	}

	p, err := proc.Start(ctx, proc.Spec{
		Path:   exe,
		Args:   protocol.ProcessArgs(job.SourceDir, job.IndexPath),
		Stderr: proc.LogWriter(b.logger, "build"),
	})
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	b.logger.Info("index build started",
		slog.String("source", job.SourceDir),
		slog.String("index", job.IndexPath),
		slog.Int("expected", job.Total),
		slog.Int("pid", p.PID()))

	h := newHandle(job, p, lock, b.logger, b.recorder)
	go h.run()
	go func() {
		select {
		case <-ctx.Done():
			h.Kill()
		case <-h.done:
		}
	}()

	b.current = h
	return h, nil
}

// Current returns the most recently started build, which may have finished.
func (b *Builder) Current() *Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Close kills the in-flight build, if any, and waits for it to be reaped.
func (b *Builder) Close() {
	b.mu.Lock()
	h := b.current
	b.mu.Unlock()
	if h == nil {
		return
	}
	h.Kill()
	select {
	case <-h.done:
	case <-time.After(b.releaseTimeout):
	}
}
