// Package ui renders index build progress and hosts the interactive terminal app.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/Aman-CERP/clipbridge/internal/controller"
)

// Stage is a phase of an index build as the user sees it.
type Stage int

const (
	// StageCounting is the image pre-count before clip_tool starts.
	StageCounting Stage = iota
	// StageIndexing is clip_tool processing images.
	StageIndexing
	// StageComplete indicates the build has ended.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageCounting:
		return "Counting"
	case StageIndexing:
		return "Indexing"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage tag for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageCounting:
		return "COUNT"
	case StageIndexing:
		return "INDEX"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent is one progress update.
type ProgressEvent struct {
	Stage   Stage
	Current int
	Total   int
	Message string
}

// ErrorEvent is a problem reported while building.
type ErrorEvent struct {
	Err    error
	IsWarn bool
}

// CompletionStats summarizes a finished build.
type CompletionStats struct {
	Images    int
	Total     int
	Duration  time.Duration
	Success   bool
	Error     string
	IndexPath string
}

// Renderer displays build progress.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)
	Complete(stats CompletionStats)
	Stop() error
}

// Config configures a renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	// SourceDir is shown in the header.
	SourceDir string
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithSourceDir sets the folder shown in the header.
func WithSourceDir(dir string) ConfigOption {
	return func(c *Config) {
		c.SourceDir = dir
	}
}

// NewConfig creates a Config for output.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer returns a progress bar renderer for interactive terminals and
// a line-per-update renderer for pipes, CI and --plain.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	bar, err := NewBarRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return bar
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}

// BuildSource is polled for build progress.
type BuildSource interface {
	Build() controller.BuildStatus
}

// Follow polls src every interval and forwards changes to r until the build
// stops running or ctx is done. It returns the last status seen.
func Follow(ctx context.Context, src BuildSource, r Renderer, interval time.Duration) controller.BuildStatus {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := -1
	for {
		st := src.Build()
		if st.Processed != last {
			last = st.Processed
			r.UpdateProgress(ProgressEvent{Stage: StageIndexing, Current: st.Processed, Total: st.Total})
		}
		if !st.Running {
			stats := CompletionStats{
				Images:    st.Processed,
				Total:     st.Total,
				Duration:  time.Since(start),
				Success:   st.Success != nil && *st.Success,
				Error:     st.Error,
				IndexPath: st.IndexPath,
			}
			r.Complete(stats)
			return st
		}

		select {
		case <-ctx.Done():
			return st
		case <-ticker.C:
		}
	}
}
