package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes one line per progress change (for CI and pipes).
type PlainRenderer struct {
	mu        sync.Mutex
	out       io.Writer
	sourceDir string
	lastLine  string
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output, sourceDir: cfg.SourceDir}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(_ context.Context) error {
	if r.sourceDir != "" {
		r.mu.Lock()
		defer r.mu.Unlock()
		_, _ = fmt.Fprintf(r.out, "Indexing %s\n", r.sourceDir)
	}
	return nil
}

// UpdateProgress implements Renderer. Repeated identical lines are suppressed.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var line string
	switch {
	case event.Total > 0:
		line = fmt.Sprintf("[%s] %d/%d images", event.Stage.Icon(), event.Current, event.Total)
	case event.Current > 0:
		line = fmt.Sprintf("[%s] %d images", event.Stage.Icon(), event.Current)
	default:
		line = fmt.Sprintf("[%s]", event.Stage.Icon())
	}
	if event.Message != "" {
		line += " - " + event.Message
	}
	if line == r.lastLine {
		return
	}
	r.lastLine = line
	_, _ = fmt.Fprintln(r.out, line)
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}
	_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintln(r.out, completionLine(stats))
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

func completionLine(stats CompletionStats) string {
	d := stats.Duration.Round(100 * time.Millisecond)
	switch {
	case stats.Success:
		line := fmt.Sprintf("Complete: %d images indexed in %s", stats.Images, d)
		if stats.IndexPath != "" {
			line += fmt.Sprintf(" (%s)", stats.IndexPath)
		}
		return line
	case stats.Error != "":
		return fmt.Sprintf("Failed after %d/%d images in %s: %s", stats.Images, stats.Total, d, stats.Error)
	default:
		return fmt.Sprintf("Stopped after %d/%d images in %s", stats.Images, stats.Total, d)
	}
}

var _ Renderer = (*PlainRenderer)(nil)
