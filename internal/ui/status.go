package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Aman-CERP/clipbridge/internal/daemon"
	"github.com/Aman-CERP/clipbridge/internal/locator"
)

// StatusInfo is everything `clipbridge status` reports.
type StatusInfo struct {
	Tool        locator.Report       `json:"tool"`
	IndexSize   int64                `json:"index_size"`
	LastIndexed time.Time            `json:"last_indexed,omitempty"`
	Daemon      *daemon.StatusResult `json:"daemon,omitempty"`
}

// StatusRenderer displays status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render displays status info to the terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	w := r.out
	_, _ = fmt.Fprintf(w, "%s\n\n", r.styles.Header.Render("clipbridge status"))

	_, _ = fmt.Fprintln(w, "  clip_tool:")
	_, _ = fmt.Fprintf(w, "    Platform:   %s\n", info.Tool.GOOS)
	if info.Tool.Executable != "" {
		_, _ = fmt.Fprintf(w, "    Executable: %s\n", info.Tool.Executable)
	}
	switch {
	case info.Tool.Error != "":
		_, _ = fmt.Fprintf(w, "    Status:     %s\n", r.renderStatus("error"))
		_, _ = fmt.Fprintf(w, "    Problem:    %s\n", info.Tool.Error)
	case info.Tool.Exists:
		_, _ = fmt.Fprintf(w, "    Status:     %s\n", r.renderStatus("ready"))
	default:
		_, _ = fmt.Fprintf(w, "    Status:     %s\n", r.renderStatus("missing"))
	}
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, "  Index:")
	_, _ = fmt.Fprintf(w, "    Path:         %s\n", info.Tool.IndexPath)
	if info.Tool.IndexExists {
		_, _ = fmt.Fprintf(w, "    Size:         %s\n", FormatBytes(info.IndexSize))
		if !info.LastIndexed.IsZero() {
			_, _ = fmt.Fprintf(w, "    Last indexed: %s\n", formatTime(info.LastIndexed))
		}
	} else {
		_, _ = fmt.Fprintf(w, "    Status:       %s\n", r.renderStatus("missing"))
	}
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, "  Daemon:")
	if info.Daemon == nil {
		_, _ = fmt.Fprintf(w, "    Status: %s\n", r.renderStatus("stopped"))
		return nil
	}
	d := info.Daemon
	_, _ = fmt.Fprintf(w, "    Status:    %s (pid %d, up %s)\n", r.renderStatus("running"), d.PID, d.Uptime)
	_, _ = fmt.Fprintf(w, "    Session:   %s\n", r.renderStatus(d.SessionState))
	_, _ = fmt.Fprintf(w, "    Threshold: %.2f   Top K: %d\n", d.Threshold, d.TopK)
	_, _ = fmt.Fprintf(w, "    Queries:   %d (%d cached entries, %d restarts)\n", d.Queries, d.CacheEntries, d.Restarts)
	_, _ = fmt.Fprintf(w, "    Breaker:   %s\n", r.renderStatus(d.Breaker))
	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ready", "running", "started", "closed":
		return r.styles.Success.Render(status)
	case "stopped", "missing", "not_started", "starting", "half-open":
		return r.styles.Warning.Render(status)
	case "error", "open":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

// formatTime formats a time relative to now.
func formatTime(t time.Time) string {
	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day") + " ago"
	default:
		return t.Format("2006-01-02 15:04")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
