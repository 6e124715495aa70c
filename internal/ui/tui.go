package ui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// BarRenderer draws a live progress bar with bubbletea.
type BarRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *buildModel
	tracker *ProgressTracker
	started bool
	done    chan struct{}
}

// NewBarRenderer creates a bar renderer. It fails for non-terminal output.
func NewBarRenderer(cfg Config) (*BarRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, errors.New("output is not a TTY")
	}
	tracker := NewProgressTracker()
	model := newBuildModel(tracker, cfg.SourceDir)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}
	return &BarRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *BarRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithInput(nil)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *BarRenderer) UpdateProgress(event ProgressEvent) {
	r.tracker.SetStage(event.Stage, event.Total)
	r.tracker.Update(event.Current, event.Total)
}

// AddError implements Renderer.
func (r *BarRenderer) AddError(event ErrorEvent) {
	r.tracker.AddError(event)
}

// Complete implements Renderer.
func (r *BarRenderer) Complete(stats CompletionStats) {
	r.tracker.SetStage(StageComplete, stats.Total)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		r.program.Send(completeMsg(stats))
	}
}

// Stop implements Renderer.
func (r *BarRenderer) Stop() error {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p == nil {
		return nil
	}
	p.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	return nil
}

type completeMsg CompletionStats
type barTickMsg time.Time

// buildModel is the bubbletea model for a build in progress.
type buildModel struct {
	tracker   *ProgressTracker
	width     int
	complete  bool
	stats     CompletionStats
	spinner   spinner.Model
	bar       progress.Model
	styles    Styles
	sourceDir string
}

func newBuildModel(tracker *ProgressTracker, sourceDir string) *buildModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime))

	return &buildModel{
		tracker:   tracker,
		width:     80,
		spinner:   s,
		bar:       progress.New(progress.WithSolidFill(ColorLime), progress.WithWidth(50), progress.WithoutPercentage()),
		styles:    DefaultStyles(),
		sourceDir: sourceDir,
	}
}

// Init implements tea.Model.
func (m *buildModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, barTick())
}

func barTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return barTickMsg(t)
	})
}

// Update implements tea.Model.
func (m *buildModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-20, 20)
	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit
	case barTickMsg:
		return m, barTick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *buildModel) View() string {
	if m.complete {
		return m.renderComplete()
	}

	stats := m.tracker.Stats()
	title := "clipbridge index"
	if m.sourceDir != "" {
		title += " • " + m.sourceDir
	}

	var lines []string
	lines = append(lines, m.styles.Header.Render(title))
	if stats.Total == 0 {
		lines = append(lines, fmt.Sprintf("%s %s... %d images", m.spinner.View(), stats.Stage, stats.Current))
	} else {
		pct := m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100))
		lines = append(lines, m.bar.ViewAs(stats.Progress)+"  "+pct)
		lines = append(lines, m.styles.Label.Render(fmt.Sprintf("%d / %d images", stats.Current, stats.Total)))
	}

	metrics := fmt.Sprintf("Speed: %.1f/s", stats.Speed)
	if stats.AvgSpeed > 0 {
		metrics += fmt.Sprintf(" (avg: %.1f, peak: %.1f)", stats.AvgSpeed, stats.PeakSpeed)
	}
	if stats.ETA > 0 {
		metrics += "  •  ETA: " + formatDuration(stats.ETA)
	}
	lines = append(lines, m.styles.Speed.Render(metrics))
	lines = append(lines, m.styles.Success.Render(m.tracker.Sparkline(max(m.width-20, 10)))+" "+m.styles.Dim.Render("throughput"))
	if stats.WarnCount > 0 || stats.ErrorCount > 0 {
		lines = append(lines, m.styles.Warning.Render(fmt.Sprintf("%d warnings, %d errors", stats.WarnCount, stats.ErrorCount)))
	}
	return strings.Join(lines, "\n") + "\n"
}

func (m *buildModel) renderComplete() string {
	style := m.styles.Success
	mark := "✓"
	if !m.stats.Success {
		style = m.styles.Error
		mark = "✗"
	}
	return style.Render(mark+" "+completionLine(m.stats)) + "\n"
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

var _ Renderer = (*BarRenderer)(nil)
