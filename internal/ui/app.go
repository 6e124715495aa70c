package ui

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Aman-CERP/clipbridge/internal/controller"
	cberrors "github.com/Aman-CERP/clipbridge/internal/errors"
	"github.com/Aman-CERP/clipbridge/internal/indexer"
	"github.com/Aman-CERP/clipbridge/internal/session"
)

const (
	appTickInterval = 200 * time.Millisecond
	thresholdStep   = 0.05
	maxShownNotices = 3
)

// AppBackend is what the interactive app drives.
type AppBackend interface {
	Snapshot() controller.Snapshot
	Search(ctx context.Context, prompt string, topK int) ([]string, error)
	SetThreshold(t float64)
	StartSession(ctx context.Context) error
	StartBuild(ctx context.Context, dir string) (*indexer.Handle, error)
	CancelBuild()
}

type inputMode int

const (
	modeSearch inputMode = iota
	modeIndex
)

type appTickMsg time.Time

type searchDoneMsg struct {
	prompt string
	ids    []string
	err    error
}

type actionDoneMsg struct {
	what string
	err  error
}

// App is the bubbletea model behind `clipbridge tui`. It polls the backend
// snapshot on a timer and runs searches and builds as commands, so the view
// never blocks on clip_tool.
type App struct {
	ctx     context.Context
	backend AppBackend
	styles  Styles

	input     textinput.Model
	mode      inputMode
	bar       progress.Model
	width     int
	snap      controller.Snapshot
	searching bool
	prompt    string
	results   []string
	status    string
	quitting  bool
}

// NewApp creates the app. ctx bounds every search and build it starts.
func NewApp(ctx context.Context, backend AppBackend, noColor bool) *App {
	in := textinput.New()
	in.Placeholder = "describe the images to find"
	in.CharLimit = 512
	in.Width = 60
	in.Focus()

	return &App{
		ctx:     ctx,
		backend: backend,
		styles:  GetStyles(noColor || DetectNoColor()),
		input:   in,
		bar:     progress.New(progress.WithSolidFill(ColorLime), progress.WithWidth(40), progress.WithoutPercentage()),
		width:   80,
		snap:    backend.Snapshot(),
	}
}

// RunApp runs the app full screen until the user quits or ctx is done.
func RunApp(ctx context.Context, backend AppBackend, noColor bool) error {
	_, err := tea.NewProgram(NewApp(ctx, backend, noColor), tea.WithContext(ctx), tea.WithAltScreen()).Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// Init implements tea.Model. The session is started right away, the way a
// search window starts it when it opens.
func (a *App) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, a.tick(), a.startSession())
}

func (a *App) tick() tea.Cmd {
	return tea.Tick(appTickInterval, func(t time.Time) tea.Msg { return appTickMsg(t) })
}

func (a *App) startSession() tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{what: "search session started", err: a.backend.StartSession(a.ctx)}
	}
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.input.Width = max(msg.Width-6, 20)
		a.bar.Width = max(msg.Width-20, 20)
		return a, nil

	case appTickMsg:
		a.snap = a.backend.Snapshot()
		return a, a.tick()

	case searchDoneMsg:
		a.searching = false
		a.prompt = msg.prompt
		a.results = msg.ids
		switch {
		case msg.err != nil:
			a.status = cberrors.FormatForUser(msg.err)
		case len(msg.ids) == 0:
			a.status = "no images above the threshold"
		default:
			a.status = fmt.Sprintf("%d results", len(msg.ids))
		}
		a.snap = a.backend.Snapshot()
		return a, nil

	case actionDoneMsg:
		if msg.err != nil {
			a.status = cberrors.FormatForUser(msg.err)
		} else {
			a.status = msg.what
		}
		a.snap = a.backend.Snapshot()
		return a, nil
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		a.quitting = true
		return a, tea.Quit

	case "tab":
		if a.mode == modeSearch {
			a.mode = modeIndex
			a.input.Placeholder = "folder of images to index"
		} else {
			a.mode = modeSearch
			a.input.Placeholder = "describe the images to find"
		}
		a.input.SetValue("")
		return a, nil

	case "pgup":
		a.adjustThreshold(thresholdStep)
		return a, nil

	case "pgdown":
		a.adjustThreshold(-thresholdStep)
		return a, nil

	case "ctrl+r":
		a.status = "restarting search session..."
		return a, a.startSession()

	case "ctrl+x":
		a.backend.CancelBuild()
		a.status = "build cancelled"
		return a, nil

	case "enter":
		return a, a.submit()
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a *App) adjustThreshold(delta float64) {
	t := math.Round((a.snap.Threshold+delta)*100) / 100
	a.backend.SetThreshold(t)
	a.snap = a.backend.Snapshot()
	a.status = fmt.Sprintf("threshold %.2f", a.snap.Threshold)
}

func (a *App) submit() tea.Cmd {
	value := strings.TrimSpace(a.input.Value())
	if value == "" {
		return nil
	}

	if a.mode == modeIndex {
		a.input.SetValue("")
		a.status = "starting build..."
		return func() tea.Msg {
			_, err := a.backend.StartBuild(a.ctx, value)
			return actionDoneMsg{what: "indexing " + value, err: err}
		}
	}

	if a.searching {
		return nil
	}
	a.searching = true
	a.status = "searching..."
	topK := a.snap.TopK
	return func() tea.Msg {
		ids, err := a.backend.Search(a.ctx, value, topK)
		return searchDoneMsg{prompt: value, ids: ids, err: err}
	}
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return ""
	}
	s := a.styles
	var b strings.Builder

	b.WriteString(s.Header.Render("clipbridge"))
	b.WriteString("\n\n")

	state := a.snap.StateName
	stateStyle := s.Warning
	if a.snap.State == session.Started {
		stateStyle = s.Success
	}
	b.WriteString(fmt.Sprintf("%s %s", s.Label.Render("session:"), stateStyle.Render(state)))
	if a.snap.PID > 0 {
		b.WriteString(s.Dim.Render(fmt.Sprintf(" (pid %d)", a.snap.PID)))
	}
	b.WriteString(fmt.Sprintf("   %s %.2f   %s %d   %s %d\n",
		s.Label.Render("threshold:"), a.snap.Threshold,
		s.Label.Render("top k:"), a.snap.TopK,
		s.Label.Render("cached:"), a.snap.CacheSize))

	b.WriteString(a.renderBuild())
	b.WriteString("\n")

	label := "search"
	if a.mode == modeIndex {
		label = "index folder"
	}
	b.WriteString(s.Prompt.Render(label+" > ") + a.input.View() + "\n\n")

	if a.prompt != "" {
		b.WriteString(s.Label.Render(fmt.Sprintf("results for %q", a.prompt)) + "\n")
		for i, id := range a.results {
			b.WriteString(fmt.Sprintf("%3d. %s\n", i+1, s.Result.Render(id)))
		}
		b.WriteString("\n")
	}

	if a.status != "" {
		b.WriteString(s.Dim.Render(a.status) + "\n")
	}
	for _, n := range lastNotices(a.snap.Notices, maxShownNotices) {
		style := s.Dim
		switch n.Level {
		case controller.LevelWarning:
			style = s.Warning
		case controller.LevelError:
			style = s.Error
		}
		b.WriteString(style.Render(fmt.Sprintf("%s %s", n.Time.Format("15:04:05"), n.Message)) + "\n")
	}

	b.WriteString("\n" + s.Dim.Render("enter search • tab switch mode • pgup/pgdown threshold • ctrl+r restart • ctrl+x cancel build • esc quit"))
	return b.String()
}

func (a *App) renderBuild() string {
	build := a.snap.Build
	s := a.styles
	switch {
	case build.SourceDir == "":
		return s.Label.Render("index:") + " " + s.Dim.Render(a.snap.IndexPath) + "\n"
	case build.Running:
		count := fmt.Sprintf("%d/%d", build.Processed, build.Total)
		return fmt.Sprintf("%s %s %s\n", s.Label.Render("building:"), a.bar.ViewAs(build.Fraction()), count)
	case build.Success != nil && *build.Success:
		return s.Success.Render(fmt.Sprintf("index built: %d images from %s", build.Processed, build.SourceDir)) + "\n"
	default:
		msg := fmt.Sprintf("build stopped at %d/%d", build.Processed, build.Total)
		if build.Error != "" {
			msg += ": " + build.Error
		}
		return s.Error.Render(msg) + "\n"
	}
}

func lastNotices(ns []controller.Notice, n int) []controller.Notice {
	if len(ns) > n {
		return ns[len(ns)-n:]
	}
	return ns
}
