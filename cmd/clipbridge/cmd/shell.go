package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/clipbridge/internal/controller"
	cberrors "github.com/Aman-CERP/clipbridge/internal/errors"
	"github.com/Aman-CERP/clipbridge/internal/output"
	"github.com/Aman-CERP/clipbridge/internal/session"
)

const shellHelp = `Type a prompt to search. Commands:
  :threshold <0..1>   set the similarity threshold
  :k <n>              set the number of results
  :restart            restart the search session
  :status             show session state
  :quit               exit`

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Search interactively from one resident session",
		Long: `Start a search session and read prompts line by line from stdin.

The session stays loaded between prompts, so only the first query pays
for the model load. Useful for scripting many queries through a pipe.

` + shellHelp,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			sink := openTelemetry(cfg)
			defer sink.Close()
			ctrl := newController(cfg, sink)
			defer func() { _ = ctrl.Close() }()

			if err := ctrl.StartSession(ctx); err != nil {
				return err
			}
			sh := newShell(ctrl, cmd.OutOrStdout(), cfg.Search.TopK)
			return sh.run(ctx, cmd.InOrStdin())
		},
	}
}

// shell is a line-oriented front end over one controller.
type shell struct {
	ctrl *controller.Controller
	out  *output.Writer
	w    io.Writer
	topK int
}

func newShell(ctrl *controller.Controller, w io.Writer, topK int) *shell {
	return &shell{ctrl: ctrl, out: output.New(w), w: w, topK: topK}
}

// run reads lines until EOF, :quit or ctx is done. Query errors are printed
// and do not end the shell.
func (s *shell) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := s.handle(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func (s *shell) handle(ctx context.Context, line string) (quit bool) {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, ":") {
		s.search(ctx, line)
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case ":quit", ":q", ":exit":
		return true
	case ":help":
		_, _ = fmt.Fprintln(s.w, shellHelp)
	case ":threshold", ":t":
		if len(fields) != 2 {
			s.out.Error("usage: :threshold <0..1>")
			return false
		}
		t, err := strconv.ParseFloat(fields[1], 64)
		if err != nil || t < 0 || t > 1 {
			s.out.Errorf("threshold must be a number between 0 and 1, got %q", fields[1])
			return false
		}
		s.ctrl.SetThreshold(t)
		s.out.Successf("threshold %.2f", s.ctrl.Snapshot().Threshold)
	case ":k":
		if len(fields) != 2 {
			s.out.Error("usage: :k <n>")
			return false
		}
		k, err := strconv.Atoi(fields[1])
		if err != nil || k < 1 || k > session.MaxTopK {
			s.out.Errorf("k must be between 1 and %d, got %q", session.MaxTopK, fields[1])
			return false
		}
		s.topK = k
		s.out.Successf("top k %d", k)
	case ":restart":
		if err := s.ctrl.StartSession(ctx); err != nil {
			s.out.Error(cberrors.FormatForUser(err))
			return false
		}
		s.out.Successf("search session restarted (pid %d)", s.ctrl.Snapshot().PID)
	case ":status":
		snap := s.ctrl.Snapshot()
		s.out.KeyValue("session", snap.StateName)
		s.out.KeyValue("threshold", fmt.Sprintf("%.2f", snap.Threshold))
		s.out.KeyValue("top k", s.topK)
		s.out.KeyValue("cached", snap.CacheSize)
		s.out.KeyValue("index", snap.IndexPath)
	default:
		s.out.Errorf("unknown command %s (try :help)", fields[0])
	}
	return false
}

func (s *shell) search(ctx context.Context, prompt string) {
	if s.ctrl.Snapshot().State != session.Started {
		if err := s.ctrl.StartSession(ctx); err != nil {
			s.out.Error(cberrors.FormatForUser(err))
			return
		}
		s.out.Warning("search session was restarted")
	}
	ids, err := s.ctrl.Search(ctx, prompt, s.topK)
	if err != nil {
		s.out.Error(cberrors.FormatForUser(err))
		return
	}
	s.out.Results(ids)
}
