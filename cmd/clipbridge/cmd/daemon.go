package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/clipbridge/internal/config"
	"github.com/Aman-CERP/clipbridge/internal/daemon"
	cberrors "github.com/Aman-CERP/clipbridge/internal/errors"
	"github.com/Aman-CERP/clipbridge/internal/logging"
	"github.com/Aman-CERP/clipbridge/internal/output"
)

// daemonStartTimeout bounds the wait for a background daemon to answer.
const daemonStartTimeout = 15 * time.Second

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background search daemon",
		Long: `The daemon keeps a clip_tool search session loaded between CLI calls, so
'clipbridge search' skips the model load on every query.

Commands:
  start    Start the daemon (runs in background by default)
  stop     Stop the running daemon
  status   Show daemon status
  restart  Restart the daemon's search session

Examples:
  clipbridge daemon start      # Start daemon in background
  clipbridge daemon start -f   # Run in foreground (for debugging)
  clipbridge daemon status     # Check if daemon is running
  clipbridge daemon stop       # Stop the daemon`,
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())
	cmd.AddCommand(newDaemonRestartCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the background daemon",
		Long: `Start the search daemon in the background.

Use --foreground for debugging or to see logs in real-time.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStart(cmd, foreground)
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (don't daemonize)")
	return cmd
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Long: `Stop the running search daemon.

Sends SIGTERM to the daemon process for graceful shutdown.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStop(cmd)
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStatus(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newDaemonRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the daemon's search session",
		Long: `Restart the clip_tool search session inside the running daemon.

Use this after rebuilding the index or fixing the installation. It also
resets the circuit breaker that stops restarts after repeated crashes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := daemon.NewClient(daemonConfig(cfg)).Restart(cmd.Context())
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Search session restarted (pid: %d)", st.SessionPID)
			return nil
		},
	}
}

func runDaemonStart(cmd *cobra.Command, foreground bool) error {
	out := output.New(cmd.OutOrStdout())
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dcfg := daemonConfig(cfg)

	client := daemon.NewClient(dcfg)
	if client.IsRunning() {
		out.Status("", "Daemon is already running")
		return nil
	}

	if foreground {
		return runDaemonForeground(cmd, cfg, dcfg)
	}

	out.Status("", "Starting daemon in background...")

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	bg := exec.Command(execPath, "daemon", "start", "--foreground")
	detach(bg)
	if err := bg.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Reap the child and notice if it dies before answering.
	exited := make(chan error, 1)
	go func() { exited <- bg.Wait() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), daemonStartTimeout)
	defer cancel()
	ready := make(chan error, 1)
	go func() { ready <- client.WaitForReady(ctx) }()

	select {
	case err := <-exited:
		if err != nil {
			return fmt.Errorf("daemon process exited unexpectedly: %w", err)
		}
		return errors.New("daemon process exited unexpectedly with code 0")
	case err := <-ready:
		if err != nil {
			return cberrors.New(cberrors.ErrCodeDaemonUnavailable, "daemon failed to start within timeout", err).
				WithSuggestion("Run 'clipbridge daemon start -f' to see why")
		}
	}

	out.Successf("Daemon started (pid: %d)", bg.Process.Pid)
	return nil
}

func runDaemonForeground(cmd *cobra.Command, cfg *config.Config, dcfg daemon.Config) error {
	out := output.New(cmd.OutOrStdout())
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	out.Status("", "Starting daemon in foreground...")
	out.Statusf("", "Socket: %s", dcfg.SocketPath)
	out.Statusf("", "Logs: %s", logging.LogPath(cfg.LogDir()))
	out.Status("", "Press Ctrl+C to stop")
	out.Newline()

	slog.Info("daemon starting in foreground mode",
		slog.String("socket", dcfg.SocketPath),
		slog.String("log_file", logging.LogPath(cfg.LogDir())))

	sink := openTelemetry(cfg)
	defer sink.Close()

	d, err := daemon.New(dcfg, newController(cfg, sink), daemon.WithLogger(slog.Default()))
	if err != nil {
		slog.Error("failed to create daemon", slog.String("error", err.Error()))
		return err
	}
	return d.Run(ctx)
}

func runDaemonStop(cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dcfg := daemonConfig(cfg)

	pid, _ := daemon.NewPIDFile(dcfg.PIDPath).Read()
	if err := daemon.StopRunning(dcfg); err != nil {
		if cberrors.GetCode(err) == cberrors.ErrCodeDaemonUnavailable {
			out.Status("", "Daemon is not running")
			return nil
		}
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	out.Successf("Daemon stopped (was pid: %d)", pid)
	return nil
}

func runDaemonStatus(cmd *cobra.Command, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dcfg := daemonConfig(cfg)
	client := daemon.NewClient(dcfg)

	if !client.IsRunning() {
		if jsonOutput {
			return out.JSON(daemon.StatusResult{Running: false})
		}
		out.Status("", "Daemon is not running")
		out.Status("", "Run 'clipbridge daemon start' to start it")
		return nil
	}

	status, err := client.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if jsonOutput {
		return out.JSON(status)
	}

	out.Status("", "Daemon is running")
	out.KeyValue("pid", status.PID)
	out.KeyValue("uptime", status.Uptime)
	out.KeyValue("session", fmt.Sprintf("%s (pid %d)", status.SessionState, status.SessionPID))
	out.KeyValue("threshold", fmt.Sprintf("%.2f", status.Threshold))
	out.KeyValue("top k", status.TopK)
	out.KeyValue("index", status.IndexPath)
	out.KeyValue("queries", status.Queries)
	out.KeyValue("cached", status.CacheEntries)
	out.KeyValue("restarts", status.Restarts)
	out.KeyValue("breaker", status.Breaker)
	out.KeyValue("socket", dcfg.SocketPath)
	return nil
}
