package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/clipbridge/internal/daemon"
	"github.com/Aman-CERP/clipbridge/internal/output"
	"github.com/Aman-CERP/clipbridge/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the installation and diagnose issues",
		Long: `Run diagnostics to ensure clipbridge can launch clip_tool.

Checks:
  - Platform has a clip_tool build
  - clip_tool executable found (and marked executable)
  - Index built
  - Data directory writable
  - Disk space (100MB minimum)
  - File descriptor limit

Use --verbose for detailed diagnostic information.
Use --json for machine-readable output.`,
		Example: `  # Run diagnostics
  clipbridge doctor

  # JSON output for scripting
  clipbridge doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, verbose, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

// doctorResult is the JSON form of a doctor run.
type doctorResult struct {
	Status string                  `json:"status"`
	Checks []preflight.CheckResult `json:"checks"`
	Daemon bool                    `json:"daemon_running"`
}

func runDoctor(cmd *cobra.Command, verbose, jsonOutput bool) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	checker := preflight.New(
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
	)
	results := checker.RunAll(ctx, describeTool(cfg), cfg.DataDir)
	daemonRunning := daemon.NewClient(daemonConfig(cfg)).IsRunning()
	failed := checker.HasCriticalFailures(results)

	if failed {
		if err := preflight.ClearMarker(cfg.DataDir); err != nil {
			slog.Debug("failed to clear preflight marker", slog.String("error", err.Error()))
		}
	} else if err := preflight.MarkPassed(cfg.DataDir); err != nil {
		slog.Debug("failed to mark preflight as passed", slog.String("error", err.Error()))
	}

	if jsonOutput {
		if err := output.New(cmd.OutOrStdout()).JSON(doctorResult{
			Status: checker.SummaryStatus(results),
			Checks: results,
			Daemon: daemonRunning,
		}); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
		state := "not running"
		if daemonRunning {
			state = "running"
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\nDaemon: %s\n", state)
	}

	if failed {
		return &doctorError{message: "system check failed"}
	}
	return nil
}

// doctorError is a custom error for doctor command failures.
type doctorError struct {
	message string
}

func (e *doctorError) Error() string {
	return e.message
}
