package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/clipbridge/internal/config"
	"github.com/Aman-CERP/clipbridge/internal/mcp"
	"github.com/Aman-CERP/clipbridge/internal/preflight"
)

func newServeCmd() *cobra.Command {
	var (
		transport string
		addr      string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol server so AI assistants can search and
index images.

Tools: search_images, index_images, index_status.
Resources: clipbridge://status, clipbridge://query_stats.

The search session starts on the first search. With the stdio transport
stdout belongs to the protocol, so logs go to the log file only.`,
		Example: `  # Claude Desktop / Claude Code (stdio)
  clipbridge serve

  # Streamable HTTP on localhost
  clipbridge serve --transport http --addr 127.0.0.1:8765`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationQuiet: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, transport, addr)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport: stdio or http")
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8765", "Listen address for the http transport")
	return cmd
}

func runServe(cmd *cobra.Command, transport, addr string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := servePreflight(cmd, cfg); err != nil {
		return err
	}

	sink := openTelemetry(cfg)
	defer sink.Close()
	ctrl := newController(cfg, sink)
	defer func() { _ = ctrl.Close() }()

	opts := []mcp.Option{mcp.WithLogger(slog.Default())}
	if sink.store != nil {
		opts = append(opts, mcp.WithStats(sink.store))
	}
	srv, err := mcp.NewServer(ctrl, opts...)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	return srv.Serve(ctx, transport, addr)
}

// servePreflight runs the system check once per marker lifetime. Failures go
// to the log because stdout may carry the protocol.
func servePreflight(cmd *cobra.Command, cfg *config.Config) error {
	if !preflight.NeedsCheck(cfg.DataDir) {
		return nil
	}
	checker := preflight.New()
	results := checker.RunAll(cmd.Context(), describeTool(cfg), cfg.DataDir)
	if checker.HasCriticalFailures(results) {
		for _, r := range results {
			if !r.IsCritical() {
				continue
			}
			slog.Error("preflight check", slog.String("name", r.Name), slog.String("status", r.Status.String()), slog.String("message", r.Message))
		}
		return fmt.Errorf("system check failed, run 'clipbridge doctor' for details")
	}
	if err := preflight.MarkPassed(cfg.DataDir); err != nil {
		slog.Debug("failed to mark preflight as passed", slog.String("error", err.Error()))
	}
	return nil
}
