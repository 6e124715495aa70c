package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Aman-CERP/clipbridge/internal/config"
	"github.com/Aman-CERP/clipbridge/internal/controller"
	"github.com/Aman-CERP/clipbridge/internal/daemon"
	cberrors "github.com/Aman-CERP/clipbridge/internal/errors"
	"github.com/Aman-CERP/clipbridge/internal/locator"
	"github.com/Aman-CERP/clipbridge/internal/session"
	"github.com/Aman-CERP/clipbridge/internal/telemetry"
)

// loadConfig loads the configuration for the working directory.
func loadConfig() (*config.Config, error) {
	return config.Load(".")
}

func newLocator(cfg *config.Config) *locator.Locator {
	loc := locator.New(cfg.Tool.Root, cfg.DataDir)
	if cfg.Tool.DirPattern != "" {
		loc.DirPattern = cfg.Tool.DirPattern
	}
	return loc
}

func indexPath(cfg *config.Config, loc *locator.Locator) string {
	if cfg.Index.Path != "" {
		return cfg.Index.Path
	}
	return loc.DefaultIndexPath()
}

func controllerConfig(cfg *config.Config, loc *locator.Locator) controller.Config {
	return controller.Config{
		IndexPath:    indexPath(cfg, loc),
		Extensions:   cfg.Index.Extensions,
		Threshold:    cfg.Search.Threshold,
		TopK:         cfg.Search.TopK,
		QueryTimeout: cfg.QueryTimeout(),
		CacheSize:    cfg.Search.CacheSize,
	}
}

func daemonConfig(cfg *config.Config) daemon.Config {
	dc := daemon.DefaultConfig(cfg.DataDir)
	if cfg.Daemon.SocketPath != "" {
		dc.SocketPath = cfg.Daemon.SocketPath
	}
	if cfg.Daemon.PIDPath != "" {
		dc.PIDPath = cfg.Daemon.PIDPath
	}
	if d := cfg.DaemonTimeout(); d > 0 {
		dc.Timeout = d
	}
	return dc
}

// telemetrySink is the optional query history. A nil store means telemetry
// is disabled or could not be opened; commands keep working without it.
type telemetrySink struct {
	store    *telemetry.Store
	recorder *telemetry.Recorder
}

func openTelemetry(cfg *config.Config) *telemetrySink {
	if !cfg.Telemetry.Enabled {
		return &telemetrySink{}
	}
	store, err := telemetry.Open(cfg.Telemetry.Path)
	if err != nil {
		slog.Warn("telemetry disabled", slog.String("path", cfg.Telemetry.Path), slog.String("error", err.Error()))
		return &telemetrySink{}
	}
	return &telemetrySink{store: store, recorder: telemetry.NewRecorder(store, slog.Default())}
}

// Close flushes pending events and closes the database.
func (t *telemetrySink) Close() {
	if t.recorder != nil {
		t.recorder.Close()
	}
	if t.store != nil {
		_ = t.store.Close()
	}
}

func (t *telemetrySink) options() []controller.Option {
	if t.recorder == nil {
		return nil
	}
	return []controller.Option{
		controller.WithQueryRecorder(t.recorder.QueryHook()),
		controller.WithBuildRecorder(t.recorder.BuildHook()),
	}
}

// newController wires a controller to the configured tool and telemetry.
func newController(cfg *config.Config, sink *telemetrySink) *controller.Controller {
	loc := newLocator(cfg)
	opts := append([]controller.Option{controller.WithLogger(slog.Default())}, sink.options()...)
	return controller.New(loc, controllerConfig(cfg, loc), opts...)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// validateSearchFlags applies the same bounds as the MCP tools.
func validateSearchFlags(topK int, threshold float64, thresholdSet bool) error {
	if topK < 0 || topK > session.MaxTopK {
		return cberrors.ValidationError(fmt.Sprintf("--top-k must be between 1 and %d, got %d", session.MaxTopK, topK))
	}
	if thresholdSet && (threshold < 0 || threshold > 1) {
		return cberrors.ValidationError(fmt.Sprintf("--threshold must be between 0 and 1, got %g", threshold))
	}
	return nil
}

// describeTool reports the installation with the configured index path.
func describeTool(cfg *config.Config) locator.Report {
	loc := newLocator(cfg)
	report := loc.Describe()
	report.IndexPath = indexPath(cfg, loc)
	_, err := os.Stat(report.IndexPath)
	report.IndexExists = err == nil
	return report
}
