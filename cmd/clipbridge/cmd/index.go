package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/clipbridge/internal/config"
	"github.com/Aman-CERP/clipbridge/internal/controller"
	"github.com/Aman-CERP/clipbridge/internal/output"
	"github.com/Aman-CERP/clipbridge/internal/ui"
	"github.com/Aman-CERP/clipbridge/internal/watcher"
)

// followInterval is how often the progress renderer polls the build.
const followInterval = 100 * time.Millisecond

type indexOptions struct {
	plain bool
	watch bool
	poll  bool
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index <folder>",
		Short: "Build the image index for a folder",
		Long: `Index every image in a folder with clip_tool.

The folder is scanned first so progress has a total, then clip_tool runs
in process mode and its progress markers drive a live progress bar (or
one line per update when output is not a terminal).

With --watch the command keeps running and rebuilds the index whenever
images in the folder are added, changed or removed.`,
		Example: `  clipbridge index ~/Pictures/screenshots
  clipbridge index ./photos --plain
  clipbridge index ./photos --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Plain line output even on a terminal")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Rebuild when images in the folder change")
	cmd.Flags().BoolVar(&opts.poll, "poll", false, "Watch by polling instead of file system events")
	return cmd
}

func runIndex(cmd *cobra.Command, dir string, opts indexOptions) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}

	sink := openTelemetry(cfg)
	defer sink.Close()
	ctrl := newController(cfg, sink)
	defer func() { _ = ctrl.Close() }()

	buildErr := runBuild(ctx, ctrl, abs, cmd.OutOrStdout(), opts.plain)
	if !opts.watch {
		return buildErr
	}
	if buildErr != nil && ctx.Err() == nil {
		slog.Warn("initial build failed, watching anyway", slog.String("error", buildErr.Error()))
	}
	return watchAndRebuild(ctx, cfg, ctrl, abs, cmd.OutOrStdout(), opts)
}

// runBuild starts a build and renders it until it ends. It returns the
// build's error, or ctx's when interrupted.
func runBuild(ctx context.Context, ctrl *controller.Controller, dir string, w io.Writer, plain bool) error {
	h, err := ctrl.StartBuild(ctx, dir)
	if err != nil {
		return err
	}

	r := ui.NewRenderer(ui.NewConfig(w,
		ui.WithForcePlain(plain),
		ui.WithNoColor(noColor || ui.DetectNoColor()),
		ui.WithSourceDir(dir)))
	if err := r.Start(ctx); err != nil {
		return err
	}
	st := ui.Follow(ctx, ctrl, r, followInterval)
	_ = r.Stop()

	if st.Running {
		h.Kill()
		_, _ = h.Wait()
		return ctx.Err()
	}
	if _, err := h.Wait(); err != nil {
		return err
	}
	return nil
}

// watchAndRebuild runs the watcher and the rebuild loop until ctx is done.
func watchAndRebuild(ctx context.Context, cfg *config.Config, ctrl *controller.Controller, dir string, w io.Writer, opts indexOptions) error {
	out := output.New(w)
	logger := slog.Default()

	fw := watcher.New(watcher.Options{
		Extensions:     cfg.Index.Extensions,
		DebounceWindow: cfg.WatchDebounce(),
		ForcePolling:   opts.poll,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return fw.Run(gctx, dir)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case err := <-fw.Errors():
				out.Warningf("watch: %v", err)
			}
		}
	})
	g.Go(func() error {
		return watcher.Rebuild(gctx, fw.Batches(), func(ctx context.Context, batch []watcher.FileEvent) error {
			out.Statusf("", "%d change(s) detected, rebuilding", len(batch))
			err := runBuild(ctx, ctrl, dir, w, true)
			if err != nil && ctx.Err() == nil {
				out.Error(err.Error())
			}
			return err
		}, logger)
	})

	out.Statusf("", "Watching %s (Ctrl+C to stop)", dir)
	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}
