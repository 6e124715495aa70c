package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/clipbridge/internal/config"
	"github.com/Aman-CERP/clipbridge/internal/daemon"
	"github.com/Aman-CERP/clipbridge/internal/output"
)

type searchOptions struct {
	topK      int
	threshold float64
	jsonOut   bool
	noDaemon  bool
}

// searchResult is the JSON form of a search.
type searchResult struct {
	Prompt    string   `json:"prompt"`
	IDs       []string `json:"ids"`
	TopK      int      `json:"top_k"`
	Threshold float64  `json:"threshold"`
	Cached    bool     `json:"cached"`
	Source    string   `json:"source"`
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <prompt>",
		Short: "Find indexed images matching a text prompt",
		Long: `Search the index for images matching a text prompt.

When the daemon is running the query goes to its resident session, which
already has the model loaded. Otherwise a search session is started for
this one query.

Results are printed best first. Nothing is printed when no image scores
above the threshold.`,
		Example: `  clipbridge search "a red sailboat"
  clipbridge search -k 10 -t 0.25 "cat on a sofa"
  clipbridge search --json "sunset"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.TrimSpace(strings.Join(args, " "))
			if err := validateSearchFlags(opts.topK, opts.threshold, cmd.Flags().Changed("threshold")); err != nil {
				return err
			}
			return runSearch(cmd, prompt, opts, cmd.Flags().Changed("threshold"))
		},
	}

	cmd.Flags().IntVarP(&opts.topK, "top-k", "k", 0, "Maximum number of results (default from config)")
	cmd.Flags().Float64VarP(&opts.threshold, "threshold", "t", 0, "Minimum similarity score in [0,1] (default from config)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&opts.noDaemon, "no-daemon", false, "Always start a local search session")
	return cmd
}

func runSearch(cmd *cobra.Command, prompt string, opts searchOptions, thresholdSet bool) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var res searchResult
	if client := daemon.NewClient(daemonConfig(cfg)); !opts.noDaemon && client.IsRunning() {
		res, err = searchDaemon(ctx, client, prompt, opts, thresholdSet)
	} else {
		res, err = searchLocal(ctx, cfg, prompt, opts, thresholdSet)
	}
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	if opts.jsonOut {
		return out.JSON(res)
	}
	out.Results(res.IDs)
	return nil
}

func searchDaemon(ctx context.Context, client *daemon.Client, prompt string, opts searchOptions, thresholdSet bool) (searchResult, error) {
	if thresholdSet {
		if _, err := client.SetThreshold(ctx, opts.threshold); err != nil {
			return searchResult{}, err
		}
	}
	qr, err := client.Query(ctx, prompt, opts.topK)
	if err != nil {
		return searchResult{}, err
	}
	slog.Debug("search answered by daemon", slog.Int64("latency_ms", qr.LatencyMS))
	return searchResult{
		Prompt:    prompt,
		IDs:       qr.IDs,
		TopK:      qr.TopK,
		Threshold: qr.Threshold,
		Cached:    qr.Cached,
		Source:    "daemon",
	}, nil
}

func searchLocal(ctx context.Context, cfg *config.Config, prompt string, opts searchOptions, thresholdSet bool) (searchResult, error) {
	sink := openTelemetry(cfg)
	defer sink.Close()
	ctrl := newController(cfg, sink)
	defer func() { _ = ctrl.Close() }()

	if thresholdSet {
		ctrl.SetThreshold(opts.threshold)
	}
	if err := ctrl.StartSession(ctx); err != nil {
		return searchResult{}, err
	}
	ids, rec, err := ctrl.SearchRecord(ctx, prompt, opts.topK)
	if err != nil {
		return searchResult{}, err
	}
	return searchResult{
		Prompt:    prompt,
		IDs:       ids,
		TopK:      rec.TopK,
		Threshold: rec.Threshold,
		Cached:    rec.Cached,
		Source:    "local",
	}, nil
}
