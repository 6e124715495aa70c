package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/clipbridge/internal/output"
	"github.com/Aman-CERP/clipbridge/internal/telemetry"
)

func newStatsCmd() *cobra.Command {
	var (
		jsonOutput bool
		days       int
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show search statistics",
		Long: `Display the local query history recorded by searches from every surface:
  - Query totals, failures and cache hits
  - Latency distribution
  - Top prompt terms
  - Recent zero-result prompts
  - Recent index builds

Nothing is recorded when telemetry.enabled is false.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd, jsonOutput, days, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include")
	cmd.Flags().IntVar(&limit, "limit", 10, "Entries per list")
	return cmd
}

func runStats(cmd *cobra.Command, jsonOutput bool, days, limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.Telemetry.Path); err != nil {
		return fmt.Errorf("no query history found at %s\nRun 'clipbridge search' to record some", cfg.Telemetry.Path)
	}

	store, err := telemetry.Open(cfg.Telemetry.Path)
	if err != nil {
		return fmt.Errorf("failed to open telemetry store: %w", err)
	}
	defer func() { _ = store.Close() }()

	since := time.Now().AddDate(0, 0, -days)
	stats, err := store.Stats(cmd.Context(), since, limit)
	if err != nil {
		return fmt.Errorf("failed to get query stats: %w", err)
	}

	if jsonOutput {
		return output.New(cmd.OutOrStdout()).JSON(stats)
	}
	printStats(cmd.OutOrStdout(), stats, days)
	return nil
}

var latencyOrder = []telemetry.LatencyBucket{
	telemetry.BucketP10,
	telemetry.BucketP50,
	telemetry.BucketP100,
	telemetry.BucketP500,
	telemetry.BucketP1000,
}

func printStats(w io.Writer, s *telemetry.Stats, days int) {
	_, _ = fmt.Fprintf(w, "Query Statistics (last %d days)\n", days)
	_, _ = fmt.Fprintln(w, "===============================")
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintf(w, "Total Queries: %d\n", s.TotalQueries)
	_, _ = fmt.Fprintf(w, "Failed:        %d\n", s.FailedQueries)
	_, _ = fmt.Fprintf(w, "Cached:        %d\n", s.CachedQueries)
	_, _ = fmt.Fprintf(w, "Zero Results:  %.1f%%\n", s.ZeroResultPercentage())
	_, _ = fmt.Fprintln(w)

	if s.TotalQueries > 0 {
		_, _ = fmt.Fprintln(w, "Latency Distribution:")
		for _, b := range latencyOrder {
			_, _ = fmt.Fprintf(w, "  %-8s %d\n", b, s.LatencyDistribution[b])
		}
		_, _ = fmt.Fprintln(w)
	}

	if len(s.TopTerms) > 0 {
		_, _ = fmt.Fprintln(w, "Top Query Terms:")
		for i, tc := range s.TopTerms {
			_, _ = fmt.Fprintf(w, "  %d. %s (%d)\n", i+1, tc.Term, tc.Count)
		}
	} else {
		_, _ = fmt.Fprintln(w, "Top Query Terms: (none recorded yet)")
	}
	_, _ = fmt.Fprintln(w)

	if len(s.ZeroResultQueries) > 0 {
		_, _ = fmt.Fprintln(w, "Recent Zero-Result Queries:")
		for _, q := range s.ZeroResultQueries {
			_, _ = fmt.Fprintf(w, "  - %q\n", q)
		}
	} else {
		_, _ = fmt.Fprintln(w, "Recent Zero-Result Queries: (none)")
	}
	_, _ = fmt.Fprintln(w)

	if len(s.RecentBuilds) == 0 {
		_, _ = fmt.Fprintln(w, "Recent Builds: (none)")
		return
	}
	_, _ = fmt.Fprintln(w, "Recent Builds:")
	for _, b := range s.RecentBuilds {
		outcome := "ok"
		switch {
		case b.Killed:
			outcome = "stopped"
		case !b.Success:
			outcome = "failed"
		}
		_, _ = fmt.Fprintf(w, "  %s  %-7s %d/%d  %s  %s\n",
			b.StartedAt.Local().Format("2006-01-02 15:04"), outcome, b.Processed, b.Total,
			b.Duration.Round(time.Millisecond), b.SourceDir)
	}
}
