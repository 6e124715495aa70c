package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/clipbridge/internal/ui"
)

func newTUICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive search and indexing window",
		Long: `Open a full-screen terminal app that starts a search session, shows its
state and threshold, runs searches as you type and builds indexes with a
live progress bar.

Keys: enter search, tab switch between search and index folder,
pgup/pgdown change the threshold, ctrl+r restart the session,
ctrl+x cancel a build, esc quit.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationQuiet: "true"},
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

			return ui.RunApp(ctx, ctrl, noColor)
		},
	}
}
