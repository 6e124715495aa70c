package cmd

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/clipbridge/internal/daemon"
	"github.com/Aman-CERP/clipbridge/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show installation, index and daemon status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			info := ui.StatusInfo{Tool: describeTool(cfg)}
			if st, err := os.Stat(info.Tool.IndexPath); err == nil {
				info.IndexSize = st.Size()
				info.LastIndexed = st.ModTime()
			}

			client := daemon.NewClient(daemonConfig(cfg))
			if client.IsRunning() {
				ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
				defer cancel()
				if st, err := client.Status(ctx); err == nil {
					info.Daemon = st
				}
			}

			r := ui.NewStatusRenderer(cmd.OutOrStdout(), noColor || ui.DetectNoColor() || !ui.IsTTY(cmd.OutOrStdout()))
			if jsonOutput {
				return r.RenderJSON(info)
			}
			return r.Render(info)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
