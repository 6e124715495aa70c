package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/clipbridge/internal/output"
)

func newLocateCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "locate",
		Short: "Show where clip_tool and the index are resolved",
		Long: `Resolve the clip_tool executable for this platform and print the
paths clipbridge will use.

The newest package folder under tool.root whose name matches
tool.dir_pattern wins. Exits non-zero when the executable cannot be
resolved.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			report := describeTool(cfg)
			out := output.New(cmd.OutOrStdout())

			if jsonOutput {
				if err := out.JSON(report); err != nil {
					return err
				}
			} else {
				out.KeyValue("platform", report.GOOS)
				out.KeyValue("root", report.Root)
				if report.PackageDir != "" {
					out.KeyValue("package", report.PackageDir)
				}
				if report.Executable != "" {
					out.KeyValue("executable", report.Executable)
				}
				out.KeyValue("index", report.IndexPath)
			}

			// The resolver's own error carries the code and suggestion.
			_, err = newLocator(cfg).ResolveExecutablePath()
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
