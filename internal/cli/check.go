/*
PURPOSE:
  Defines the 'check' subcommand.
  Runs the preflight checks without starting any inference.

REQUIREMENTS:
  User-specified:
  - Report missing ffmpeg before a long batch is queued.

  Implementation-discovered:
  - Useful validation step before a full run; shows which pipeline
    adapter the config selects.

ARCHITECTURE INTEGRATION:
  - Calls: internal/preflight

ERROR HANDLING:
  - Prints every failing check, returns the first error.

USAGE:
  portrait-runner check --flag-process-batch --batch-source-dir data/src ...
*/

package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daryltucker/portrait-runner/internal/preflight"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify tools and input paths without running inference",
	Long: `Runs the same preflight as 'run': every configured tool must answer
-version, the source and driving inputs must exist and, in batch mode, the
batch source and driving directories must exist. A missing batch directory is
an error here and in 'run', while the upstream inference.py treats it as an
empty batch and writes an empty manifest.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		tc := preflight.NewToolchain(wd, os.Getenv("PATH"))
		out := cmd.OutOrStdout()

		var first error
		fail := func(err error) {
			fmt.Fprintf(out, "FAIL %v\n", err)
			if first == nil {
				first = err
			}
		}

		for _, tool := range cfg.Tools {
			version, err := tc.Check(cmd.Context(), tool)
			if err != nil {
				fail(err)
				continue
			}
			fmt.Fprintf(out, "ok   %s: %s\n", tool, version)
		}

		if err := preflight.CheckInputs(cfg.Source, cfg.Driving); err != nil {
			fail(err)
		} else {
			fmt.Fprintf(out, "ok   source %s, driving %s\n", cfg.Source, cfg.Driving)
		}
		if cfg.FlagProcessBatch {
			if err := preflight.CheckBatchDirs(cfg.BatchSourceDir, cfg.BatchDrivingDir); err != nil {
				fail(err)
			} else {
				fmt.Fprintf(out, "ok   batch source %s, batch driving %s\n", cfg.BatchSourceDir, cfg.BatchDrivingDir)
			}
		}

		if cfg.PipelineURL != "" {
			fmt.Fprintf(out, "pipeline: POST %s\n", cfg.PipelineURL)
		} else {
			fmt.Fprintf(out, "pipeline: %s\n", strings.Join(cfg.PipelineCommand, " "))
		}
		return first
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
