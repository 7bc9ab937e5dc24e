/*
PURPOSE:
  Defines the 'run' subcommand.
  Animates one pair, or a whole batch with --flag-process-batch.

REQUIREMENTS:
  User-specified:
  - Preflight (ffmpeg, input paths) before any inference.
  - Batch manifest at <batch-output-dir>fitting_obj_list_300.txt.

  Implementation-discovered:
  - Ctrl-C must reach the running inference child / HTTP request.
  - A run id ties log lines to inference server requests.

ARCHITECTURE INTEGRATION:
  - Calls: internal/engine.Run()
  - Uses: internal/config, internal/preflight

ERROR HANDLING:
  - Returns error if config load, preflight or any fatal job fails.

IMPLEMENTATION RULES:
  - Logic: Load Config -> Toolchain -> Engine.Run.

USAGE:
  portrait-runner run -s face.jpg -d smile.mp4
*/

package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/daryltucker/portrait-runner/internal/config"
	"github.com/daryltucker/portrait-runner/internal/engine"
	"github.com/daryltucker/portrait-runner/internal/output"
	"github.com/daryltucker/portrait-runner/internal/preflight"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Animate a source/driving pair or a batch",
	Long: `Runs the live portrait pipeline.

Before any inference, ffmpeg must answer -version (a ./ffmpeg directory is
added to the search path of child processes when present) and the configured
source and driving inputs must exist.

Batch mode (--flag-process-batch) expects:
  <batch-source-dir>/<group>/*.png              source images
  <batch-source-dir>/<group>/metadata_<id>.json companion metadata
  <batch-driving-dir>/*.png                     driving images
and writes <batch-output-dir>/<group>_<driving>/ per pair. A source image in
which no face is found is linked into the folder as a placeholder; any other
failure stops the batch.

Unlike the upstream inference.py, a missing batch source or driving directory
fails before any work starts instead of producing an empty manifest.`,
	Example: `  # Single pair with the command pipeline
  portrait-runner run -s assets/source/s6.jpg -d assets/driving/d0.mp4

  # Batch against an inference server
  portrait-runner run --flag-process-batch \
    --batch-source-dir data/src --batch-driving-dir data/drv --batch-output-dir data/out/ \
    --pipeline-url http://gpu-1:8890/animate --animation-region lip`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		runID := uuid.NewString()
		log := output.Logger.With("run_id", runID)

		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		tc := preflight.NewToolchain(wd, os.Getenv("PATH"))
		log.Debug("Tool search path", "path", tc.SearchPath())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return engine.Run(ctx, cfg, engine.Options{
			Toolchain: tc,
			Logger:    log,
			NewPipeline: func(c *config.ArgumentConfig, tc *preflight.Toolchain) (engine.Pipeline, error) {
				return engine.NewPipeline(c, tc, runID)
			},
		})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
