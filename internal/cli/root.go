/*
PURPOSE:
  Defines the root Cobra command for the Portrait Runner CLI.
  Handles global flags and the shared config loading sequence.

REQUIREMENTS:
  User-specified:
  - Provide a CLI interface.
  - Support global flags like --config.

  Implementation-discovered:
  - Needs to expose an Execute() function for main.go.
  - Every option flag is shared by run and check, so they are persistent.
  - Precedence: defaults < config file < .env / PORTRAIT_* < flags.

ARCHITECTURE INTEGRATION:
  - Called by: cmd/portrait-runner/main.go
  - Calls: Child commands (run, check)

ERROR HANDLING:
  - Returns error to main.go for exit code handling.

IMPLEMENTATION RULES:
  - Use `PersistentFlags()` for flags available to all subcommands.
  - Keep Run logic in subcommands.

RELATED FILES:
  - cmd/portrait-runner/main.go
  - internal/cli/flags.go
*/

package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/daryltucker/portrait-runner/internal/config"
	"github.com/daryltucker/portrait-runner/internal/output"
)

var (
	// cfgFile stores the path to the config file (if specified via flag)
	cfgFile string
	// envFile is loaded into the environment before PORTRAIT_* overrides apply.
	envFile string

	rootCmd = &cobra.Command{
		Use:   "portrait-runner",
		Short: "Batch driver for live portrait face reenactment",
		Long: `Runs a live portrait animation pipeline on one source/driving pair, or on
every source subfolder x driving image of a batch. Use 'run --help' for options.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./portrait_runner.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with PORTRAIT_* settings")
	bindOptionFlags(rootCmd.PersistentFlags(), flagValues)
}

// loadConfig resolves the effective configuration for cmd and configures logging.
func loadConfig(cmd *cobra.Command) (*config.ArgumentConfig, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, err
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Override(flagValues, changedOptions(cmd.Flags()))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	output.Configure(cfg.LogFormat, cfg.Verbose)
	return cfg, nil
}
