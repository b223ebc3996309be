package cmd

import (
	"github.com/spf13/cobra"
	"go.olrik.dev/torcalc/internal/core"
	"go.olrik.dev/torcalc/internal/logging"
)

// globalFlags are shared by every subcommand
type globalFlags struct {
	dataDir string
	verbose int
}

func NewRootCommand() *cobra.Command {
	var g globalFlags
	launch := &launchFlags{}

	rootCmd := &cobra.Command{
		Use:   "torcalc",
		Short: "TorCalculator - desktop launcher",
		Long: `TorCalculator - desktop launcher

Starts the calculator UI server (or serves the prebuilt bundle), waits until
it answers HTTP and opens it in a desktop window. Without a subcommand this
is the same as "torcalc launch".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLaunchCommand(cmd, &g, launch)
		},
	}
	rootCmd.PersistentFlags().StringVar(&g.dataDir, "data-dir", "", "data directory (default ~/.tor-calculator)")
	rootCmd.PersistentFlags().CountVarP(&g.verbose, "verbose", "v", "more output, repeat for even more")
	launch.register(rootCmd)

	rootCmd.AddCommand(
		NewLaunchCommand(&g),
		NewProbeCommand(&g),
		NewTxCommand(&g),
		NewPasswordCommand(&g),
		NewVersionCommand(),
	)

	return rootCmd
}

// loadConfig resolves configuration with the global flags applied
func loadConfig(cmd *cobra.Command, g *globalFlags, o core.Overrides) (*core.Configuration, error) {
	if cmd.Flags().Changed("data-dir") {
		o.DataDir = &g.dataDir
	}
	o.Verbose = g.verbose
	return core.Load(o)
}

// newLogger builds the console and file logger for cfg
func newLogger(cfg *core.Configuration, debug bool) *logging.Logger {
	return logging.Setup(logging.Options{
		Verbose:  cfg.Verbose,
		Debug:    debug,
		FilePath: cfg.LogPath(),
	})
}
