package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.olrik.dev/torcalc/internal/core"
	"go.olrik.dev/torcalc/internal/probe"
)

func NewProbeCommand(g *globalFlags) *cobra.Command {
	var (
		host string
		port int
		wait float64
		pick bool
	)

	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Check whether the UI port answers HTTP",
		Long: `Check whether something listens on the UI port and whether it answers HTTP
with an accepted status. With --wait the check is repeated until it passes or
the timeout elapses. With --pick the port a launch would use is shown.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			var o core.Overrides
			if cmd.Flags().Changed("host") {
				o.Host = &host
			}
			if cmd.Flags().Changed("port") {
				o.Port = &port
			}
			cfg, err := loadConfig(cmd, g, o)
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to load configuration: %v", err))
				os.Exit(core.ExitCode(err))
			}

			logger := newLogger(cfg, false)
			defer logger.Close()
			prober := probe.NewProberFromConfig(logger.Logger, cfg.Health)
			out := cmd.OutOrStdout()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			if wait > 0 {
				timeout := time.Duration(wait * float64(time.Second))
				if err := prober.WaitForHTTP(ctx, cfg.Host, cfg.Port, timeout); err != nil {
					slog.Error(fmt.Sprintf("UI did not become healthy: %v", err))
					os.Exit(1)
				}
			}

			status := prober.Check(ctx, cfg.Host, cfg.Port)
			fmt.Fprintf(out, "%s: %s\n", probe.Address(cfg.Host, cfg.Port), status)

			if pick {
				candidate, err := probe.NewArbiter(prober, cfg.Companion.MaxPortTries).Pick(cfg.Host, cfg.Port)
				if err != nil {
					slog.Error(fmt.Sprintf("Failed to pick a port: %v", err))
					os.Exit(1)
				}
				fmt.Fprintf(out, "Launch would use port %d (%s)\n", candidate.Port, candidate.Source)
			}
		},
	}

	probeCmd.Flags().StringVar(&host, "host", "", "host to probe (default from configuration)")
	probeCmd.Flags().IntVar(&port, "port", 0, "port to probe (default from configuration)")
	probeCmd.Flags().Float64Var(&wait, "wait", 0, "wait up to this many seconds for the UI to become healthy")
	probeCmd.Flags().BoolVar(&pick, "pick", false, "also show the port a launch would pick")

	return probeCmd
}
