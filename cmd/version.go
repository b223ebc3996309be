package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.olrik.dev/torcalc/internal/core"
)

func NewVersionCommand() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", core.AppName, core.FormatVersion(core.Version))
		},
	}

	return versionCmd
}
