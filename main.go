package main

import (
	"fmt"
	"os"

	"go.olrik.dev/torcalc/cmd"
	"go.olrik.dev/torcalc/internal/core"
)

func main() {
	root := cmd.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(core.ExitCode(err))
	}
}
