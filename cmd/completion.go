package cmd

import (
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.olrik.dev/torcalc/internal/core"
)

// testAccountCompletionFunc completes the configured test account usernames
func testAccountCompletionFunc(g *globalFlags) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		// Only the first argument is a username
		if len(args) != 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		cfg, err := loadConfig(cmd, g, core.Overrides{})
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		return matchUsernames(cfg.TestAccounts, toComplete), cobra.ShellCompDirectiveNoFileComp
	}
}

// matchUsernames returns the sorted, de-duplicated usernames starting with prefix
func matchUsernames(accounts []core.TestAccount, prefix string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, a := range accounts {
		if seen[a.Username] || !strings.HasPrefix(a.Username, strings.ToLower(prefix)) {
			continue
		}
		seen[a.Username] = true
		names = append(names, a.Username)
	}
	sort.Strings(names)
	return names
}
