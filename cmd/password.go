package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.olrik.dev/torcalc/internal/core"
	"go.olrik.dev/torcalc/internal/db"
	"go.olrik.dev/torcalc/internal/keyring"
)

func NewPasswordCommand(g *globalFlags) *cobra.Command {
	passwordCmd := &cobra.Command{
		Use:     "password",
		Aliases: []string{"passwd", "pass"},
		Short:   "Manage passwords for the test accounts",
		Long: `Store, delete, and list passwords for the test-auth accounts. Passwords are
stored in the system keyring and seeded into the local store on the next
launch with test auth enabled.`,
	}

	// password set command
	setCmd := &cobra.Command{
		Use:               "set <username>",
		Short:             "Store a password for a test account",
		Long:              `Store a password for a test account. The password is stored securely in the system keyring (Keychain on macOS, Secret Service on Linux).`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: testAccountCompletionFunc(g),
		Run: func(cmd *cobra.Command, args []string) {
			username := db.NormalizeUsername(args[0])
			if username == "" {
				slog.Error("Username must not be empty")
				os.Exit(1)
			}

			// Prompt for password with confirmation
			password, err := keyring.PromptAndConfirmPassword(username)
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to read password: %v", err))
				os.Exit(1)
			}

			if err := keyring.New().Set(username, password); err != nil {
				slog.Error(fmt.Sprintf("Failed to store password: %v", err))
				os.Exit(1)
			}

			slog.Info(fmt.Sprintf("Password stored securely for '%s'", username))
		},
	}

	// password delete command
	deleteCmd := &cobra.Command{
		Use:               "delete <username>",
		Aliases:           []string{"del", "remove", "rm"},
		Short:             "Delete a stored test account password",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: testAccountCompletionFunc(g),
		Run: func(cmd *cobra.Command, args []string) {
			username := db.NormalizeUsername(args[0])

			if err := keyring.New().Delete(username); err != nil {
				slog.Error(fmt.Sprintf("Failed to delete password: %v", err))
				os.Exit(1)
			}

			slog.Info(fmt.Sprintf("Password deleted for '%s'", username))
		},
	}

	// password list command
	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List test accounts and whether a password is stored",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig(cmd, g, core.Overrides{})
			if err != nil {
				slog.Error(fmt.Sprintf("Failed to load configuration: %v", err))
				os.Exit(core.ExitCode(err))
			}
			printAccounts(cmd, cfg.TestAccounts, keyring.New())
		},
	}

	passwordCmd.AddCommand(setCmd, deleteCmd, listCmd)
	return passwordCmd
}

// passwordChecker reports whether a password is stored for a username
type passwordChecker interface {
	Has(username string) bool
}

func printAccounts(cmd *cobra.Command, accounts []core.TestAccount, ring passwordChecker) {
	out := cmd.OutOrStdout()
	if len(accounts) == 0 {
		fmt.Fprintln(out, "No test accounts configured")
		return
	}

	fmt.Fprintln(out, "Test accounts:")
	for _, a := range accounts {
		stored := "no password"
		if ring.Has(a.Username) {
			stored = "password stored"
		}
		fmt.Fprintf(out, "  - %s (%s): %s\n", a.Username, a.Status, stored)
	}
}
