package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.olrik.dev/torcalc/internal/core"
	"go.olrik.dev/torcalc/internal/db"
)

// openStore opens the transaction store of the configured data directory
func openStore(cmd *cobra.Command, g *globalFlags) (*db.DB, func(), error) {
	cfg, err := loadConfig(cmd, g, core.Overrides{})
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg, false)
	store, err := db.Open(cfg.DatabasePath(), logger.Logger)
	if err != nil {
		logger.Close()
		return nil, nil, core.Wrap(core.KindStore, "open store", err)
	}
	return store, func() {
		store.Close()
		logger.Close()
	}, nil
}

// resultError turns a failed store result into a command error
func resultError[T any](op string, res db.Result[T]) error {
	if res.OK() {
		return nil
	}
	if res.Err != nil {
		return fmt.Errorf("%s: %s: %w", op, res.Code, res.Err)
	}
	return fmt.Errorf("%s: %s", op, res.Code)
}

func NewTxCommand(g *globalFlags) *cobra.Command {
	txCmd := &cobra.Command{
		Use:     "tx",
		Aliases: []string{"transactions"},
		Short:   "Work with stored transactions",
		Long:    `List, add, delete and export the transactions kept in the local store, without starting the UI.`,
	}

	txCmd.AddCommand(
		newTxListCommand(g),
		newTxAddCommand(g),
		newTxDeleteCommand(g),
		newTxClearCommand(g),
		newTxExportCommand(g),
	)
	return txCmd
}

func newTxListCommand(g *globalFlags) *cobra.Command {
	var asJSON bool
	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List transactions, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openStore(cmd, g)
			if err != nil {
				return err
			}
			defer closeStore()

			res := store.ListTransactions()
			if err := resultError("list transactions", res); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				enc.SetEscapeHTML(false)
				return enc.Encode(res.Value)
			}

			if len(res.Value) == 0 {
				fmt.Fprintln(out, "No transactions")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tAMOUNT\tCREATED\tCOMMENT")
			var total float64
			for _, tx := range res.Value {
				total += tx.Amount
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", tx.ID, db.FormatAmount(tx.Amount), tx.CreatedAt, tx.Comment)
			}
			fmt.Fprintf(w, "\t%s\t\ttotal\n", db.FormatAmount(total))
			return w.Flush()
		},
	}
	listCmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return listCmd
}

func newTxAddCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "add <amount> [comment...]",
		Short: "Add a transaction",
		Long:  `Add a transaction. Negative amounts are expenses. Remaining arguments form the comment.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openStore(cmd, g)
			if err != nil {
				return err
			}
			defer closeStore()

			res := store.AddTransaction(args[0], strings.Join(args[1:], " "))
			if err := resultError("add transaction", res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added transaction %d (%s)\n", res.Value.ID, db.FormatAmount(res.Value.Amount))
			return nil
		},
	}
}

func newTxDeleteCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"del", "rm"},
		Short:   "Delete a transaction",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid transaction id %q", args[0])
			}

			store, closeStore, err := openStore(cmd, g)
			if err != nil {
				return err
			}
			defer closeStore()

			res := store.DeleteTransaction(id)
			if err := resultError("delete transaction", res); err != nil {
				return err
			}
			if res.Value == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No transaction with id %d\n", id)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted transaction %d\n", id)
			return nil
		},
	}
}

func newTxClearCommand(g *globalFlags) *cobra.Command {
	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete all transactions without --yes")
			}

			store, closeStore, err := openStore(cmd, g)
			if err != nil {
				return err
			}
			defer closeStore()

			res := store.ClearTransactions()
			if err := resultError("clear transactions", res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d transactions\n", res.Value)
			return nil
		},
	}
	clearCmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deleting everything")
	return clearCmd
}

func newTxExportCommand(g *globalFlags) *cobra.Command {
	var (
		format string
		output string
	)
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export transactions as CSV or a JSON backup",
		Long: `Export transactions as CSV (semicolon separated, UTF-8 with BOM) or as a
JSON backup. Without --output the file is written to the current directory
under its default dated name.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := db.Format(strings.ToLower(format))
			if f != db.FormatCSV && f != db.FormatJSON {
				return fmt.Errorf("unknown export format %q, use csv or json", format)
			}
			path := output
			if path == "" {
				path = db.DefaultExportName(f, time.Now())
			}
			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}

			store, closeStore, err := openStore(cmd, g)
			if err != nil {
				return err
			}
			defer closeStore()

			var res db.Result[db.Export]
			if f == db.FormatJSON {
				res = store.ExportJSON(path)
			} else {
				res = store.ExportCSV(path)
			}
			if err := resultError("export", res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d transactions to %s\n", res.Value.Count, res.Value.Path)
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&format, "format", "f", "csv", "csv or json")
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "destination file")
	return exportCmd
}
