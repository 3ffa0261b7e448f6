// Package commands provides the CLI command implementations for ledgerd.
package commands

import (
	"fmt"

	"github.com/ledgerkit/ledgerkit/cli/styles"
	"github.com/ledgerkit/ledgerkit/cli/ui"
	"github.com/spf13/cobra"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// NewRootCommand creates the root command for the ledgerd CLI
func NewRootCommand() *cobra.Command {
	var noColor bool

	rootCmd := &cobra.Command{
		Use:   "ledgerd",
		Short: "Event-sourced account ledger server",
		Long: ui.SimpleBanner() + `

Ledgerd serves bank accounts backed by an append-only event log.
Balances are folded from events, read models are projected from the
same log, and every write is protected by optimistic concurrency.

` + styles.Title.Render("Quick Start:") + `

  ` + styles.Code.Render("ledgerd init") + `          Create a configuration file
  ` + styles.Code.Render("ledgerd migrate") + `       Create database tables
  ` + styles.Code.Render("ledgerd serve") + `         Start the HTTP server
  ` + styles.Code.Render("ledgerd status") + `        Show event log and projection status

` + styles.Title.Render("Documentation:") + `

  https://github.com/ledgerkit/ledgerkit`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				styles.DisableColors()
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	// Add subcommands
	rootCmd.AddCommand(NewInitCommand())
	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewMigrateCommand())
	rootCmd.AddCommand(NewStatusCommand())
	rootCmd.AddCommand(NewRebuildCommand())
	rootCmd.AddCommand(NewVersionCommand(Version, Commit, BuildDate))

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(styles.FormatError(err.Error()))
		return err
	}

	return nil
}
