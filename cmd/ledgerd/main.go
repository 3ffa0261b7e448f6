// ledgerd is the command-line interface for the ledgerkit account ledger.
//
// Usage:
//
//	ledgerd <command> [flags]
//
// Commands:
//
//	init        Create a configuration file
//	serve       Start the ledger HTTP server
//	migrate     Create database tables
//	status      Show event log and projection status
//	rebuild     Rebuild read models from the event log
//	version     Show version information
//
// Examples:
//
//	# Create a configuration file
//	ledgerd init
//
//	# Create the database tables
//	ledgerd migrate
//
//	# Start the HTTP server
//	ledgerd serve
//
//	# Rebuild read models after changing a projection
//	ledgerd rebuild
package main

import (
	"os"

	"github.com/ledgerkit/ledgerkit/cli/commands"

	// Register PostgreSQL driver
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Build information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// Set version info
	commands.Version = version
	commands.Commit = commit
	commands.BuildDate = buildDate

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
