package commands

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ledgerkit/ledgerkit/cli/styles"
	"github.com/ledgerkit/ledgerkit/cli/ui"
)

// NewMigrateCommand creates the migrate command
func NewMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create database tables",
		Long: `Create the event log, snapshot, checkpoint, and read model tables.

The command is idempotent: existing tables are left untouched.

Examples:
  ledgerd migrate           # Create all tables in the configured schema`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := ensureContext(cmd.Context())

			cfg, _, err := loadConfig()
			if err != nil {
				return fmt.Errorf("no ledgerd.yaml found: %w", err)
			}

			if cfg.Database.Driver == "memory" {
				fmt.Println(styles.FormatInfo("Memory driver doesn't require migrations"))
				return nil
			}

			backend, err := NewBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			// Show spinner while connecting
			spinner := ui.NewSpinner("Connecting to database...")
			p := tea.NewProgram(spinner)

			go func() {
				time.Sleep(500 * time.Millisecond)
				p.Send(ui.SpinnerDoneMsg{Result: "Connected to database"})
			}()

			if _, err := p.Run(); err != nil {
				return err
			}

			fmt.Printf("  %s Creating event log tables... ", styles.IconPending)
			if err := backend.Postgres.Migrate(ctx); err != nil {
				fmt.Println(styles.ErrorStyle.Render("FAILED"))
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Println(styles.SuccessStyle.Render("OK"))

			fmt.Printf("  %s Creating read model tables... ", styles.IconPending)
			if err := backend.PostgresReadModels.Migrate(ctx); err != nil {
				fmt.Println(styles.ErrorStyle.Render("FAILED"))
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Println(styles.SuccessStyle.Render("OK"))

			fmt.Println()
			fmt.Println(styles.FormatSuccess(fmt.Sprintf("Schema %q is up to date", cfg.Database.Schema)))
			return nil
		},
	}

	return cmd
}
