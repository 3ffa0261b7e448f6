package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ledgerkit/ledgerkit/cli/config"
	"github.com/ledgerkit/ledgerkit/cli/styles"
	"github.com/ledgerkit/ledgerkit/cli/ui"
)

// NewInitCommand creates the init command
func NewInitCommand() *cobra.Command {
	var (
		driver string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file",
		Long: `Create a ledgerd.yaml configuration file in the current directory.

Examples:
  ledgerd init                   # PostgreSQL-backed configuration
  ledgerd init --driver memory   # In-memory configuration for development`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}

			if config.Exists(cwd) && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", config.ConfigFileName)
			}

			if driver != "postgres" && driver != "memory" {
				return fmt.Errorf("unsupported driver: %s (use postgres or memory)", driver)
			}

			cfg := config.DefaultConfig()
			cfg.Database.Driver = driver

			path := filepath.Join(cwd, config.ConfigFileName)
			if err := os.WriteFile(path, []byte(config.GenerateYAML(cfg)), 0644); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			fmt.Println()
			fmt.Println(ui.SimpleBanner())
			fmt.Println()
			fmt.Println(styles.FormatSuccess(fmt.Sprintf("Created %s", config.ConfigFileName)))
			fmt.Println()
			fmt.Println(styles.Subtitle.Render("Next steps:"))
			if driver == "postgres" {
				fmt.Printf("  %s Set the DATABASE_URL environment variable\n", styles.IconArrow)
				fmt.Printf("  %s Run %s to create tables\n", styles.IconArrow, styles.Code.Render("ledgerd migrate"))
			}
			fmt.Printf("  %s Run %s to start the server\n", styles.IconArrow, styles.Code.Render("ledgerd serve"))
			fmt.Println()

			return nil
		},
	}

	cmd.Flags().StringVarP(&driver, "driver", "d", "postgres", "Database driver (postgres or memory)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing configuration file")

	return cmd
}
