package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	ledgerkit "github.com/ledgerkit/ledgerkit"
	"github.com/ledgerkit/ledgerkit/cli/styles"
	"github.com/ledgerkit/ledgerkit/cli/ui"
)

// NewStatusCommand creates the status command
func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show event log and projection status",
		Long: `Show the state of the event log and the projection checkpoints.

For each projection the command reports its checkpoint (the last global
position it has processed) and its lag behind the head of the log.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := ensureContext(cmd.Context())

			backend, cleanup, err := getBackend(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			totalEvents, err := backend.Adapter.TotalEvents(ctx)
			if err != nil {
				return fmt.Errorf("failed to count events: %w", err)
			}

			lastPosition, err := backend.Adapter.LastPosition(ctx)
			if err != nil {
				return fmt.Errorf("failed to read log position: %w", err)
			}

			checkpoints, err := backend.Adapter.Checkpoints(ctx)
			if err != nil {
				return fmt.Errorf("failed to read checkpoints: %w", err)
			}

			fmt.Println()
			fmt.Println(ui.SimpleBanner())
			fmt.Println()
			fmt.Println(styles.FormatCount("Total events", totalEvents))
			fmt.Println(styles.FormatCount("Last position", lastPosition))
			fmt.Println()

			table := ui.NewTable("Projection", "Checkpoint", "Lag", "Updated", "Status")
			for _, name := range []string{
				ledgerkit.ProjectionAccountSummaries,
				ledgerkit.ProjectionTransactionHistory,
			} {
				checkpoint := checkpoints[name]
				lag := lastPosition - checkpoint.Position
				status := "ok"
				if lag > 0 {
					status = "pending"
				}
				updated := "never"
				if !checkpoint.UpdatedAt.IsZero() {
					updated = checkpoint.UpdatedAt.Format("2006-01-02 15:04:05")
				}
				table.AddRow(name,
					fmt.Sprintf("%d", checkpoint.Position),
					fmt.Sprintf("%d", lag),
					updated,
					ui.StatusBadge(status),
				)
			}

			fmt.Println(table.Render())
			fmt.Println()

			return nil
		},
	}

	return cmd
}
