package commands

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	ledgerkit "github.com/ledgerkit/ledgerkit"
	"github.com/ledgerkit/ledgerkit/cli/styles"
	"github.com/ledgerkit/ledgerkit/cli/ui"
)

// NewRebuildCommand creates the rebuild command
func NewRebuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild read models from the event log",
		Long: `Rebuild all read models by replaying the full event log.

Read models are cleared and projection checkpoints reset before the
replay. Events are re-applied in (timestamp, position) order, so the
resulting read models match the log exactly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := ensureContext(cmd.Context())

			backend, cleanup, err := getBackend(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			ledger := ledgerkit.New(backend.Adapter)
			projector := ledgerkit.NewProjector(backend.Adapter, backend.Adapter, []ledgerkit.Projection{
				ledgerkit.NewSummaryProjection(backend.ReadModels),
				ledgerkit.NewHistoryProjection(backend.ReadModels),
			})
			rebuilder := ledgerkit.NewRebuilder(backend.Adapter, backend.Adapter, projector, ledger.Serializer())

			jobID, err := rebuilder.Start(ctx)
			if err != nil {
				return err
			}

			progress := ui.NewProgress("Rebuilding read models...")
			p := tea.NewProgram(progress)

			go func() {
				for {
					time.Sleep(100 * time.Millisecond)

					job, err := rebuilder.Job(jobID)
					if err != nil {
						p.Send(ui.ProgressMsg{Percent: 1.0, Message: "Rebuild finished"})
						return
					}

					switch job.State {
					case ledgerkit.RebuildRunning:
						percent := 0.0
						if job.TotalEvents > 0 {
							percent = float64(job.EventsProcessed) / float64(job.TotalEvents)
							if percent >= 1.0 {
								percent = 0.99
							}
						}
						p.Send(ui.ProgressMsg{
							Percent: percent,
							Message: fmt.Sprintf("Replaying events (%d/%d)", job.EventsProcessed, job.TotalEvents),
						})
					default:
						p.Send(ui.ProgressMsg{Percent: 1.0, Message: "Rebuild finished"})
						return
					}
				}
			}()

			if _, err := p.Run(); err != nil {
				return err
			}

			job, err := rebuilder.Job(jobID)
			if err != nil {
				return err
			}

			if job.State == ledgerkit.RebuildFailed {
				return fmt.Errorf("rebuild failed: %s", job.Error)
			}

			duration := time.Duration(0)
			if job.FinishedAt != nil {
				duration = job.FinishedAt.Sub(job.StartedAt).Round(time.Millisecond)
			}

			fmt.Println()
			fmt.Println(styles.FormatSuccess(fmt.Sprintf(
				"Rebuilt %d projection(s) from %d event(s) in %s",
				len(projector.Projections()), job.EventsProcessed, duration,
			)))
			return nil
		},
	}

	return cmd
}
