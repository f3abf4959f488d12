package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"estate-harvester/models"
	"estate-harvester/services"
	"estate-harvester/utils"
)

const pollInterval = 500 * time.Millisecond

// TriggerCLI marks jobs started from the run command.
const TriggerCLI = "cli"

func newRunCommand() *cobra.Command {
	var (
		sources    []string
		fullRescan bool
		dryRun     bool
		report     bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one harvest job in the foreground",
		Long: `Starts a job for the given sources, waits for it to finish and prints
the per-source results. With --dry-run the job runs against an in-memory
store seeded from the configured sources, so nothing is persisted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, dryRun)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := a.orch.StartJob(ctx, services.JobRequest{
				SourceCodes: sources,
				FullRescan:  fullRescan,
				Trigger:     TriggerCLI,
			})
			if err != nil {
				return err
			}
			snap, err := waitForJob(ctx, a.orch, id, a.logger)
			if err != nil {
				return err
			}
			printJob(cmd.OutOrStdout(), snap)

			if report {
				if err := renderReport(ctx, cmd.OutOrStdout(), a.store, a.logger); err != nil {
					return err
				}
			}
			if snap.Job.Status == models.JobFailed {
				return fmt.Errorf("job %s failed: %s", id, snap.Job.ErrorMessage)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&sources, "source", "s", nil, "source code to harvest (repeatable)")
	cmd.Flags().BoolVar(&fullRescan, "full", false, "full rescan: deactivate listings no longer published")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "use an in-memory store instead of PostgreSQL")
	cmd.Flags().BoolVar(&report, "report", false, "print the insights report after the job")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

// jobWatcher is the orchestrator surface waitForJob polls.
type jobWatcher interface {
	GetJobStatus(ctx context.Context, id string) (*models.JobSnapshot, error)
	CancelJob(ctx context.Context, id string) error
}

// waitForJob polls until the job is terminal. When ctx ends first the job
// is cancelled and polling continues until it settles.
func waitForJob(ctx context.Context, w jobWatcher, id string, logger utils.Logger) (*models.JobSnapshot, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	bg := context.WithoutCancel(ctx)
	done := ctx.Done()
	lastProgress := -1
	for {
		snap, err := w.GetJobStatus(bg, id)
		if err != nil {
			return nil, err
		}
		if snap.Job.Status.IsTerminal() {
			return snap, nil
		}
		if snap.Job.Progress != lastProgress {
			lastProgress = snap.Job.Progress
			logger.Info("Job progress", utils.String("job_id", id), utils.Int("progress", lastProgress))
		}

		select {
		case <-done:
			logger.Warn("Interrupted, cancelling job", utils.String("job_id", id))
			if err := w.CancelJob(bg, id); err != nil {
				return nil, err
			}
			done = nil
		case <-ticker.C:
		}
	}
}

// printJob writes the job summary and one row per source.
func printJob(w io.Writer, snap *models.JobSnapshot) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("Job %s: %s", snap.Job.ID, snap.Job.Status))
	t.AppendHeader(table.Row{"Source", "Status", "Seen", "New", "Updated", "Deactivated", "Rejected", "Errors", "Message"})
	for _, r := range snap.Runs {
		t.AppendRow(table.Row{
			r.SourceCode, r.Status, r.Seen, r.New, r.Updated, r.Deactivated, r.Rejected, r.Errors, r.ErrorMessage,
		})
	}
	c := snap.Job.Counts
	t.AppendFooter(table.Row{"Total", snap.Job.Status, c.Seen, c.New, c.Updated, c.Deactivated, c.Rejected, c.Errors, ""})
	t.Render()
}
