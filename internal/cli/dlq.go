package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"followup-escalator/internal/models"
	"followup-escalator/internal/store"
	"followup-escalator/internal/wire"
	"followup-escalator/internal/worker"
)

func DLQCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect, retry and discard dead-lettered escalation checks",
	}
	cmd.AddCommand(dlqListCmd())
	cmd.AddCommand(dlqRetryCmd())
	cmd.AddCommand(dlqDiscardCmd())
	return cmd
}

func dlqListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letters, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *wire.App) error {
				jobs, err := app.Ledger.ListByStatus(ctx, models.StatusDeadLetter, limit)
				if err != nil {
					return fmt.Errorf("failed to list dead letters: %w", err)
				}
				writeJobTable(cmd, jobs)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows to show")
	return cmd
}

func dlqRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry [job-id]",
		Short: "Reset a dead letter's attempts and put it back on the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *wire.App) error {
				job, err := app.Producer.RetryDeadLetter(ctx, args[0])
				switch {
				case errors.Is(err, worker.ErrNotDeadLettered):
					return fmt.Errorf("job %s is not dead-lettered", args[0])
				case errors.Is(err, store.ErrJobNotFound):
					return fmt.Errorf("job %s not found", args[0])
				case err != nil:
					return fmt.Errorf("failed to retry job: %w", err)
				}
				printf(cmd, "Requeued %s (%s)\n", job.ID, statusColor(job.Status))
				return nil
			})
		},
	}
}

func dlqDiscardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discard [job-id]",
		Short: "Drop a dead letter from the queue and delete its ledger row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *wire.App) error {
				err := app.Producer.DiscardDeadLetter(ctx, args[0])
				switch {
				case errors.Is(err, worker.ErrNotDeadLettered):
					return fmt.Errorf("job %s is not dead-lettered", args[0])
				case errors.Is(err, store.ErrJobNotFound):
					return fmt.Errorf("job %s not found", args[0])
				case err != nil:
					return fmt.Errorf("failed to discard job: %w", err)
				}
				printf(cmd, "Discarded %s\n", args[0])
				return nil
			})
		},
	}
}

func writeJobTable(cmd *cobra.Command, jobs []models.Job) {
	if len(jobs) == 0 {
		printf(cmd, "No jobs found.\n")
		return
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKEY\tSTATUS\tATTEMPTS\tUPDATED\tLAST ERROR")
	fmt.Fprintln(w, "--\t---\t------\t--------\t-------\t----------")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			j.ID,
			j.UniqueKey,
			j.Status,
			j.Attempts, j.MaxAttempts,
			j.UpdatedAt.Format(time.RFC3339),
			orDash(j.LastError),
		)
	}
	w.Flush()
}
