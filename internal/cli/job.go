package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"followup-escalator/internal/store"
	"followup-escalator/internal/wire"
)

func JobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect escalation check jobs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show [job-id]",
		Short: "Show a job and its audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *wire.App) error {
				job, err := app.Ledger.GetJob(ctx, args[0])
				if errors.Is(err, store.ErrJobNotFound) {
					return fmt.Errorf("job %s not found", args[0])
				}
				if err != nil {
					return err
				}
				audit, err := app.Ledger.AuditTrail(ctx, job.ID)
				if err != nil {
					return fmt.Errorf("failed to read audit trail: %w", err)
				}

				printf(cmd, "Job: %s\n", job.ID)
				printf(cmd, "Type: %s\n", job.Type)
				printf(cmd, "Key: %s\n", job.UniqueKey)
				printf(cmd, "Status: %s\n", statusColor(job.Status))
				printf(cmd, "Attempts: %d/%d\n", job.Attempts, job.MaxAttempts)
				printf(cmd, "Next run: %s\n", job.NextRunAt.Format(time.RFC3339))
				if job.LastError != nil {
					printf(cmd, "Last error: %s\n", *job.LastError)
				}
				if len(job.Result) > 0 {
					printf(cmd, "Result: %s\n", job.Result)
				}
				printf(cmd, "Payload: %s\n", job.Payload)
				if len(audit) > 0 {
					printf(cmd, "\nAudit:\n")
					for _, a := range audit {
						printf(cmd, "  %s  %-12s %s\n", a.Recorded.Format(time.RFC3339), a.Event, a.Detail)
					}
				}
				return nil
			})
		},
	})
	return cmd
}

func StatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue depths and ledger counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *wire.App) error {
				qs, err := app.Queue.Stats(ctx)
				if err != nil {
					return fmt.Errorf("failed to read queue stats: %w", err)
				}
				counts, err := app.Ledger.CountByStatus(ctx)
				if err != nil {
					return fmt.Errorf("failed to count jobs: %w", err)
				}
				printf(cmd, "Queue: ready=%d in_flight=%d scheduled=%d dead=%d\n", qs.Ready, qs.InFlight, qs.Scheduled, qs.Dead)
				statuses := make([]string, 0, len(counts))
				for s := range counts {
					statuses = append(statuses, s)
				}
				sort.Strings(statuses)
				for _, s := range statuses {
					printf(cmd, "  %-14s %d\n", statusColor(s), counts[s])
				}
				return nil
			})
		},
	}
}

func SweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Apply the retention windows once, archiving expired dead letters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *wire.App) error {
				report, err := app.Janitor.Sweep(ctx)
				if err != nil {
					return fmt.Errorf("sweep failed: %w", err)
				}
				printf(cmd, "Purged %d succeeded and %d dead-lettered jobs\n", report.PurgedSucceeded, report.PurgedDead)
				for _, key := range report.ArchivedTo {
					printf(cmd, "Archived to %s\n", key)
				}
				return nil
			})
		},
	}
}

func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply ledger migrations and the ATS schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *wire.App) error {
				if err := app.Migrate(ctx); err != nil {
					return err
				}
				printf(cmd, "Migrations applied.\n")
				return nil
			})
		},
	}
}
