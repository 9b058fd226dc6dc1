package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"followup-escalator/internal/config"
	"followup-escalator/internal/escalation"
	"followup-escalator/internal/models"
	"followup-escalator/internal/wire"
)

var recipientRules = map[models.Tier]string{
	models.TierEmployee: "the assignee",
	models.TierManager:  "the assignee's manager and the assignee (all admins when there is no manager)",
	models.TierAdmin:    "every admin",
}

func TierCmd() *cobra.Command {
	var managerHours, adminHours int

	cmd := &cobra.Command{
		Use:   "tier [hours-overdue]",
		Short: "Show the escalation tier for a number of hours overdue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hours, err := strconv.Atoi(args[0])
			if err != nil || hours < 0 {
				return fmt.Errorf("hours must be a non-negative integer, got %q", args[0])
			}
			if managerHours <= 0 || adminHours <= managerHours {
				return fmt.Errorf("thresholds must satisfy 0 < manager (%d) < admin (%d)", managerHours, adminHours)
			}
			policy := escalation.Policy{ManagerThresholdHours: managerHours, AdminThresholdHours: adminHours}

			tier := policy.Classify(hours)
			printf(cmd, "%d hours overdue: %s\n", hours, tierColor(tier).Sprint(tier))
			printf(cmd, "Notifies: %s\n", recipientRules[tier])
			return nil
		},
	}

	cfg := config.Load()
	cmd.Flags().IntVar(&managerHours, "manager-hours", cfg.ManagerThresholdHours, "hours overdue before managers are notified")
	cmd.Flags().IntVar(&adminHours, "admin-hours", cfg.AdminThresholdHours, "hours overdue before admins are notified")
	return cmd
}

func ScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one overdue scan and enqueue escalation checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *wire.App) error {
				summary := app.Scanner.ScanAndEnqueue(ctx)
				if summary.Err != nil {
					return summary.Err
				}
				printf(cmd, "Found %d overdue follow-ups: %d enqueued, %d already queued, %d failed\n",
					summary.Found, summary.Enqueued, summary.Duplicates, summary.Failed)
				return nil
			})
		},
	}
}

func CheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [followup-id]",
		Short: "Run an escalation check for one follow-up immediately, bypassing the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *wire.App) error {
				result, err := app.Escalator.Process(ctx, models.EscalationJob{FollowUpID: args[0]})
				if err != nil {
					return fmt.Errorf("escalation check failed: %w", err)
				}
				if !result.Skipped {
					printf(cmd, "Tier: %s\n", tierColor(result.Tier).Sprint(result.Tier))
				}
				printf(cmd, "%s\n", escalation.Describe(result))
				return nil
			})
		},
	}
}
