package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"followup-escalator/internal/config"
	"followup-escalator/internal/models"
	"followup-escalator/internal/telemetry"
	"followup-escalator/internal/wire"
)

// loadApp builds the pipeline from the environment. Commands that only need
// the escalation policy never call it.
var loadApp = func(ctx context.Context) (*wire.App, error) {
	cfg := config.Load()
	logger := telemetry.NewLogger(cfg.Env, cfg.LogLevel, os.Stderr)
	return wire.Build(ctx, cfg, logger)
}

// RootCmd returns the escalctl command tree.
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "escalctl",
		Short: "Operate the follow-up escalation pipeline",
		Long: `escalctl inspects and drives the overdue follow-up escalation pipeline.

Examples:
  escalctl tier 50            # which tier a follow-up 50 hours overdue reaches
  escalctl scan               # run one overdue scan now
  escalctl dlq list           # dead-lettered escalation checks
  escalctl dlq retry <job-id> # give a dead letter a fresh attempt budget
  escalctl dlq discard <id>   # drop a dead letter for good`,
		SilenceUsage: true,
	}

	root.AddCommand(TierCmd())
	root.AddCommand(ScanCmd())
	root.AddCommand(CheckCmd())
	root.AddCommand(DLQCmd())
	root.AddCommand(JobCmd())
	root.AddCommand(StatsCmd())
	root.AddCommand(SweepCmd())
	root.AddCommand(MigrateCmd())
	return root
}

// withApp runs fn against a freshly built pipeline and closes it afterwards.
// SIGINT cancels the context handed to fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *wire.App) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func tierColor(t models.Tier) *color.Color {
	switch t {
	case models.TierAdmin:
		return color.New(color.FgRed, color.Bold)
	case models.TierManager:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgGreen)
	}
}

func statusColor(status string) string {
	switch status {
	case models.StatusSucceeded:
		return color.New(color.FgGreen).Sprint(status)
	case models.StatusDeadLetter:
		return color.New(color.FgRed).Sprint(status)
	case models.StatusInProgress:
		return color.New(color.FgCyan).Sprint(status)
	default:
		return status
	}
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
