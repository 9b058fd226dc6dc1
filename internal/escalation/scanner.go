package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"followup-escalator/internal/clock"
	"followup-escalator/internal/models"
	"followup-escalator/internal/telemetry"
)

// OverdueFinder lists incomplete follow-ups that are due.
type OverdueFinder interface {
	FindOverdueIncomplete(ctx context.Context, now time.Time) ([]models.FollowUp, error)
}

// Enqueuer submits one escalation check. It reports duplicate=true when a job
// with the same unique key already exists.
type Enqueuer interface {
	Enqueue(ctx context.Context, job models.EscalationJob) (duplicate bool, err error)
}

// ScanSummary reports one scan cycle.
type ScanSummary struct {
	Found      int       `json:"found"`
	Enqueued   int       `json:"enqueued"`
	Duplicates int       `json:"duplicates"`
	Failed     int       `json:"failed"`
	ScannedAt  time.Time `json:"scannedAt"`
	Err        error     `json:"-"`
}

// Scanner finds overdue follow-ups and submits one check per follow-up per scan.
type Scanner struct {
	tasks  OverdueFinder
	queue  Enqueuer
	clock  clock.Clock
	logger *slog.Logger
}

func NewScanner(tasks OverdueFinder, queue Enqueuer, clk clock.Clock, logger *slog.Logger) *Scanner {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{tasks: tasks, queue: queue, clock: clk, logger: logger.With("component", "scanner")}
}

// ScanAndEnqueue never returns an error to its caller. A store failure is
// logged and reported in the summary; the next tick is the retry.
func (s *Scanner) ScanAndEnqueue(ctx context.Context) ScanSummary {
	telemetry.ScansTotal.Inc()
	now := s.clock.Now()
	summary := ScanSummary{ScannedAt: now}

	tasks, err := s.tasks.FindOverdueIncomplete(ctx, now)
	if err != nil {
		telemetry.ScanFailures.Inc()
		summary.Err = fmt.Errorf("scan overdue follow-ups: %w", err)
		s.logger.ErrorContext(ctx, "overdue scan failed", "error", err)
		return summary
	}
	summary.Found = len(tasks)

	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			summary.Err = err
			break
		}
		job := models.NewEscalationJob(task, now)
		duplicate, err := s.queue.Enqueue(ctx, job)
		switch {
		case err != nil:
			summary.Failed++
			telemetry.EnqueueFailures.Inc()
			s.logger.ErrorContext(ctx, "enqueue escalation check failed", "followup_id", task.ID, "error", err)
		case duplicate:
			summary.Duplicates++
		default:
			summary.Enqueued++
		}
	}

	s.logger.InfoContext(ctx, "overdue scan complete",
		"found", summary.Found,
		"enqueued", summary.Enqueued,
		"duplicates", summary.Duplicates,
		"failed", summary.Failed,
	)
	return summary
}
