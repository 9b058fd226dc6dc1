package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"followup-escalator/internal/clock"
	"followup-escalator/internal/models"
	"followup-escalator/internal/telemetry"
)

// RetentionLedger is the ledger surface the janitor prunes.
type RetentionLedger interface {
	PurgeSucceeded(ctx context.Context, cutoff time.Time) (int64, error)
	ListDeadLettersBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error)
	DeleteJobs(ctx context.Context, ids []string) (int64, error)
}

// DeadLetterList forgets purged ids.
type DeadLetterList interface {
	DLQRemove(ctx context.Context, jobID string) error
}

// Archiver persists dead letters before deletion.
type Archiver interface {
	Archive(ctx context.Context, jobs []models.Job) (string, error)
}

// Janitor enforces the success and failure retention windows.
type Janitor struct {
	ledger    RetentionLedger
	dlq       DeadLetterList
	archiver  Archiver
	onSuccess time.Duration
	onFailure time.Duration
	batchSize int
	clock     clock.Clock
	logger    *slog.Logger
}

// SweepReport summarises one janitor pass.
type SweepReport struct {
	PurgedSucceeded int64
	PurgedDead      int64
	ArchivedTo      []string
}

func NewJanitor(ledger RetentionLedger, dlq DeadLetterList, archiver Archiver, onSuccess, onFailure time.Duration, clk clock.Clock, logger *slog.Logger) *Janitor {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		ledger:    ledger,
		dlq:       dlq,
		archiver:  archiver,
		onSuccess: onSuccess,
		onFailure: onFailure,
		batchSize: 500,
		clock:     clk,
		logger:    logger.With("component", "janitor"),
	}
}

// Sweep deletes succeeded jobs older than the success window and dead letters
// older than the failure window. Dead letters are archived first; a failed
// archive leaves them in place for the next sweep.
func (j *Janitor) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := j.clock.Now()

	if j.onSuccess > 0 {
		n, err := j.ledger.PurgeSucceeded(ctx, now.Add(-j.onSuccess))
		if err != nil {
			return report, fmt.Errorf("purge succeeded: %w", err)
		}
		report.PurgedSucceeded = n
		telemetry.JanitorPurged.Add(float64(n))
	}

	if j.onFailure <= 0 {
		return report, nil
	}
	cutoff := now.Add(-j.onFailure)
	for {
		jobs, err := j.ledger.ListDeadLettersBefore(ctx, cutoff, j.batchSize)
		if err != nil {
			return report, fmt.Errorf("list dead letters: %w", err)
		}
		if len(jobs) == 0 {
			break
		}
		if j.archiver != nil {
			location, err := j.archiver.Archive(ctx, jobs)
			if err != nil {
				return report, fmt.Errorf("archive dead letters: %w", err)
			}
			report.ArchivedTo = append(report.ArchivedTo, location)
			telemetry.ArchivedJobs.Add(float64(len(jobs)))
		}
		ids := make([]string, 0, len(jobs))
		for _, job := range jobs {
			ids = append(ids, job.ID)
			if err := j.dlq.DLQRemove(ctx, job.ID); err != nil {
				j.logger.Warn("remove from dead-letter list", "job_id", job.ID, "error", err)
			}
		}
		n, err := j.ledger.DeleteJobs(ctx, ids)
		if err != nil {
			return report, fmt.Errorf("delete dead letters: %w", err)
		}
		report.PurgedDead += n
		telemetry.JanitorPurged.Add(float64(n))
		if len(jobs) < j.batchSize {
			break
		}
	}
	return report, nil
}

// Run sweeps every interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		report, err := j.Sweep(ctx)
		switch {
		case err != nil && !errors.Is(err, context.Canceled):
			j.logger.Error("retention sweep failed", "error", err)
		case err == nil && (report.PurgedSucceeded > 0 || report.PurgedDead > 0):
			j.logger.Info("retention sweep",
				"purged_succeeded", report.PurgedSucceeded,
				"purged_dead", report.PurgedDead,
				"archives", report.ArchivedTo,
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
