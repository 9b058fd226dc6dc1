package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"followup-escalator/internal/clock"
	"followup-escalator/internal/models"
	"followup-escalator/internal/store"
	"followup-escalator/internal/telemetry"
)

// ErrNotDeadLettered is returned when retrying a job that is not in the DLQ.
var ErrNotDeadLettered = errors.New("job is not dead-lettered")

// ProducerLedger is the ledger surface used to submit and revive jobs.
type ProducerLedger interface {
	CreateJob(ctx context.Context, p store.CreateJobParams) (models.Job, bool, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	MarkDeadLetter(ctx context.Context, id string, attempts int, lastErr string) error
	ResetForRetry(ctx context.Context, id string, runAt time.Time) (models.Job, error)
	AppendAudit(ctx context.Context, jobID, event, detail string) error
	DeleteJobs(ctx context.Context, ids []string) (int64, error)
}

// ProducerQueue is the queue surface used to submit and revive jobs.
type ProducerQueue interface {
	Enqueue(ctx context.Context, jobID string, runAt time.Time) error
	DLQRemove(ctx context.Context, jobID string) error
	Cancel(ctx context.Context, jobID string) error
}

// Producer records jobs in the ledger and hands their ids to the queue.
type Producer struct {
	ledger      ProducerLedger
	queue       ProducerQueue
	maxAttempts int
	clock       clock.Clock
	logger      *slog.Logger
}

func NewProducer(ledger ProducerLedger, q ProducerQueue, maxAttempts int, clk clock.Clock, logger *slog.Logger) *Producer {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{ledger: ledger, queue: q, maxAttempts: maxAttempts, clock: clk, logger: logger.With("component", "producer")}
}

// Submit creates a job under uniqueKey. When the key already exists the
// existing job is returned with duplicate=true and nothing is enqueued.
func (p *Producer) Submit(ctx context.Context, jobType, uniqueKey string, payload any, runAt time.Time) (models.Job, bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return models.Job{}, false, fmt.Errorf("encode payload: %w", err)
	}
	job, duplicate, err := p.ledger.CreateJob(ctx, store.CreateJobParams{
		Type:        jobType,
		UniqueKey:   uniqueKey,
		Payload:     body,
		RunAt:       runAt,
		MaxAttempts: p.maxAttempts,
	})
	if err != nil {
		return models.Job{}, false, err
	}
	if duplicate {
		return job, true, nil
	}

	if err := p.queue.Enqueue(ctx, job.ID, runAt); err != nil {
		// Park the row where operators can see and retry it.
		reason := fmt.Sprintf("enqueue failed: %v", err)
		if markErr := p.ledger.MarkDeadLetter(context.WithoutCancel(ctx), job.ID, 0, reason); markErr != nil {
			p.logger.Error("orphaned ledger row", "job_id", job.ID, "error", markErr)
		}
		return job, false, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	_ = p.ledger.AppendAudit(ctx, job.ID, "enqueued", uniqueKey)
	telemetry.EnqueueCounter.Inc()
	return job, false, nil
}

// Enqueue submits one escalation check due immediately.
func (p *Producer) Enqueue(ctx context.Context, job models.EscalationJob) (bool, error) {
	_, duplicate, err := p.Submit(ctx, models.JobTypeEscalationCheck, job.UniqueKey(), job, p.clock.Now())
	return duplicate, err
}

// RetryDeadLetter gives a dead-lettered job a fresh attempt budget and puts it
// back on the ready queue.
func (p *Producer) RetryDeadLetter(ctx context.Context, id string) (models.Job, error) {
	now := p.clock.Now()
	job, err := p.ledger.ResetForRetry(ctx, id, now)
	if errors.Is(err, store.ErrJobNotFound) {
		if _, getErr := p.ledger.GetJob(ctx, id); getErr == nil {
			return models.Job{}, ErrNotDeadLettered
		}
		return models.Job{}, err
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("reset job %s: %w", id, err)
	}
	if err := p.queue.DLQRemove(ctx, id); err != nil {
		p.logger.Warn("remove from dead-letter list", "job_id", id, "error", err)
	}
	if err := p.queue.Enqueue(ctx, id, now); err != nil {
		return job, fmt.Errorf("enqueue job %s: %w", id, err)
	}
	_ = p.ledger.AppendAudit(ctx, id, "retried", "operator retry from dead-letter queue")
	p.logger.Info("dead letter retried", "job_id", id)
	return job, nil
}

// DiscardDeadLetter drops a dead-lettered job from the queue and deletes its
// ledger row. The follow-up is picked up again by the next scan if it is
// still overdue.
func (p *Producer) DiscardDeadLetter(ctx context.Context, id string) error {
	job, err := p.ledger.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != models.StatusDeadLetter {
		return ErrNotDeadLettered
	}
	if err := p.queue.Cancel(ctx, id); err != nil {
		return fmt.Errorf("cancel job %s: %w", id, err)
	}
	if _, err := p.ledger.DeleteJobs(ctx, []string{id}); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	p.logger.Info("dead letter discarded", "job_id", id, "key", job.UniqueKey)
	return nil
}
