package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"followup-escalator/internal/clock"
	"followup-escalator/internal/config"
	"followup-escalator/internal/models"
	"followup-escalator/internal/ratelimit"
	"followup-escalator/internal/store"
	"followup-escalator/internal/telemetry"
)

// ErrJobTimeout is returned when a handler outlives the per-job timeout.
var ErrJobTimeout = errors.New("job timed out")

// Handler executes a job for a given type. The returned value is stored as the
// job result.
type Handler func(ctx context.Context, job models.Job) (any, error)

// Ledger is the durable job record the processor updates.
type Ledger interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	MarkInProgress(ctx context.Context, id, workerID string) error
	MarkSuccess(ctx context.Context, id string, result []byte) error
	UpdateAttempts(ctx context.Context, id string, attempts int, nextRun time.Time, lastErr string) error
	MarkDeadLetter(ctx context.Context, id string, attempts int, lastErr string) error
	Requeue(ctx context.Context, id string) error
	AppendAudit(ctx context.Context, jobID, event, detail string) error
}

// JobQueue hands out job ids under a visibility lease.
type JobQueue interface {
	DequeueWithLease(ctx context.Context) (string, error)
	ExtendLease(ctx context.Context, jobID string, extension time.Duration) error
	Ack(ctx context.Context, jobID string) error
	Schedule(ctx context.Context, jobID string, runAt time.Time) error
	DLQPush(ctx context.Context, jobID string) error
	PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error)
	RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)
	ReadyDepth(ctx context.Context) (int64, error)
}

// Option customises a Processor.
type Option func(*Processor)

func WithWorkerID(id string) Option { return func(p *Processor) { p.workerID = id } }

func WithClock(c clock.Clock) Option { return func(p *Processor) { p.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(p *Processor) { p.logger = l } }

// WithLeaseHeartbeat sets how often a held lease is extended. It defaults to a
// third of the visibility timeout.
func WithLeaseHeartbeat(d time.Duration) Option { return func(p *Processor) { p.heartbeat = d } }

// Processor drives a pool of workers draining the queue.
type Processor struct {
	cfg        config.Config
	queue      JobQueue
	ledger     Ledger
	limiter    ratelimit.Limiter
	limiterKey string
	handlers   map[string]Handler
	workerID   string
	heartbeat  time.Duration
	clock      clock.Clock
	logger     *slog.Logger
}

func NewProcessor(cfg config.Config, q JobQueue, ledger Ledger, limiter ratelimit.Limiter, opts ...Option) *Processor {
	p := &Processor{
		cfg:        cfg,
		queue:      q,
		ledger:     ledger,
		limiter:    limiter,
		limiterKey: "ratelimit:" + cfg.QueueName,
		handlers:   make(map[string]Handler),
		clock:      clock.Real{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "processor")
	return p
}

// RegisterHandler binds a handler to a job type.
func (p *Processor) RegisterHandler(jobType string, handler Handler) {
	if jobType == "" || handler == nil {
		return
	}
	p.handlers[jobType] = handler
}

// Run starts WorkerConcurrency workers plus the housekeeping loop and blocks
// until ctx is cancelled. A failing job never stops the pool.
func (p *Processor) Run(ctx context.Context) error {
	concurrency := p.cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.housekeeping(ctx)
	}()
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.loop(ctx)
		}()
	}
	p.logger.Info("worker pool started", "concurrency", concurrency, "worker_id", p.workerID)
	wg.Wait()
	return ctx.Err()
}

func (p *Processor) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := p.ProcessNext(ctx)
		if err != nil && ctx.Err() == nil {
			p.logger.Error("process next job", "error", err)
		}
		if processed && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.pollInterval()):
		}
	}
}

func (p *Processor) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval())
	defer ticker.Stop()
	for {
		if err := p.Housekeep(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("housekeeping", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Housekeep promotes due retries, reclaims expired leases and refreshes gauges.
func (p *Processor) Housekeep(ctx context.Context) error {
	now := p.clock.Now()
	batch := int64(p.cfg.ScheduledBatchSize)
	if batch <= 0 {
		batch = 100
	}
	if _, err := p.queue.PromoteScheduled(ctx, now, batch); err != nil {
		return fmt.Errorf("promote scheduled: %w", err)
	}
	reclaimed, err := p.queue.RequeueExpired(ctx, now, batch)
	if err != nil {
		return fmt.Errorf("requeue expired: %w", err)
	}
	for _, id := range reclaimed {
		if err := p.ledger.Requeue(ctx, id); err != nil {
			p.logger.Warn("requeue ledger row", "job_id", id, "error", err)
			continue
		}
		_ = p.ledger.AppendAudit(ctx, id, "lease_expired", "reclaimed after visibility timeout")
	}
	if depth, err := p.queue.ReadyDepth(ctx); err == nil {
		telemetry.QueueDepthGauge.Set(float64(depth))
	}
	return nil
}

// ProcessNext leases and runs at most one job. It reports whether a job was
// dequeued.
func (p *Processor) ProcessNext(ctx context.Context) (bool, error) {
	jobID, err := p.queue.DequeueWithLease(ctx)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if jobID == "" {
		return false, nil
	}

	job, err := p.ledger.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrJobNotFound) {
		p.logger.Warn("dropping job with no ledger row", "job_id", jobID)
		return true, p.queue.Ack(ctx, jobID)
	}
	if err != nil {
		// The lease expires and the job is reclaimed.
		return true, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Finished() {
		return true, p.queue.Ack(ctx, jobID)
	}

	// The lease is held from here on, through the rate-limit wait and the run.
	stopLease := p.keepLease(ctx, job.ID)
	defer stopLease()

	if err := p.waitForToken(ctx); err != nil {
		return true, err
	}

	if err := p.ledger.MarkInProgress(ctx, job.ID, p.workerID); err != nil {
		p.logger.Warn("mark in progress", "job_id", job.ID, "error", err)
	}
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	result, runErr := p.runJob(ctx, job)
	if runErr != nil && ctx.Err() != nil {
		// Shutdown interrupted the job; the lease brings it back without
		// spending an attempt.
		return true, ctx.Err()
	}

	// Bookkeeping must land even if shutdown starts now.
	bctx := context.WithoutCancel(ctx)
	if runErr == nil {
		return true, p.handleSuccess(bctx, job, result)
	}
	return true, p.handleFailure(bctx, job, runErr)
}

// keepLease extends jobID's visibility lease on every heartbeat until stop is
// called or ctx ends. Extending an acked job is a no-op.
func (p *Processor) keepLease(ctx context.Context, jobID string) (stop func()) {
	interval := p.heartbeat
	if interval <= 0 {
		interval = p.cfg.VisibilityTimeout / 3
	}
	if interval <= 0 || p.cfg.VisibilityTimeout <= 0 {
		return func() {}
	}

	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := p.queue.ExtendLease(hbCtx, jobID, p.cfg.VisibilityTimeout); err != nil && hbCtx.Err() == nil {
					p.logger.Warn("extend lease", "job_id", jobID, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (p *Processor) waitForToken(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	for {
		allowed, _, err := p.limiter.Allow(ctx, p.limiterKey)
		if err != nil {
			// Limiter errors fail open.
			p.logger.Warn("rate limiter unavailable", "error", err)
			return nil
		}
		if allowed {
			return nil
		}
		telemetry.RateLimitWaits.Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.tokenWait()):
		}
	}
}

func (p *Processor) handleSuccess(ctx context.Context, job models.Job, result any) error {
	var body []byte
	if result != nil {
		var err error
		if body, err = json.Marshal(result); err != nil {
			p.logger.Warn("encode job result", "job_id", job.ID, "error", err)
			body = nil
		}
	}
	if err := p.ledger.MarkSuccess(ctx, job.ID, body); err != nil {
		return fmt.Errorf("mark success %s: %w", job.ID, err)
	}
	if err := p.queue.Ack(ctx, job.ID); err != nil {
		return fmt.Errorf("ack %s: %w", job.ID, err)
	}
	_ = p.ledger.AppendAudit(ctx, job.ID, "succeeded", "worker completed job")
	telemetry.WorkerSuccess.Inc()
	return nil
}

func (p *Processor) handleFailure(ctx context.Context, job models.Job, runErr error) error {
	attempts := job.Attempts + 1
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 || (p.cfg.MaxAttempts > 0 && p.cfg.MaxAttempts < maxAttempts) {
		maxAttempts = p.cfg.MaxAttempts
	}
	msg := runErr.Error()

	if attempts >= maxAttempts {
		if err := p.ledger.MarkDeadLetter(ctx, job.ID, attempts, msg); err != nil {
			return fmt.Errorf("mark dead letter %s: %w", job.ID, err)
		}
		_ = p.queue.DLQPush(ctx, job.ID)
		if err := p.queue.Ack(ctx, job.ID); err != nil {
			return fmt.Errorf("ack %s: %w", job.ID, err)
		}
		_ = p.ledger.AppendAudit(ctx, job.ID, "dead_letter", msg)
		telemetry.WorkerDeadLetter.Inc()
		p.logger.Error("job dead-lettered", "job_id", job.ID, "attempts", attempts, "error", msg)
		return nil
	}

	nextRun := p.clock.Now().Add(backoffWithJitter(p.cfg.BackoffInitial, p.cfg.BackoffMax, attempts))
	if err := p.ledger.UpdateAttempts(ctx, job.ID, attempts, nextRun, msg); err != nil {
		return fmt.Errorf("update attempts %s: %w", job.ID, err)
	}
	if err := p.queue.Schedule(ctx, job.ID, nextRun); err != nil {
		return fmt.Errorf("schedule retry %s: %w", job.ID, err)
	}
	if err := p.queue.Ack(ctx, job.ID); err != nil {
		return fmt.Errorf("ack %s: %w", job.ID, err)
	}
	_ = p.ledger.AppendAudit(ctx, job.ID, "retry_scheduled", fmt.Sprintf("next_run=%s attempts=%d", nextRun.UTC().Format(time.RFC3339), attempts))
	telemetry.WorkerFailures.Inc()
	p.logger.Warn("job failed, retry scheduled", "job_id", job.ID, "attempts", attempts, "next_run", nextRun, "error", msg)
	return nil
}

type outcome struct {
	result any
	err    error
}

// runJob executes the handler under the per-job timeout. A handler that
// ignores its context still releases the worker slot when the timeout fires.
func (p *Processor) runJob(ctx context.Context, job models.Job) (any, error) {
	handler, ok := p.handlers[job.Type]
	if !ok {
		return nil, fmt.Errorf("no handler registered for type %q", job.Type)
	}

	jobCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.cfg.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, p.cfg.JobTimeout)
	}
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		res, err := handler(jobCtx, job)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-jobCtx.Done():
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrJobTimeout, p.cfg.JobTimeout)
		}
		return nil, jobCtx.Err()
	}
}

func (p *Processor) pollInterval() time.Duration {
	if p.cfg.WorkerPollInterval > 0 {
		return p.cfg.WorkerPollInterval
	}
	return time.Second
}

// tokenWait is the average spacing of permits across the rate window.
func (p *Processor) tokenWait() time.Duration {
	if p.cfg.RateLimitMax <= 0 || p.cfg.RateLimitWindow <= 0 {
		return p.pollInterval()
	}
	return p.cfg.RateLimitWindow / time.Duration(p.cfg.RateLimitMax)
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(math.MaxInt64)
	if exp < float64(math.MaxInt64) {
		wait = time.Duration(exp)
	}
	if max > 0 && wait > max {
		wait = max
	}
	if wait < 2 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
