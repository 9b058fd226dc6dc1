package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"followup-escalator/internal/models"
)

// ErrJobNotFound is returned when a ledger row does not exist.
var ErrJobNotFound = errors.New("job not found")

// Store wraps pgxpool for the escalation job ledger.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity for health endpoints.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateJobParams collects inputs required to insert a job.
type CreateJobParams struct {
	Type        string
	UniqueKey   string
	Payload     []byte
	RunAt       time.Time
	MaxAttempts int
}

const jobColumns = `id, type, unique_key, payload, status, attempts, max_attempts, next_run_at,
	last_error, result, worker_id, created_at, updated_at, finished_at`

// CreateJob inserts a queued job row. When a job with the same unique key already
// exists it returns that job and true instead of inserting.
func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (models.Job, bool, error) {
	if p.UniqueKey == "" {
		return models.Job{}, false, errors.New("unique key is required")
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if len(p.Payload) == 0 {
		p.Payload = []byte("{}")
	}

	id := uuid.New().String()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO escalation_jobs (id, type, unique_key, payload, status, attempts, max_attempts, next_run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, NOW(), NOW())
		ON CONFLICT (unique_key) DO NOTHING
		RETURNING `+jobColumns,
		id, p.Type, p.UniqueKey, p.Payload, models.StatusQueued, p.MaxAttempts, p.RunAt)

	job, err := scanJob(row)
	if errors.Is(err, ErrJobNotFound) {
		existing, err := s.FindByUniqueKey(ctx, p.UniqueKey)
		if err != nil {
			return models.Job{}, false, fmt.Errorf("unique key conflict: %w", err)
		}
		return existing, true, nil
	}
	if err != nil {
		return models.Job{}, false, fmt.Errorf("insert job: %w", err)
	}
	return job, false, nil
}

// FindByUniqueKey returns the job recorded under key.
func (s *Store) FindByUniqueKey(ctx context.Context, key string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM escalation_jobs WHERE unique_key = $1`, key)
	return scanJob(row)
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM escalation_jobs WHERE id = $1`, id)
	return scanJob(row)
}

// ListByStatus returns up to limit jobs in status, newest first.
func (s *Store) ListByStatus(ctx context.Context, status string, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM escalation_jobs
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

// ListDeadLettersBefore returns dead-lettered jobs that finished before cutoff.
func (s *Store) ListDeadLettersBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM escalation_jobs
		WHERE status = $1 AND finished_at < $2
		ORDER BY finished_at ASC
		LIMIT $3
	`, models.StatusDeadLetter, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return collectJobs(rows)
}

// MarkInProgress records which worker picked the job up.
func (s *Store) MarkInProgress(ctx context.Context, id, workerID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE escalation_jobs SET status = $2, worker_id = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $1
	`, id, models.StatusInProgress, workerID)
	return err
}

// MarkSuccess transitions a job to succeeded and stores its result.
func (s *Store) MarkSuccess(ctx context.Context, id string, result []byte) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE escalation_jobs
		SET status = $2, result = $3, last_error = NULL, updated_at = NOW(), finished_at = NOW()
		WHERE id = $1
	`, id, models.StatusSucceeded, nullableJSON(result))
	return err
}

// UpdateAttempts re-queues a job after a failure.
func (s *Store) UpdateAttempts(ctx context.Context, id string, attempts int, nextRun time.Time, lastErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE escalation_jobs
		SET status = $2, attempts = $3, next_run_at = $4, last_error = $5, updated_at = NOW()
		WHERE id = $1
	`, id, models.StatusQueued, attempts, nextRun, lastErr)
	return err
}

// MarkDeadLetter flags a job as dead_lettered; it is retained until the janitor purges it.
func (s *Store) MarkDeadLetter(ctx context.Context, id string, attempts int, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE escalation_jobs
		SET status = $2, attempts = $3, last_error = $4, updated_at = NOW(), finished_at = NOW()
		WHERE id = $1
	`, id, models.StatusDeadLetter, attempts, lastError)
	return err
}

// Requeue marks a job queued again after its lease expired.
func (s *Store) Requeue(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE escalation_jobs SET status = $2, worker_id = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, models.StatusQueued, models.StatusInProgress)
	return err
}

// ResetForRetry gives a dead-lettered job a fresh set of attempts.
func (s *Store) ResetForRetry(ctx context.Context, id string, runAt time.Time) (models.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE escalation_jobs
		SET status = $2, attempts = 0, next_run_at = $3, worker_id = NULL, finished_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $4
		RETURNING `+jobColumns,
		id, models.StatusQueued, runAt, models.StatusDeadLetter)
	return scanJob(row)
}

// PurgeSucceeded deletes succeeded jobs (and their audit rows) finished before cutoff.
func (s *Store) PurgeSucceeded(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	if _, err := tx.Exec(ctx, `
		DELETE FROM escalation_job_audit
		WHERE job_id IN (SELECT id FROM escalation_jobs WHERE status = $1 AND finished_at < $2)
	`, models.StatusSucceeded, cutoff); err != nil {
		return 0, fmt.Errorf("purge audit: %w", err)
	}
	tag, err := tx.Exec(ctx, `
		DELETE FROM escalation_jobs WHERE status = $1 AND finished_at < $2
	`, models.StatusSucceeded, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteJobs removes jobs and their audit rows.
func (s *Store) DeleteJobs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	if _, err := tx.Exec(ctx, `DELETE FROM escalation_job_audit WHERE job_id = ANY($1::uuid[])`, ids); err != nil {
		return 0, fmt.Errorf("delete audit: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM escalation_jobs WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete jobs: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return tag.RowsAffected(), nil
}

// AppendAudit adds an audit row.
func (s *Store) AppendAudit(ctx context.Context, jobID, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO escalation_job_audit (job_id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, jobID, event, detail)
	return err
}

// AuditTrail returns a job's audit rows oldest first.
func (s *Store) AuditTrail(ctx context.Context, jobID string) ([]models.AuditLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, event, detail, ts FROM escalation_job_audit WHERE job_id = $1 ORDER BY id ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []models.AuditLog
	for rows.Next() {
		var a models.AuditLog
		if err := rows.Scan(&a.JobID, &a.Event, &a.Detail, &a.Recorded); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountByStatus returns the number of ledger rows per status.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM escalation_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var lastErr, workerID pgtype.Text
	var finished pgtype.Timestamptz
	var payload, result []byte

	if err := row.Scan(&job.ID, &job.Type, &job.UniqueKey, &payload, &job.Status, &job.Attempts, &job.MaxAttempts,
		&job.NextRunAt, &lastErr, &result, &workerID, &job.CreatedAt, &job.UpdatedAt, &finished); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, ErrJobNotFound
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	job.Payload = payload
	job.Result = result
	job.LastError = textPtr(lastErr)
	job.WorkerID = textPtr(workerID)
	if finished.Valid {
		t := finished.Time
		job.FinishedAt = &t
	}
	return job, nil
}

func collectJobs(rows pgx.Rows) ([]models.Job, error) {
	defer rows.Close()
	var out []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
