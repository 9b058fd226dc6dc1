package worker

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"followup-escalator/internal/clock"
	"followup-escalator/internal/models"
	"followup-escalator/internal/store"
)

// memLedger is an in-memory stand-in for the Postgres ledger.
type memLedger struct {
	mu     sync.Mutex
	clock  clock.Clock
	jobs   map[string]*models.Job
	byKey  map[string]string
	audit  map[string][]string
	getErr error
}

func newMemLedger(clk clock.Clock) *memLedger {
	return &memLedger{
		clock: clk,
		jobs:  make(map[string]*models.Job),
		byKey: make(map[string]string),
		audit: make(map[string][]string),
	}
}

func (l *memLedger) CreateJob(_ context.Context, p store.CreateJobParams) (models.Job, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id, ok := l.byKey[p.UniqueKey]; ok {
		return *l.jobs[id], true, nil
	}
	now := l.clock.Now()
	job := &models.Job{
		ID:          uuid.NewString(),
		Type:        p.Type,
		UniqueKey:   p.UniqueKey,
		Payload:     json.RawMessage(p.Payload),
		Status:      models.StatusQueued,
		MaxAttempts: p.MaxAttempts,
		NextRunAt:   p.RunAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	l.jobs[job.ID] = job
	l.byKey[p.UniqueKey] = job.ID
	return *job, false, nil
}

func (l *memLedger) GetJob(_ context.Context, id string) (models.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.getErr != nil {
		return models.Job{}, l.getErr
	}
	job, ok := l.jobs[id]
	if !ok {
		return models.Job{}, store.ErrJobNotFound
	}
	return *job, nil
}

func (l *memLedger) update(id string, fn func(j *models.Job)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	fn(job)
	job.UpdatedAt = l.clock.Now()
	return nil
}

func (l *memLedger) MarkInProgress(_ context.Context, id, workerID string) error {
	return l.update(id, func(j *models.Job) {
		j.Status = models.StatusInProgress
		if workerID != "" {
			j.WorkerID = &workerID
		}
	})
}

func (l *memLedger) MarkSuccess(_ context.Context, id string, result []byte) error {
	return l.update(id, func(j *models.Job) {
		now := l.clock.Now()
		j.Status = models.StatusSucceeded
		j.Result = result
		j.LastError = nil
		j.FinishedAt = &now
	})
}

func (l *memLedger) UpdateAttempts(_ context.Context, id string, attempts int, nextRun time.Time, lastErr string) error {
	return l.update(id, func(j *models.Job) {
		j.Status = models.StatusQueued
		j.Attempts = attempts
		j.NextRunAt = nextRun
		j.LastError = &lastErr
	})
}

func (l *memLedger) MarkDeadLetter(_ context.Context, id string, attempts int, lastErr string) error {
	return l.update(id, func(j *models.Job) {
		now := l.clock.Now()
		j.Status = models.StatusDeadLetter
		j.Attempts = attempts
		j.LastError = &lastErr
		j.FinishedAt = &now
	})
}

func (l *memLedger) Requeue(_ context.Context, id string) error {
	return l.update(id, func(j *models.Job) {
		if j.Status == models.StatusInProgress {
			j.Status = models.StatusQueued
			j.WorkerID = nil
		}
	})
}

func (l *memLedger) ResetForRetry(_ context.Context, id string, runAt time.Time) (models.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.jobs[id]
	if !ok || job.Status != models.StatusDeadLetter {
		return models.Job{}, store.ErrJobNotFound
	}
	job.Status = models.StatusQueued
	job.Attempts = 0
	job.NextRunAt = runAt
	job.FinishedAt = nil
	job.WorkerID = nil
	return *job, nil
}

func (l *memLedger) AppendAudit(_ context.Context, jobID, event, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.audit[jobID] = append(l.audit[jobID], event)
	return nil
}

func (l *memLedger) PurgeSucceeded(_ context.Context, cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for id, j := range l.jobs {
		if j.Status == models.StatusSucceeded && j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			delete(l.jobs, id)
			delete(l.byKey, j.UniqueKey)
			n++
		}
	}
	return n, nil
}

func (l *memLedger) ListDeadLettersBefore(_ context.Context, cutoff time.Time, limit int) ([]models.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Job
	for _, j := range l.jobs {
		if j.Status == models.StatusDeadLetter && j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].FinishedAt.Before(*out[b].FinishedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *memLedger) DeleteJobs(_ context.Context, ids []string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for _, id := range ids {
		if j, ok := l.jobs[id]; ok {
			delete(l.byKey, j.UniqueKey)
			delete(l.jobs, id)
			n++
		}
	}
	return n, nil
}

func (l *memLedger) job(id string) models.Job {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.jobs[id]
}

func (l *memLedger) events(id string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.audit[id]...)
}

func (l *memLedger) countStatus(status string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, j := range l.jobs {
		if j.Status == status {
			n++
		}
	}
	return n
}
