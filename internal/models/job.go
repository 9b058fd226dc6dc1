package models

import (
	"encoding/json"
	"time"
)

// Job lifecycle states persisted in the Postgres ledger.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusSucceeded  = "succeeded"
	StatusDeadLetter = "dead_lettered"
)

// JobTypeEscalationCheck is the only job type the escalation pipeline submits.
const JobTypeEscalationCheck = "followup.escalation_check"

// Job is a queued unit of work as recorded in the ledger.
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	UniqueKey   string          `json:"unique_key"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	NextRunAt   time.Time       `json:"next_run_at"`
	LastError   *string         `json:"last_error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	WorkerID    *string         `json:"worker_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// Finished reports whether the job reached a terminal state.
func (j Job) Finished() bool {
	return j.Status == StatusSucceeded || j.Status == StatusDeadLetter
}

// AuditLog is a job lifecycle event row.
type AuditLog struct {
	JobID    string    `json:"job_id"`
	Event    string    `json:"event"`
	Detail   string    `json:"detail"`
	Recorded time.Time `json:"recorded_at"`
}
