package models

import (
	"fmt"
	"time"
)

// Tier is the severity of an overdue follow-up, recomputed on every check.
type Tier string

const (
	TierEmployee Tier = "employee"
	TierManager  Tier = "manager"
	TierAdmin    Tier = "admin"
)

// EscalationJob is the queue payload for one escalation check. Everything except
// FollowUpID is a snapshot taken at enqueue time and may be stale when processed.
type EscalationJob struct {
	FollowUpID    string    `json:"followUpId"`
	ScheduledDate time.Time `json:"scheduledDate"`
	AssignedToID  string    `json:"assignedToId"`
	LeadID        *string   `json:"leadId,omitempty"`
	ClientID      *string   `json:"clientId,omitempty"`
	Title         string    `json:"title"`
	EnqueuedAt    time.Time `json:"enqueuedAt"`
}

// NewEscalationJob snapshots a follow-up for an escalation check enqueued at now.
func NewEscalationJob(f FollowUp, now time.Time) EscalationJob {
	return EscalationJob{
		FollowUpID:    f.ID,
		ScheduledDate: f.ScheduledDate,
		AssignedToID:  f.AssignedToID,
		LeadID:        f.LeadID,
		ClientID:      f.ClientID,
		Title:         f.Title,
		EnqueuedAt:    now,
	}
}

// UniqueKey identifies this check. Including the enqueue time keeps repeated
// scans of a still-overdue follow-up from colliding with earlier pending checks.
func (j EscalationJob) UniqueKey() string {
	return fmt.Sprintf("followup:%s:%d", j.FollowUpID, j.EnqueuedAt.UnixMilli())
}

// Skip reasons reported by the escalation worker.
const (
	SkipNotFound  = "not_found"
	SkipCompleted = "completed"
	SkipNotYetDue = "not_yet_due"
)

// EscalationResult is what a processed escalation check reports back to the ledger.
type EscalationResult struct {
	FollowUpID       string   `json:"followUpId"`
	Skipped          bool     `json:"skipped"`
	SkipReason       string   `json:"skipReason,omitempty"`
	HoursOverdue     int      `json:"hoursOverdue"`
	Tier             Tier     `json:"tier,omitempty"`
	Notified         int      `json:"notified"`
	FailedRecipients []string `json:"failedRecipients,omitempty"`
}
