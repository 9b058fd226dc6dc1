package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Notification types and channels understood by the in-app inbox.
const (
	NotificationOverdueTask = "OVERDUE_TASK"
	ChannelInApp            = "IN_APP"
)

// Notification priorities.
const (
	PriorityNormal   = "NORMAL"
	PriorityHigh     = "HIGH"
	PriorityCritical = "CRITICAL"
)

// Notification is an in-app inbox entry for one user.
type Notification struct {
	ID        string `gorm:"primaryKey" json:"id"`
	UserID    string `gorm:"not null;index" json:"userId"`
	Type      string `gorm:"not null" json:"type"`
	Channel   string `gorm:"not null" json:"channel"`
	Priority  string `gorm:"not null;default:'NORMAL'" json:"priority"`
	Title     string `gorm:"not null" json:"title"`
	Message   string `gorm:"not null" json:"message"`
	Read      bool   `gorm:"not null;default:false" json:"read"`
	CreatedAt time.Time
}

func (n *Notification) BeforeCreate(_ *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}

// Activity actions and entity types.
const (
	ActionFollowUpEscalated = "FOLLOW_UP_ESCALATED"

	EntityLead     = "LEAD"
	EntityClient   = "CLIENT"
	EntityFollowUp = "FOLLOW_UP"
)

// ActivityLog is an append-only audit entry. UserID is nil for system actions.
type ActivityLog struct {
	ID          string         `gorm:"primaryKey" json:"id"`
	UserID      *string        `gorm:"index" json:"userId,omitempty"`
	Action      string         `gorm:"not null;index" json:"action"`
	EntityType  string         `gorm:"not null;index:idx_activity_entity,priority:1" json:"entityType"`
	EntityID    string         `gorm:"not null;index:idx_activity_entity,priority:2" json:"entityId"`
	Description string         `json:"description"`
	Metadata    datatypes.JSON `json:"metadata"`
	CreatedAt   time.Time      `gorm:"index"`
}

func (a *ActivityLog) BeforeCreate(_ *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// EscalationEvent is the metadata stored on a FOLLOW_UP_ESCALATED activity entry.
type EscalationEvent struct {
	FollowUpID    string `json:"followUpId"`
	AssignedToID  string `json:"assignedToId"`
	EntityName    string `json:"entityName"`
	Tier          Tier   `json:"tier"`
	HoursOverdue  int    `json:"hoursOverdue"`
	NotifiedCount int    `json:"notifiedCount"`
	FailedCount   int    `json:"failedCount,omitempty"`
}
