package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Lead is a prospective candidate or contact a recruiter is working.
type Lead struct {
	ID        string `gorm:"primaryKey" json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Company   string `json:"company"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (l *Lead) BeforeCreate(_ *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

func (l Lead) DisplayName() string {
	return strings.TrimSpace(l.FirstName + " " + l.LastName)
}

// Client is a hiring company.
type Client struct {
	ID          string `gorm:"primaryKey" json:"id"`
	CompanyName string `gorm:"not null" json:"companyName"`
	ContactName string `json:"contactName"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (c *Client) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

func (c Client) DisplayName() string {
	return strings.TrimSpace(c.CompanyName)
}

// FollowUp is a scheduled reminder assigned to exactly one user and optionally
// linked to a lead or a client.
type FollowUp struct {
	ID            string     `gorm:"primaryKey" json:"id"`
	Title         string     `gorm:"not null" json:"title"`
	Description   *string    `json:"description,omitempty"`
	ScheduledDate time.Time  `gorm:"not null;index:idx_follow_ups_due,priority:2" json:"scheduledDate"`
	Completed     bool       `gorm:"not null;default:false;index:idx_follow_ups_due,priority:1" json:"completed"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	Notes         *string    `json:"notes,omitempty"`

	AssignedToID string  `gorm:"not null;index" json:"assignedToId"`
	AssignedTo   User    `gorm:"foreignKey:AssignedToID" json:"assignedTo"`
	LeadID       *string `gorm:"index" json:"leadId,omitempty"`
	Lead         *Lead   `json:"lead,omitempty"`
	ClientID     *string `gorm:"index" json:"clientId,omitempty"`
	Client       *Client `json:"client,omitempty"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (FollowUp) TableName() string { return "follow_ups" }

func (f *FollowUp) BeforeCreate(_ *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

// BeforeSave stores timestamps in UTC so due-date comparisons are consistent
// across drivers.
func (f *FollowUp) BeforeSave(_ *gorm.DB) error {
	f.ScheduledDate = f.ScheduledDate.UTC()
	if f.CompletedAt != nil {
		at := f.CompletedAt.UTC()
		f.CompletedAt = &at
	}
	return nil
}

// MarkCompleted sets completed together with completedAt.
func (f *FollowUp) MarkCompleted(at time.Time) {
	f.Completed = true
	f.CompletedAt = &at
}

// Reopen clears completed together with completedAt.
func (f *FollowUp) Reopen() {
	f.Completed = false
	f.CompletedAt = nil
}

// OverdueAt reports whether the follow-up is incomplete and due at or before now.
func (f FollowUp) OverdueAt(now time.Time) bool {
	return !f.Completed && !f.ScheduledDate.After(now)
}

// EntityContext names the lead or client the follow-up is about.
func (f FollowUp) EntityContext() (entityType, entityID, name string) {
	switch {
	case f.LeadID != nil:
		name = "Unknown"
		if f.Lead != nil && f.Lead.DisplayName() != "" {
			name = f.Lead.DisplayName()
		}
		return EntityLead, *f.LeadID, name
	case f.ClientID != nil:
		name = "Unknown"
		if f.Client != nil && f.Client.DisplayName() != "" {
			name = f.Client.DisplayName()
		}
		return EntityClient, *f.ClientID, name
	default:
		return EntityFollowUp, f.ID, "Unknown"
	}
}
