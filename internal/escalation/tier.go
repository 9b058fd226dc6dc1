// Package escalation decides when an overdue follow-up escalates, who hears
// about it, and what they are told.
package escalation

import (
	"time"

	"followup-escalator/internal/models"
)

// Policy holds the overdue-hour thresholds for each tier. A higher threshold
// always wins; tiers are recomputed from scratch on every check.
type Policy struct {
	ManagerThresholdHours int
	AdminThresholdHours   int
}

// DefaultPolicy escalates to managers after two days and to admins after four.
func DefaultPolicy() Policy {
	return Policy{ManagerThresholdHours: 48, AdminThresholdHours: 96}
}

// Classify maps whole hours overdue onto a tier.
func (p Policy) Classify(hoursOverdue int) models.Tier {
	switch {
	case hoursOverdue >= p.AdminThresholdHours:
		return models.TierAdmin
	case hoursOverdue >= p.ManagerThresholdHours:
		return models.TierManager
	default:
		return models.TierEmployee
	}
}

// ClassifyTier applies the default thresholds.
func ClassifyTier(hoursOverdue int) models.Tier {
	return DefaultPolicy().Classify(hoursOverdue)
}

// HoursOverdue is the number of whole hours between scheduled and now, or 0 if
// the follow-up is not yet due.
func HoursOverdue(scheduled, now time.Time) int {
	if scheduled.After(now) {
		return 0
	}
	return int(now.Sub(scheduled) / time.Hour)
}
