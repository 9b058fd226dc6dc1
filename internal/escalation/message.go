package escalation

import (
	"fmt"

	"followup-escalator/internal/models"
)

// Message is the notification copy for one escalation.
type Message struct {
	Title    string
	Body     string
	Priority string
}

// ComposeMessage renders the notification for a tier. Every body names the
// task, the assignee and the hours overdue; admin copy is marked critical.
func ComposeMessage(tier models.Tier, taskTitle, assignee string, hoursOverdue int, entityName string) Message {
	switch tier {
	case models.TierAdmin:
		return Message{
			Title: fmt.Sprintf("CRITICAL: SLA breach on %q", taskTitle),
			Body: fmt.Sprintf("CRITICAL SLA BREACH: follow-up %q assigned to %s is %d hours overdue (%s). Immediate action required.",
				taskTitle, assignee, hoursOverdue, entityName),
			Priority: models.PriorityCritical,
		}
	case models.TierManager:
		return Message{
			Title: fmt.Sprintf("Escalated: %q is overdue", taskTitle),
			Body: fmt.Sprintf("Follow-up %q assigned to %s is %d hours overdue (%s) and has been escalated to management.",
				taskTitle, assignee, hoursOverdue, entityName),
			Priority: models.PriorityHigh,
		}
	default:
		return Message{
			Title: fmt.Sprintf("Overdue follow-up: %q", taskTitle),
			Body: fmt.Sprintf("Follow-up %q assigned to %s is %d hours overdue (%s).",
				taskTitle, assignee, hoursOverdue, entityName),
			Priority: models.PriorityNormal,
		}
	}
}
