// Package notify delivers escalation notifications: the in-app inbox, and an
// optional Telegram chat for critical escalations.
package notify

import (
	"context"
	"fmt"

	"followup-escalator/internal/models"
)

// NotificationStore persists inbox rows.
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
}

// InApp writes notifications to the user's inbox.
type InApp struct {
	store NotificationStore
}

func NewInApp(store NotificationStore) *InApp {
	return &InApp{store: store}
}

func (n *InApp) Notify(ctx context.Context, msg models.Notification) error {
	if msg.UserID == "" {
		return fmt.Errorf("notification has no recipient")
	}
	if msg.Channel == "" {
		msg.Channel = models.ChannelInApp
	}
	if msg.Priority == "" {
		msg.Priority = models.PriorityNormal
	}
	if err := n.store.Create(ctx, &msg); err != nil {
		return fmt.Errorf("notify %s: %w", msg.UserID, err)
	}
	return nil
}
