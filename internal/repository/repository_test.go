package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"followup-escalator/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := NewDB("sqlite::memory:")
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func ptr(s string) *string { return &s }

func TestFollowUpRepository_FindOverdueIncomplete(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	users := NewUserRepository(db)
	followUps := NewFollowUpRepository(db)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	u := &models.User{FirstName: "Rita", LastName: "Recruiter"}
	require.NoError(t, users.Create(ctx, u))

	overdue := &models.FollowUp{Title: "call back", ScheduledDate: now.Add(-3 * time.Hour), AssignedToID: u.ID}
	ancient := &models.FollowUp{Title: "ancient", ScheduledDate: now.Add(-90 * 24 * time.Hour), AssignedToID: u.ID}
	dueNow := &models.FollowUp{Title: "due now", ScheduledDate: now, AssignedToID: u.ID}
	future := &models.FollowUp{Title: "later", ScheduledDate: now.Add(time.Hour), AssignedToID: u.ID}
	done := &models.FollowUp{Title: "done", ScheduledDate: now.Add(-5 * time.Hour), AssignedToID: u.ID}
	done.MarkCompleted(now.Add(-4 * time.Hour))
	for _, f := range []*models.FollowUp{overdue, ancient, dueNow, future, done} {
		require.NoError(t, followUps.Create(ctx, f))
	}

	got, err := followUps.FindOverdueIncomplete(ctx, now)
	require.NoError(t, err)

	var titles []string
	for _, f := range got {
		titles = append(titles, f.Title)
	}
	assert.Equal(t, []string{"ancient", "call back", "due now"}, titles)
}

func TestFollowUpRepository_FindByIDPreloadsContext(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	users := NewUserRepository(db)
	followUps := NewFollowUpRepository(db)

	u := &models.User{FirstName: "Rita", LastName: "Recruiter"}
	require.NoError(t, users.Create(ctx, u))
	lead := &models.Lead{FirstName: "Jane", LastName: "Doe"}
	require.NoError(t, db.Create(lead).Error)

	f := &models.FollowUp{Title: "intro", ScheduledDate: time.Now().Add(-time.Hour), AssignedToID: u.ID, LeadID: &lead.ID}
	require.NoError(t, followUps.Create(ctx, f))

	got, err := followUps.FindByID(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rita Recruiter", got.AssignedTo.DisplayName())
	require.NotNil(t, got.Lead)
	entityType, entityID, name := got.EntityContext()
	assert.Equal(t, models.EntityLead, entityType)
	assert.Equal(t, lead.ID, entityID)
	assert.Equal(t, "Jane Doe", name)

	_, err = followUps.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFollowUpRepository_SetCompleted(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	users := NewUserRepository(db)
	followUps := NewFollowUpRepository(db)

	u := &models.User{FirstName: "Rita"}
	require.NoError(t, users.Create(ctx, u))
	f := &models.FollowUp{Title: "x", ScheduledDate: time.Now().Add(-time.Hour), AssignedToID: u.ID}
	require.NoError(t, followUps.Create(ctx, f))

	at := time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)
	require.NoError(t, followUps.SetCompleted(ctx, f.ID, true, at))
	got, err := followUps.FindByID(ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(at))

	require.NoError(t, followUps.SetCompleted(ctx, f.ID, false, time.Time{}))
	got, err = followUps.FindByID(ctx, f.ID)
	require.NoError(t, err)
	assert.False(t, got.Completed)
	assert.Nil(t, got.CompletedAt)

	assert.ErrorIs(t, followUps.SetCompleted(ctx, "missing", true, at), ErrNotFound)
}

func TestUserRepository_Hierarchy(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	users := NewUserRepository(db)

	admin2 := &models.User{ID: "admin-2", Role: models.RoleAdmin}
	admin1 := &models.User{ID: "admin-1", Role: models.RoleAdmin}
	manager := &models.User{ID: "m1", Role: models.RoleManager}
	recruiter := &models.User{ID: "u1", Role: models.RoleRecruiter, ManagerID: ptr("m1")}
	orphan := &models.User{ID: "u2", Role: models.RoleRecruiter}
	for _, u := range []*models.User{admin2, admin1, manager, recruiter, orphan} {
		require.NoError(t, users.Create(ctx, u))
	}

	mgr, err := users.ManagerOf(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, mgr)
	assert.Equal(t, "m1", *mgr)

	mgr, err = users.ManagerOf(ctx, "u2")
	require.NoError(t, err)
	assert.Nil(t, mgr)

	_, err = users.ManagerOf(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	admins, err := users.AdminIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin-1", "admin-2"}, admins)
}

func TestActivityAndNotificationRepositories(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	notifications := NewNotificationRepository(db)
	activity := NewActivityRepository(db)

	require.NoError(t, notifications.Create(ctx, &models.Notification{
		UserID:  "u1",
		Type:    models.NotificationOverdueTask,
		Channel: models.ChannelInApp,
		Title:   "Overdue",
		Message: "call back is 3 hours overdue",
	}))
	list, err := notifications.ListForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.PriorityNormal, list[0].Priority)
	assert.False(t, list[0].Read)

	meta, err := json.Marshal(models.EscalationEvent{FollowUpID: "f1", Tier: models.TierManager, HoursOverdue: 50, NotifiedCount: 2})
	require.NoError(t, err)
	require.NoError(t, activity.Record(ctx, &models.ActivityLog{
		Action:     models.ActionFollowUpEscalated,
		EntityType: models.EntityLead,
		EntityID:   "lead-1",
		Metadata:   datatypes.JSON(meta),
	}))

	entries, err := activity.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	var event models.EscalationEvent
	require.NoError(t, json.Unmarshal(entries[0].Metadata, &event))
	assert.Equal(t, models.TierManager, event.Tier)
	assert.Equal(t, 50, event.HoursOverdue)
	assert.Nil(t, entries[0].UserID)
}
