package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"followup-escalator/internal/models"
)

// FollowUpRepository reads follow-up tasks for the escalation pipeline.
type FollowUpRepository struct {
	db *gorm.DB
}

func NewFollowUpRepository(db *gorm.DB) *FollowUpRepository {
	return &FollowUpRepository{db: db}
}

func (r *FollowUpRepository) Create(ctx context.Context, f *models.FollowUp) error {
	if err := r.db.WithContext(ctx).Omit("AssignedTo", "Lead", "Client").Create(f).Error; err != nil {
		return fmt.Errorf("create follow-up: %w", err)
	}
	return nil
}

// FindOverdueIncomplete returns every incomplete follow-up due at or before now,
// oldest first. There is no lower bound on how stale a follow-up may be.
func (r *FollowUpRepository) FindOverdueIncomplete(ctx context.Context, now time.Time) ([]models.FollowUp, error) {
	var out []models.FollowUp
	err := r.db.WithContext(ctx).
		Where("completed = ? AND scheduled_date <= ?", false, now.UTC()).
		Order("scheduled_date ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("find overdue follow-ups: %w", err)
	}
	return out, nil
}

// FindByID loads a follow-up with its assignee and linked lead or client.
func (r *FollowUpRepository) FindByID(ctx context.Context, id string) (*models.FollowUp, error) {
	var f models.FollowUp
	err := r.db.WithContext(ctx).
		Preload("AssignedTo").
		Preload("Lead").
		Preload("Client").
		Where("id = ?", id).
		First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find follow-up %s: %w", id, err)
	}
	return &f, nil
}

// SetCompleted toggles completion, keeping completed_at in step with completed.
func (r *FollowUpRepository) SetCompleted(ctx context.Context, id string, completed bool, at time.Time) error {
	updates := map[string]any{"completed": completed, "completed_at": nil}
	if completed {
		updates["completed_at"] = at.UTC()
	}
	res := r.db.WithContext(ctx).Model(&models.FollowUp{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("set follow-up completed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *FollowUpRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.FollowUp{}).Error; err != nil {
		return fmt.Errorf("delete follow-up: %w", err)
	}
	return nil
}
