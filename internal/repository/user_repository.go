package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"followup-escalator/internal/models"
)

// UserRepository resolves the org hierarchy.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", id, err)
	}
	return &u, nil
}

// ManagerOf returns the manager id of userID, or nil when the user has none.
// This is a single hop; cycles in the hierarchy are never walked.
func (r *UserRepository) ManagerOf(ctx context.Context, userID string) (*string, error) {
	u, err := r.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.ManagerID == nil || *u.ManagerID == "" {
		return nil, nil
	}
	return u.ManagerID, nil
}

// AdminIDs returns the ids of all admin users in a stable order.
func (r *UserRepository) AdminIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("role = ?", models.RoleAdmin).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return ids, nil
}
