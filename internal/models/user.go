package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role is a user's position in the org hierarchy.
type Role string

const (
	RoleRecruiter Role = "RECRUITER"
	RoleManager   Role = "MANAGER"
	RoleAdmin     Role = "ADMIN"
)

// User is an ATS account. ManagerID is a plain self-reference; the hierarchy is
// not guaranteed to be acyclic.
type User struct {
	ID        string  `gorm:"primaryKey" json:"id"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Email     string  `gorm:"uniqueIndex" json:"email"`
	Role      Role    `gorm:"index;not null;default:'RECRUITER'" json:"role"`
	ManagerID *string `gorm:"index" json:"managerId,omitempty"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u *User) BeforeCreate(_ *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Email == "" {
		u.Email = u.ID + "@users.invalid"
	}
	return nil
}

// DisplayName is "First Last", falling back to the user id.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.ID
	}
	return name
}
