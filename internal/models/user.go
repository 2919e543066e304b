package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleStaff   = "staff"
	RoleViewer  = "viewer"
)

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
	UserStatusLocked   = "locked"
)

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Name         string    `json:"name"`
	Role         string    `gorm:"default:'staff'" json:"role"`
	Status       string    `gorm:"default:'active'" json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}

	return nil
}

func (User) TableName() string {
	return "users"
}

// Maps a user role to the scopes a bearer token for that role carries
func RoleScopes(role string) []Scope {
	switch role {
	case RoleAdmin:
		return []Scope{ScopeRead, ScopeWrite, ScopeAdmin, ScopeAnalytics}
	case RoleManager:
		return []Scope{ScopeRead, ScopeWrite, ScopeAnalytics}
	case RoleStaff:
		return []Scope{ScopeRead, ScopeWrite}
	case RoleViewer:
		return []Scope{ScopeRead}
	default:
		return nil
	}
}

func ValidRole(role string) bool {
	return RoleScopes(role) != nil
}
