package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type FailureReason string

const (
	FailureInvalidEmail    FailureReason = "invalid_email"
	FailureInvalidPassword FailureReason = "invalid_password"
	FailureAccountLocked   FailureReason = "account_locked"
	FailureAccountDisabled FailureReason = "account_disabled"
)

// One call to the login endpoint, successful or not
type LoginAttempt struct {
	ID            uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	Email         string         `gorm:"index;not null" json:"email"`
	IPAddress     string         `gorm:"index:idx_login_attempts_ip_blocked,priority:1;not null" json:"ip_address"`
	UserAgent     string         `json:"user_agent"`
	Success       bool           `gorm:"index" json:"success"`
	FailureReason *FailureReason `gorm:"size:32" json:"failure_reason,omitempty"`
	UserID        *uuid.UUID     `gorm:"type:uuid" json:"user_id,omitempty"`
	Blocked       bool           `gorm:"index:idx_login_attempts_ip_blocked,priority:2;default:false" json:"blocked"`
	CreatedAt     time.Time      `gorm:"index" json:"created_at"`
}

func (a *LoginAttempt) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (LoginAttempt) TableName() string {
	return "login_attempts"
}

// Failed, not yet blocked attempts from one origin
type OriginFailures struct {
	IPAddress string `json:"ip_address"`
	Failures  int64  `json:"failures"`
}

type AttemptFilter struct {
	IPAddress string
	Email     string
	Success   *bool
	From      time.Time
	To        time.Time
	Limit     int
}
