package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type EventType string

const (
	EventFailedLogin        EventType = "failed_login"
	EventSuspiciousActivity EventType = "suspicious_activity"
	EventRateLimitExceeded  EventType = "rate_limit_exceeded"
	EventUnauthorizedAccess EventType = "unauthorized_access"
	EventDataBreachAttempt  EventType = "data_breach_attempt"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type SecurityEvent struct {
	ID          uuid.UUID         `gorm:"type:uuid;primary_key" json:"id"`
	Type        EventType         `gorm:"size:32;index;not null" json:"type"`
	Severity    Severity          `gorm:"size:16;index;not null" json:"severity"`
	Description string            `gorm:"type:text" json:"description"`
	IPAddress   string            `gorm:"index" json:"ip_address"`
	UserID      *uuid.UUID        `gorm:"type:uuid" json:"user_id,omitempty"`
	Email       string            `gorm:"index" json:"email,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Method      string            `json:"method,omitempty"`
	StatusCode  *int              `json:"status_code,omitempty"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	Resolved    bool              `gorm:"index;default:false" json:"resolved"`
	ResolvedBy  string            `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time        `gorm:"index" json:"resolved_at,omitempty"`
	CreatedAt   time.Time         `gorm:"index" json:"created_at"`
}

func (e *SecurityEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

func (SecurityEvent) TableName() string {
	return "security_events"
}

type EventFilter struct {
	Type     EventType
	Severity Severity
	Resolved *bool
	From     time.Time
	To       time.Time
	Limit    int
}
