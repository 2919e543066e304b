package models

import (
	"time"

	"github.com/google/uuid"
)

// Classification attached to every request outcome
type ErrorCode string

const (
	CodeMissingAPIKey           ErrorCode = "MISSING_API_KEY"
	CodeInvalidAPIKey           ErrorCode = "INVALID_API_KEY"
	CodeInactiveAPIKey          ErrorCode = "INACTIVE_API_KEY"
	CodeExpiredAPIKey           ErrorCode = "EXPIRED_API_KEY"
	CodeInvalidToken            ErrorCode = "INVALID_TOKEN"
	CodeInsufficientPermissions ErrorCode = "INSUFFICIENT_PERMISSIONS"
	CodeRateLimited             ErrorCode = "RATE_LIMITED"
	CodeIPBlocked               ErrorCode = "IP_BLOCKED"
	CodeSystemError             ErrorCode = "SYSTEM_ERROR"
	CodeClientError             ErrorCode = "CLIENT_ERROR"
	CodeServerError             ErrorCode = "SERVER_ERROR"
	CodeSuccess                 ErrorCode = "SUCCESS"
)

// Represents a logged API request
type RequestLog struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Timestamp      time.Time  `gorm:"index" json:"timestamp"`
	RequestID      string     `gorm:"size:64" json:"request_id"`
	APIKeyID       *uuid.UUID `gorm:"type:uuid;index" json:"api_key_id,omitempty"`
	UserID         *string    `gorm:"index" json:"user_id,omitempty"`
	Method         string     `json:"method"`
	Path           string     `gorm:"index" json:"path"`
	StatusCode     int        `gorm:"index" json:"status_code"`
	ErrorCode      ErrorCode  `gorm:"size:32;index" json:"error_code"`
	ResponseTimeMs int        `json:"response_time_ms"`
	RequestSize    int64      `json:"request_size"`
	ResponseSize   int64      `json:"response_size"`
	IPAddress      string     `gorm:"index" json:"ip_address"`
	UserAgent      string     `json:"user_agent"`
	BackendServer  string     `json:"backend_server,omitempty"`
}

func (RequestLog) TableName() string {
	return "request_logs"
}
