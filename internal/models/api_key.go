package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Permission scope a key (or a user role) may hold
type Scope string

const (
	ScopeRead      Scope = "read"
	ScopeWrite     Scope = "write"
	ScopeAdmin     Scope = "admin"
	ScopeAnalytics Scope = "analytics"
)

// Closed set of scopes, in display order
var AllScopes = []Scope{ScopeRead, ScopeWrite, ScopeAdmin, ScopeAnalytics}

func (s Scope) Valid() bool {
	for _, scope := range AllScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Capacity of the per-key recent usage history
const RecentUsageCapacity = 100

// A single use of an API key, kept in the key's recent usage history
type UsageEntry struct {
	Endpoint  string    `json:"endpoint"`
	Method    string    `json:"method"`
	Timestamp time.Time `json:"timestamp"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
}

type APIKey struct {
	ID          uuid.UUID                       `gorm:"type:uuid;primary_key" json:"id"`
	KeyHash     string                          `gorm:"uniqueIndex;not null" json:"-"`
	Prefix      string                          `gorm:"size:16" json:"prefix"`
	Name        string                          `gorm:"not null" json:"name"`
	CreatedBy   string                          `json:"created_by"`
	Scopes      pq.StringArray                  `gorm:"type:text[];not null" json:"scopes"`
	IsActive    bool                            `gorm:"default:true" json:"is_active"`
	ExpiresAt   *time.Time                      `json:"expires_at,omitempty"`
	RateLimit   int                             `gorm:"not null;default:1000" json:"rate_limit"` // requests per hour
	UsageCount  int64                           `gorm:"not null;default:0" json:"usage_count"`
	RecentUsage datatypes.JSONSlice[UsageEntry] `gorm:"type:jsonb" json:"recent_usage"`
	CreatedAt   time.Time                       `json:"created_at"`
	UpdatedAt   time.Time                       `json:"updated_at"`
	LastUsedAt  *time.Time                      `json:"last_used_at,omitempty"`
}

func (a *APIKey) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (APIKey) TableName() string {
	return "api_keys"
}

// Reports whether the key is active and not expired at the given time
func (a *APIKey) IsValid(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

func (a *APIKey) IsExpired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

func (a *APIKey) ScopeSet() []Scope {
	scopes := make([]Scope, 0, len(a.Scopes))
	for _, s := range a.Scopes {
		scopes = append(scopes, Scope(s))
	}
	return scopes
}

// Reports whether granted shares at least one scope with required.
// An empty required set is always satisfied.
func HasAnyScope(granted []Scope, required ...Scope) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		for _, g := range granted {
			if g == r {
				return true
			}
		}
	}
	return false
}
