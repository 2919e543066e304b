package middleware

import (
	"github.com/aman-churiwal/inventory-gateway/internal/metrics"
	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Keys set on the gin context by the admission pipeline
const (
	ContextRequestID = "request_id"
	ContextAPIKey    = "api_key"
	ContextAPIKeyID  = "api_key_id"
	ContextScopes    = "scopes"
	ContextUserID    = "user_id"
	ContextEmail     = "email"
	ContextRole      = "role"
	ContextErrorCode = "error_code"
)

// Rejects the request with a classified JSON error. The classification is
// kept on the context for the audit log.
func abortWithError(c *gin.Context, status int, code models.ErrorCode, message string) {
	c.Set(ContextErrorCode, code)
	metrics.RecordRejection(string(code))
	c.AbortWithStatusJSON(status, gin.H{
		"error": message,
		"code":  code,
	})
}

func errorCode(c *gin.Context) (models.ErrorCode, bool) {
	v, ok := c.Get(ContextErrorCode)
	if !ok {
		return "", false
	}
	code, ok := v.(models.ErrorCode)
	return code, ok
}

// Returns the API key attached by Authenticate, if any
func APIKeyFrom(c *gin.Context) (*models.APIKey, bool) {
	v, ok := c.Get(ContextAPIKey)
	if !ok {
		return nil, false
	}
	key, ok := v.(*models.APIKey)
	return key, ok && key != nil
}

func apiKeyID(c *gin.Context) *uuid.UUID {
	if v, ok := c.Get(ContextAPIKeyID); ok {
		if id, ok := v.(uuid.UUID); ok {
			return &id
		}
	}
	return nil
}

func userID(c *gin.Context) *string {
	if id := c.GetString(ContextUserID); id != "" {
		return &id
	}
	return nil
}

// Returns the scopes granted to the caller
func ScopesFrom(c *gin.Context) []models.Scope {
	if v, ok := c.Get(ContextScopes); ok {
		if scopes, ok := v.([]models.Scope); ok {
			return scopes
		}
	}
	return nil
}

// Identifies who performed an operator action
func Actor(c *gin.Context) string {
	if email := c.GetString(ContextEmail); email != "" {
		return email
	}
	if key, ok := APIKeyFrom(c); ok {
		return "api_key:" + key.ID.String()
	}
	return "unknown"
}
