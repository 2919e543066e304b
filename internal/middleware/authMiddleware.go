package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/aman-churiwal/inventory-gateway/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	APIKeyHeader     = "X-API-Key"
	APIKeyQueryParam = "api_key"
)

type KeyValidator interface {
	Validate(ctx context.Context, plaintext string) (*models.APIKey, error)
	RecordUsage(key *models.APIKey, entry models.UsageEntry) bool
}

type TokenValidator interface {
	ValidateToken(tokenString string) (*service.Claims, error)
}

// Authenticates the caller by API key (header, then query parameter) or
// bearer token, then requires at least one of the given scopes
func Authenticate(keys KeyValidator, tokens TokenValidator, required ...models.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		var scopes []models.Scope
		var ok bool

		if key := presentedKey(c); key != "" {
			scopes, ok = authenticateKey(c, keys, key)
		} else if header := c.GetHeader("Authorization"); header != "" {
			scopes, ok = authenticateToken(c, tokens, header)
		} else {
			abortWithError(c, http.StatusUnauthorized, models.CodeMissingAPIKey, "API key or bearer token required")
			return
		}
		if !ok {
			return
		}

		if !models.HasAnyScope(scopes, required...) {
			abortWithError(c, http.StatusForbidden, models.CodeInsufficientPermissions, "Insufficient permissions")
			return
		}

		c.Next()
	}
}

func presentedKey(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader(APIKeyHeader)); key != "" {
		return key
	}
	return strings.TrimSpace(c.Query(APIKeyQueryParam))
}

func authenticateKey(c *gin.Context, keys KeyValidator, presented string) ([]models.Scope, bool) {
	apiKey, err := keys.Validate(c.Request.Context(), presented)
	switch {
	case errors.Is(err, service.ErrAPIKeyNotFound):
		abortWithError(c, http.StatusUnauthorized, models.CodeInvalidAPIKey, "Invalid API key")
		return nil, false
	case errors.Is(err, service.ErrAPIKeyInactive):
		abortWithError(c, http.StatusUnauthorized, models.CodeInactiveAPIKey, "API key is inactive")
		return nil, false
	case errors.Is(err, service.ErrAPIKeyExpired):
		abortWithError(c, http.StatusUnauthorized, models.CodeExpiredAPIKey, "API key has expired")
		return nil, false
	case err != nil:
		log.Error().Err(err).Str("request_id", c.GetString(ContextRequestID)).Msg("API key validation failed")
		abortWithError(c, http.StatusInternalServerError, models.CodeSystemError, "Authentication temporarily unavailable")
		return nil, false
	}

	scopes := apiKey.ScopeSet()
	c.Set(ContextAPIKey, apiKey)
	c.Set(ContextAPIKeyID, apiKey.ID)
	c.Set(ContextScopes, scopes)

	keys.RecordUsage(apiKey, models.UsageEntry{
		Endpoint:  c.Request.URL.Path,
		Method:    c.Request.Method,
		Timestamp: time.Now(),
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})

	return scopes, true
}

func authenticateToken(c *gin.Context, tokens TokenValidator, header string) ([]models.Scope, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		abortWithError(c, http.StatusUnauthorized, models.CodeInvalidToken, "Invalid authorization header format. Use: Bearer <token>")
		return nil, false
	}

	claims, err := tokens.ValidateToken(strings.TrimSpace(parts[1]))
	if err != nil {
		abortWithError(c, http.StatusUnauthorized, models.CodeInvalidToken, "Invalid or expired token")
		return nil, false
	}

	scopes := models.RoleScopes(claims.Role)
	c.Set(ContextUserID, claims.UserID)
	c.Set(ContextEmail, claims.Email)
	c.Set(ContextRole, claims.Role)
	c.Set(ContextScopes, scopes)

	return scopes, true
}

// Requires at least one of the given scopes from an already authenticated caller
func RequireScopes(required ...models.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !models.HasAnyScope(ScopesFrom(c), required...) {
			abortWithError(c, http.StatusForbidden, models.CodeInsufficientPermissions, "Insufficient permissions")
			return
		}
		c.Next()
	}
}

// Requires read for safe methods and write otherwise. Paths reported
// sensitive always need write.
func RequireMethodScopes(sensitive func(path string) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		required := models.ScopeWrite
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			required = models.ScopeRead
		}
		if sensitive != nil && sensitive(c.Request.URL.Path) {
			required = models.ScopeWrite
		}

		if !models.HasAnyScope(ScopesFrom(c), required) {
			abortWithError(c, http.StatusForbidden, models.CodeInsufficientPermissions, "Insufficient permissions")
			return
		}
		c.Next()
	}
}
