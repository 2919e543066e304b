package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/middleware"
	"github.com/aman-churiwal/inventory-gateway/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type APIKeyHandler struct {
	service *service.APIKeyService
}

func NewAPIKeyHandler(service *service.APIKeyService) *APIKeyHandler {
	return &APIKeyHandler{service: service}
}

// Handles POST /admin/keys
func (h *APIKeyHandler) Create(c *gin.Context) {
	var req struct {
		Name      string     `json:"name" binding:"required"`
		Scopes    []string   `json:"scopes"`
		RateLimit int        `json:"rate_limit"`
		ExpiresAt *time.Time `json:"expires_at"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	key, plaintext, err := h.service.Create(ctx, service.CreateKeyInput{
		Name:      req.Name,
		CreatedBy: middleware.Actor(c),
		Scopes:    req.Scopes,
		RateLimit: req.RateLimit,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"key":     plaintext,
		"api_key": key,
		"message": "Save this key - it won't be shown again",
	})
}

// Handles GET /admin/keys
func (h *APIKeyHandler) List(c *gin.Context) {
	keys, err := h.service.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, keys)
}

// Handles GET /admin/keys/:id
func (h *APIKeyHandler) Get(c *gin.Context) {
	id, ok := keyID(c)
	if !ok {
		return
	}

	apiKey, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"api_key":      apiKey,
		"recent_usage": h.service.RecentUsage(apiKey.ID),
	})
}

// Handles PATCH /admin/keys/:id
func (h *APIKeyHandler) Update(c *gin.Context) {
	id, ok := keyID(c)
	if !ok {
		return
	}

	var req struct {
		Name        *string    `json:"name"`
		Scopes      []string   `json:"scopes"`
		RateLimit   *int       `json:"rate_limit"`
		ExpiresAt   *time.Time `json:"expires_at"`
		ClearExpiry bool       `json:"clear_expiry"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Name == nil && req.Scopes == nil && req.RateLimit == nil && req.ExpiresAt == nil && !req.ClearExpiry {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No fields to update"})
		return
	}

	apiKey, err := h.service.Update(c.Request.Context(), id, service.UpdateKeyInput{
		Name:        req.Name,
		Scopes:      req.Scopes,
		RateLimit:   req.RateLimit,
		ExpiresAt:   req.ExpiresAt,
		ClearExpiry: req.ClearExpiry,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, apiKey)
}

// Handles POST /admin/keys/:id/toggle
func (h *APIKeyHandler) Toggle(c *gin.Context) {
	id, ok := keyID(c)
	if !ok {
		return
	}

	apiKey, err := h.service.Toggle(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, apiKey)
}

// Handles POST /admin/keys/:id/rotate
func (h *APIKeyHandler) Rotate(c *gin.Context) {
	id, ok := keyID(c)
	if !ok {
		return
	}

	apiKey, plaintext, err := h.service.Rotate(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}

	log.Info().Str("api_key_id", id).Str("actor", middleware.Actor(c)).Msg("API key rotated")

	c.JSON(http.StatusOK, gin.H{
		"key":     plaintext,
		"api_key": apiKey,
		"message": "Save this key - it won't be shown again",
	})
}

// Handles DELETE /admin/keys/:id
func (h *APIKeyHandler) Delete(c *gin.Context) {
	id, ok := keyID(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "API key deleted successfully"})
}

func (h *APIKeyHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAPIKeyNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
	case errors.Is(err, service.ErrInvalidScope), errors.Is(err, service.ErrInvalidLimit):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		internalError(c, err, "API key operation failed")
	}
}

func keyID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid API key ID"})
		return "", false
	}
	return id, true
}

// Logs the cause and answers with a generic 500 so store details stay internal
func internalError(c *gin.Context, err error, msg string) {
	log.Error().Err(err).Str("path", c.FullPath()).Msg(msg)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
