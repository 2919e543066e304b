package handler

import (
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/aman-churiwal/inventory-gateway/internal/middleware"
	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/aman-churiwal/inventory-gateway/internal/security"
	"github.com/gin-gonic/gin"
)

type SecurityHandler struct {
	service *security.Service
}

func NewSecurityHandler(service *security.Service) *SecurityHandler {
	return &SecurityHandler{service: service}
}

// Handles GET /admin/security/events
func (h *SecurityHandler) Events(c *gin.Context) {
	from, to, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	filter := models.EventFilter{
		Type:     models.EventType(c.Query("type")),
		Severity: models.Severity(c.Query("severity")),
		From:     from,
		To:       to,
		Limit:    queryInt(c, "limit", 0),
	}
	if resolved := c.Query("resolved"); resolved != "" {
		b, err := strconv.ParseBool(resolved)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "resolved must be true or false"})
			return
		}
		filter.Resolved = &b
	}

	events, err := h.service.Events(c.Request.Context(), filter)
	if err != nil {
		internalError(c, err, "Failed to list security events")
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

// Handles POST /admin/security/events/:id/resolve
func (h *SecurityHandler) Resolve(c *gin.Context) {
	err := h.service.Resolve(c.Request.Context(), c.Param("id"), middleware.Actor(c))
	if errors.Is(err, security.ErrEventNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		internalError(c, err, "Failed to resolve security event")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Security event resolved"})
}

// Handles GET /admin/security/attempts
func (h *SecurityHandler) Attempts(c *gin.Context) {
	from, to, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	filter := models.AttemptFilter{
		IPAddress: c.Query("ip"),
		Email:     c.Query("email"),
		From:      from,
		To:        to,
		Limit:     queryInt(c, "limit", 0),
	}
	if success := c.Query("success"); success != "" {
		b, err := strconv.ParseBool(success)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "success must be true or false"})
			return
		}
		filter.Success = &b
	}

	attempts, err := h.service.Attempts(c.Request.Context(), filter)
	if err != nil {
		internalError(c, err, "Failed to list login attempts")
		return
	}

	c.JSON(http.StatusOK, gin.H{"attempts": attempts})
}

// Handles GET /admin/security/blocked
func (h *SecurityHandler) Blocked(c *gin.Context) {
	ips, err := h.service.Blocked(c.Request.Context())
	if err != nil {
		internalError(c, err, "Failed to list blocked origins")
		return
	}

	c.JSON(http.StatusOK, gin.H{"blocked": ips})
}

type blockRequest struct {
	IP     string `json:"ip" binding:"required"`
	Reason string `json:"reason"`
}

// Handles POST /admin/security/block
func (h *SecurityHandler) Block(c *gin.Context) {
	req, ok := bindBlockRequest(c)
	if !ok {
		return
	}

	if err := h.service.Block(c.Request.Context(), req.IP, req.Reason, middleware.Actor(c)); err != nil {
		internalError(c, err, "Failed to block origin")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Origin blocked", "ip": req.IP})
}

// Handles POST /admin/security/unblock
func (h *SecurityHandler) Unblock(c *gin.Context) {
	req, ok := bindBlockRequest(c)
	if !ok {
		return
	}

	err := h.service.Unblock(c.Request.Context(), req.IP, req.Reason, middleware.Actor(c))
	if errors.Is(err, security.ErrOriginNotBlocked) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		internalError(c, err, "Failed to unblock origin")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Origin unblocked", "ip": req.IP})
}

func bindBlockRequest(c *gin.Context) (blockRequest, bool) {
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, false
	}
	if net.ParseIP(req.IP) == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid IP address"})
		return req, false
	}
	return req, true
}
