package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/aman-churiwal/inventory-gateway/internal/repository"
	"github.com/aman-churiwal/inventory-gateway/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type AnalyticsHandler struct {
	service *service.AnalyticsService
}

func NewAnalyticsHandler(service *service.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{service: service}
}

// Handles GET /admin/analytics
func (h *AnalyticsHandler) GetSummary(c *gin.Context) {
	from, to, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := h.service.GetSummary(c.Request.Context(), from, to)
	if err != nil {
		internalError(c, err, "Failed to build analytics summary")
		return
	}

	c.JSON(http.StatusOK, summary)
}

// Handles GET /admin/analytics/timeseries
func (h *AnalyticsHandler) GetTimeSeries(c *gin.Context) {
	from, to, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	series, err := h.service.GetTimeSeriesData(c.Request.Context(), from, to)
	if err != nil {
		internalError(c, err, "Failed to build time series")
		return
	}

	c.JSON(http.StatusOK, series)
}

// Handles GET /admin/analytics/keys/:id
func (h *AnalyticsHandler) GetAPIKeyStats(c *gin.Context) {
	apiKeyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid API key ID"})
		return
	}

	from, to, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stats, err := h.service.GetAPIKeyStats(c.Request.Context(), apiKeyID, from, to)
	if err != nil {
		internalError(c, err, "Failed to build API key stats")
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Handles GET /admin/logs
func (h *AnalyticsHandler) GetLogs(c *gin.Context) {
	from, to, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	filter := repository.RequestLogFilter{
		From:      from,
		To:        to,
		ErrorCode: models.ErrorCode(c.Query("code")),
		Limit:     queryInt(c, "limit", 100),
		Offset:    queryInt(c, "offset", 0),
	}
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if s := c.Query("status"); s != "" {
		if status, err := strconv.Atoi(s); err == nil {
			filter.StatusCode = &status
		}
	}
	if s := c.Query("api_key_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid API key ID"})
			return
		}
		filter.APIKeyID = &id
	}

	logs, err := h.service.GetLogs(c.Request.Context(), filter)
	if err != nil {
		internalError(c, err, "Failed to list request logs")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":   logs,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// Parses 'from' and 'to' query parameters. Defaults to the last 24 hours.
func parseTimeRange(c *gin.Context) (time.Time, time.Time, error) {
	to := time.Now()
	from := to.Add(-24 * time.Hour)

	if s := c.Query("from"); s != "" {
		parsed, err := parseTime(s)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}

	if s := c.Query("to"); s != "" {
		parsed, err := parseTime(s)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed
	}

	return from, to, nil
}

// Accepts RFC3339 or a unix timestamp
func parseTime(s string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return parsed, nil
	}
	if timestamp, convErr := strconv.ParseInt(s, 10, 64); convErr == nil {
		return time.Unix(timestamp, 0), nil
	}
	return time.Time{}, err
}

func queryInt(c *gin.Context, name string, fallback int) int {
	if s := c.Query(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
	}
	return fallback
}
