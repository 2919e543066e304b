package middleware

import (
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/gin-gonic/gin"
)

// Accepts request logs without blocking
type AuditSink interface {
	Log(entry models.RequestLog) bool
}

// Paths that are never audited
var unaudited = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// Records every request's outcome after the rest of the chain has run. The
// entry is handed to sink without waiting for it to be written.
func AuditLog(sink AuditSink) gin.HandlerFunc {
	return func(c *gin.Context) {
		if unaudited[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()

		// Process request
		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		code, ok := errorCode(c)
		if !ok {
			code = classify(status)
		}

		requestSize := c.Request.ContentLength
		if requestSize < 0 {
			requestSize = 0
		}
		responseSize := int64(c.Writer.Size())
		if responseSize < 0 {
			responseSize = 0
		}

		sink.Log(models.RequestLog{
			Timestamp:      start,
			RequestID:      c.GetString(ContextRequestID),
			APIKeyID:       apiKeyID(c),
			UserID:         userID(c),
			Method:         c.Request.Method,
			Path:           c.Request.URL.Path,
			StatusCode:     status,
			ErrorCode:      code,
			ResponseTimeMs: int(duration.Milliseconds()),
			RequestSize:    requestSize,
			ResponseSize:   responseSize,
			IPAddress:      c.ClientIP(),
			UserAgent:      c.Request.UserAgent(),
			BackendServer:  c.Writer.Header().Get("X-Backend-Server"),
		})
	}
}

// Classifies responses that no middleware classified
func classify(status int) models.ErrorCode {
	switch {
	case status >= 500:
		return models.CodeServerError
	case status >= 400:
		return models.CodeClientError
	default:
		return models.CodeSuccess
	}
}
