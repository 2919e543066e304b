package middleware

import (
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Records request count and latency per matched route. Proxied traffic is
// grouped under one label to keep cardinality bounded.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		switch {
		case route != "":
		case c.Writer.Header().Get("X-Backend-Server") != "":
			route = "upstream"
		default:
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start).Seconds())
	}
}
