package middleware

import (
	"context"
	"net/http"

	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type BlockChecker interface {
	IsBlocked(ctx context.Context, ip string) (bool, error)
	ReportDenied(ip, method, endpoint, userAgent string)
}

// Turns away requests from blocked origins before any credential check. A
// failed lookup lets the request through.
func BlockGate(blocklist BlockChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		blocked, err := blocklist.IsBlocked(c.Request.Context(), ip)
		if err != nil {
			log.Error().Err(err).Str("ip", ip).Msg("Block lookup failed, allowing request")
			c.Next()
			return
		}

		if blocked {
			blocklist.ReportDenied(ip, c.Request.Method, c.Request.URL.Path, c.Request.UserAgent())
			abortWithError(c, http.StatusForbidden, models.CodeIPBlocked, "Access denied")
			return
		}

		c.Next()
	}
}
