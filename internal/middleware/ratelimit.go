package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/metrics"
	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/aman-churiwal/inventory-gateway/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
)

const maxUserAgentKeyLen = 64

type SecurityEmitter interface {
	Emit(event *models.SecurityEvent)
}

// Applies the request's tier to the caller's origin and, for API keys, the
// key's own hourly ceiling. The tighter of the two decides the headers.
func RateLimit(store ratelimit.CounterStore, router *ratelimit.Router, events SecurityEmitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		tier := router.Resolve(c.Request.Method, c.Request.URL.Path)
		decision, err := ratelimit.NewLimiter(store, tier).Allow(ctx, originSubject(c))
		if err != nil {
			rateLimitFailed(c, err)
			return
		}

		if apiKey, ok := APIKeyFrom(c); ok && decision.Allowed {
			keyDecision, err := ratelimit.NewKeyLimiter(store, apiKey.RateLimit).Allow(ctx, "key:"+apiKey.ID.String())
			if err != nil {
				rateLimitFailed(c, err)
				return
			}
			if !keyDecision.Allowed || keyDecision.Remaining < decision.Remaining {
				decision = keyDecision
			}
		}

		setRateLimitHeaders(c, decision)

		if !decision.Allowed {
			rejectRateLimited(c, decision, events)
			return
		}

		c.Next()
	}
}

// Origin address plus a truncated user agent
func originSubject(c *gin.Context) string {
	ua := c.Request.UserAgent()
	if len(ua) > maxUserAgentKeyLen {
		ua = ua[:maxUserAgentKeyLen]
	}
	return fmt.Sprintf("%s:%s", c.ClientIP(), ua)
}

func setRateLimitHeaders(c *gin.Context, d ratelimit.Decision) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	c.Header("X-RateLimit-Tier", d.Tier)
}

func rejectRateLimited(c *gin.Context, d ratelimit.Decision, events SecurityEmitter) {
	retryAfter := int(math.Ceil(time.Until(d.ResetAt).Seconds()))
	if retryAfter < 0 {
		retryAfter = 0
	}
	c.Header("Retry-After", strconv.Itoa(retryAfter))

	metrics.RecordRateLimited(d.Tier)
	if events != nil {
		status := http.StatusTooManyRequests
		events.Emit(&models.SecurityEvent{
			Type:        models.EventRateLimitExceeded,
			Severity:    models.SeverityLow,
			Description: fmt.Sprintf("Rate limit exceeded for tier %s", d.Tier),
			IPAddress:   c.ClientIP(),
			Endpoint:    c.Request.URL.Path,
			Method:      c.Request.Method,
			StatusCode:  &status,
			Metadata: datatypes.JSONMap{
				"tier":     d.Tier,
				"limit":    d.Limit,
				"reset_at": d.ResetAt.UTC().Format(time.RFC3339),
			},
		})
	}

	c.Set(ContextErrorCode, models.CodeRateLimited)
	metrics.RecordRejection(string(models.CodeRateLimited))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":    "Rate limit exceeded",
		"code":     models.CodeRateLimited,
		"tier":     d.Tier,
		"limit":    d.Limit,
		"reset_at": d.ResetAt.UTC().Format(time.RFC3339),
	})
}

func rateLimitFailed(c *gin.Context, err error) {
	log.Error().Err(err).Str("request_id", c.GetString(ContextRequestID)).Msg("Rate limit check failed")
	abortWithError(c, http.StatusInternalServerError, models.CodeSystemError, "Rate limit check failed")
}
