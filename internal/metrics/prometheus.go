package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	admissionRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "admission_rejections_total",
			Help:      "Requests rejected by the admission pipeline, by classification",
		},
		[]string{"code"},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the rate limiter, by tier",
		},
		[]string{"tier"},
	)

	securityEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "security_events_total",
			Help:      "Security events emitted",
		},
		[]string{"type", "severity"},
	)

	dispatchDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "dispatch_dropped_total",
			Help:      "Background tasks dropped because the queue was full",
		},
		[]string{"kind"},
	)

	dispatchFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "dispatch_failed_total",
			Help:      "Background tasks that returned an error or panicked",
		},
		[]string{"kind"},
	)

	auditDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "audit_logs_dropped_total",
			Help:      "Request log entries dropped because the buffer was full",
		},
	)

	blockedOrigins = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "blocked_origins_total",
			Help:      "Origins blocked by the auto-block sweeper",
		},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, route string, statusCode int, durationSeconds float64) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

func RecordRejection(code string) {
	admissionRejections.WithLabelValues(code).Inc()
}

func RecordRateLimited(tier string) {
	rateLimitRejections.WithLabelValues(tier).Inc()
}

func RecordSecurityEvent(eventType, severity string) {
	securityEvents.WithLabelValues(eventType, severity).Inc()
}

func RecordDispatchDropped(kind string) {
	dispatchDropped.WithLabelValues(kind).Inc()
}

func RecordDispatchFailed(kind string) {
	dispatchFailed.WithLabelValues(kind).Inc()
}

func RecordAuditDropped() {
	auditDropped.Inc()
}

func RecordBlockedOrigins(n int) {
	blockedOrigins.Add(float64(n))
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
