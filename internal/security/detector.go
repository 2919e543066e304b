package security

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/config"
	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"gorm.io/datatypes"
)

type FailureCounter interface {
	CountFailuresByIP(ctx context.Context, ip string, since time.Time) (int64, error)
	CountFailuresByEmail(ctx context.Context, email string, since time.Time) (int64, error)
}

type Thresholds struct {
	Window      time.Duration
	IPMedium    int
	IPHigh      int
	EmailMedium int
	EmailHigh   int
}

func ThresholdsFromConfig(cfg config.SecurityConfig) Thresholds {
	return Thresholds{
		Window:      cfg.Window,
		IPMedium:    cfg.IPMediumThreshold,
		IPHigh:      cfg.IPHighThreshold,
		EmailMedium: cfg.EmailMediumThreshold,
		EmailHigh:   cfg.EmailHighThreshold,
	}
}

const (
	scopeOrigin = "ip"
	scopeEmail  = "email"
)

type crossing struct {
	scope    string
	subject  string
	severity models.Severity
}

// Detector raises suspicious_activity events when failed logins for an
// origin or an email reach a threshold within the trailing window. Each
// (scope, subject, severity) crossing is reported once per window.
type Detector struct {
	counter  FailureCounter
	recorder *Recorder
	limits   Thresholds
	now      func() time.Time

	mu      sync.Mutex
	crossed map[crossing]time.Time
}

func NewDetector(counter FailureCounter, recorder *Recorder, limits Thresholds) *Detector {
	return &Detector{
		counter:  counter,
		recorder: recorder,
		limits:   limits,
		now:      time.Now,
		crossed:  make(map[crossing]time.Time),
	}
}

// Checks both the origin and the email of a failed attempt
func (d *Detector) Evaluate(ctx context.Context, attempt *models.LoginAttempt) error {
	since := d.now().Add(-d.limits.Window)
	var errs []error

	ipFailures, err := d.counter.CountFailuresByIP(ctx, attempt.IPAddress, since)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to count failures for origin: %w", err))
	} else {
		d.check(scopeOrigin, attempt.IPAddress, ipFailures, d.limits.IPMedium, d.limits.IPHigh, attempt)
	}

	if attempt.Email != "" {
		emailFailures, err := d.counter.CountFailuresByEmail(ctx, attempt.Email, since)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to count failures for email: %w", err))
		} else {
			d.check(scopeEmail, attempt.Email, emailFailures, d.limits.EmailMedium, d.limits.EmailHigh, attempt)
		}
	}

	return errors.Join(errs...)
}

func (d *Detector) check(scope, subject string, failures int64, medium, high int, attempt *models.LoginAttempt) {
	severity, threshold := severityFor(failures, medium, high)
	if severity == "" {
		return
	}
	if !d.markCrossed(scope, subject, severity) {
		return
	}

	event := &models.SecurityEvent{
		Type:      models.EventSuspiciousActivity,
		Severity:  severity,
		IPAddress: attempt.IPAddress,
		UserID:    attempt.UserID,
		CreatedAt: d.now(),
		Metadata: datatypes.JSONMap{
			"scope":          scope,
			"failures":       failures,
			"threshold":      threshold,
			"window_seconds": int64(d.limits.Window.Seconds()),
		},
	}

	if scope == scopeEmail {
		event.Email = attempt.Email
		event.Description = fmt.Sprintf("%d failed login attempts for %s within %s", failures, attempt.Email, d.limits.Window)
	} else {
		event.Description = fmt.Sprintf("%d failed login attempts from %s within %s", failures, attempt.IPAddress, d.limits.Window)
	}

	d.recorder.Emit(event)
}

func severityFor(failures int64, medium, high int) (models.Severity, int) {
	switch {
	case failures >= int64(high):
		return models.SeverityHigh, high
	case failures >= int64(medium):
		return models.SeverityMedium, medium
	default:
		return "", 0
	}
}

// Returns true the first time severity is reached for subject within the
// window. Reaching high also counts as having reached medium.
func (d *Detector) markCrossed(scope, subject string, severity models.Severity) bool {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	key := crossing{scope: scope, subject: subject, severity: severity}
	if at, ok := d.crossed[key]; ok && now.Sub(at) < d.limits.Window {
		return false
	}
	d.crossed[key] = now

	if severity == models.SeverityHigh {
		d.crossed[crossing{scope: scope, subject: subject, severity: models.SeverityMedium}] = now
	}
	return true
}

// Forgets crossings older than the window. Returns how many were removed.
func (d *Detector) Prune() int {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for key, at := range d.crossed {
		if now.Sub(at) >= d.limits.Window {
			delete(d.crossed, key)
			removed++
		}
	}
	return removed
}
