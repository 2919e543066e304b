package security

import (
	"context"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/rs/zerolog/log"
)

type AttemptWriter interface {
	Create(ctx context.Context, attempt *models.LoginAttempt) error
}

// Tracker persists every login attempt and runs anomaly detection on failures.
// Neither step can change the outcome of the login itself.
type Tracker struct {
	attempts AttemptWriter
	detector *Detector
	now      func() time.Time
}

func NewTracker(attempts AttemptWriter, detector *Detector) *Tracker {
	return &Tracker{
		attempts: attempts,
		detector: detector,
		now:      time.Now,
	}
}

func (t *Tracker) Record(ctx context.Context, attempt *models.LoginAttempt) {
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = t.now()
	}

	if err := t.attempts.Create(ctx, attempt); err != nil {
		log.Error().Err(err).
			Str("email", attempt.Email).
			Str("ip", attempt.IPAddress).
			Msg("Failed to record login attempt")
	}

	// Only rejected credentials count toward anomalies
	if attempt.FailureReason == nil || t.detector == nil {
		return
	}

	if err := t.detector.Evaluate(ctx, attempt); err != nil {
		log.Error().Err(err).Str("ip", attempt.IPAddress).Msg("Anomaly detection failed")
	}
}
