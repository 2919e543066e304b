package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/config"
	"github.com/aman-churiwal/inventory-gateway/internal/metrics"
	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
)

type SweepStore interface {
	FailuresByOrigin(ctx context.Context, since time.Time, min int) ([]models.OriginFailures, error)
	BlockIP(ctx context.Context, ip string) (int64, error)
}

// Sweeper periodically blocks origins whose failed, unblocked logins in the
// trailing window reach the block threshold. A skipped sweep only delays
// blocking since the next one aggregates the same window.
type Sweeper struct {
	attempts  SweepStore
	recorder  *Recorder
	detector  *Detector
	window    time.Duration
	interval  time.Duration
	threshold int
	now       func() time.Time
}

func NewSweeper(attempts SweepStore, recorder *Recorder, detector *Detector, cfg config.SecurityConfig) *Sweeper {
	return &Sweeper{
		attempts:  attempts,
		recorder:  recorder,
		detector:  detector,
		window:    cfg.Window,
		interval:  cfg.SweepInterval,
		threshold: cfg.BlockThreshold,
		now:       time.Now,
	}
}

// Runs a single sweep. Returns the number of origins blocked.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.detector != nil {
		s.detector.Prune()
	}

	since := s.now().Add(-s.window)
	origins, err := s.attempts.FailuresByOrigin(ctx, since, s.threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to aggregate login failures: %w", err)
	}

	blocked := 0
	var errs []error
	for _, origin := range origins {
		rows, err := s.attempts.BlockIP(ctx, origin.IPAddress)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to block %s: %w", origin.IPAddress, err))
			continue
		}
		blocked++

		event := &models.SecurityEvent{
			Type:        models.EventSuspiciousActivity,
			Severity:    models.SeverityCritical,
			Description: fmt.Sprintf("Origin %s blocked after %d failed login attempts within %s", origin.IPAddress, origin.Failures, s.window),
			IPAddress:   origin.IPAddress,
			CreatedAt:   s.now(),
			Metadata: datatypes.JSONMap{
				"action":          "auto_block",
				"failures":        origin.Failures,
				"threshold":       s.threshold,
				"records_blocked": rows,
			},
		}
		if err := s.recorder.Record(ctx, event); err != nil {
			log.Error().Err(err).Str("ip", origin.IPAddress).Msg("Failed to record auto-block event")
		}
	}

	metrics.RecordBlockedOrigins(blocked)
	return blocked, errors.Join(errs...)
}

// Sweeps once immediately, then on every interval until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	blocked, err := s.SweepOnce(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Auto-block sweep failed")
	}
	if blocked > 0 {
		log.Info().Int("origins", blocked).Msg("Auto-block sweep completed")
	}
}
