package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/config"
	"github.com/rs/zerolog/log"
)

type Expirer interface {
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

type ResolvedExpirer interface {
	DeleteResolvedBefore(ctx context.Context, before time.Time) (int64, error)
}

// Janitor deletes login attempts, resolved security events and request logs
// once they pass their retention period
type Janitor struct {
	attempts Expirer
	events   ResolvedExpirer
	logs     Expirer
	cfg      config.RetentionConfig
	now      func() time.Time
}

func NewJanitor(attempts Expirer, events ResolvedExpirer, logs Expirer, cfg config.RetentionConfig) *Janitor {
	return &Janitor{
		attempts: attempts,
		events:   events,
		logs:     logs,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Performs a single retention pass over all three record kinds
func (j *Janitor) RunOnce(ctx context.Context) error {
	now := j.now()
	var errs []error

	if n, err := j.attempts.DeleteOlderThan(ctx, now.Add(-j.cfg.LoginAttempts)); err != nil {
		errs = append(errs, fmt.Errorf("login attempts: %w", err))
	} else if n > 0 {
		log.Info().Int64("deleted", n).Msg("Expired login attempts")
	}

	if n, err := j.events.DeleteResolvedBefore(ctx, now.Add(-j.cfg.SecurityEvents)); err != nil {
		errs = append(errs, fmt.Errorf("security events: %w", err))
	} else if n > 0 {
		log.Info().Int64("deleted", n).Msg("Expired resolved security events")
	}

	if n, err := j.logs.DeleteOlderThan(ctx, now.Add(-j.cfg.RequestLogs)); err != nil {
		errs = append(errs, fmt.Errorf("request logs: %w", err))
	} else if n > 0 {
		log.Info().Int64("deleted", n).Msg("Expired request logs")
	}

	return errors.Join(errs...)
}

// Runs the cleanup once at startup and then on every interval until ctx is cancelled
func (j *Janitor) Run(ctx context.Context) {
	if err := j.RunOnce(ctx); err != nil {
		log.Error().Err(err).Msg("Retention cleanup error (startup)")
	}

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.RunOnce(ctx); err != nil {
				log.Error().Err(err).Msg("Retention cleanup error")
			}
		}
	}
}
