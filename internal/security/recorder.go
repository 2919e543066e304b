// Package security tracks login attempts, raises security events when failure
// thresholds are crossed and blocks abusive origins.
package security

import (
	"context"
	"fmt"

	"github.com/aman-churiwal/inventory-gateway/internal/dispatch"
	"github.com/aman-churiwal/inventory-gateway/internal/metrics"
	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/rs/zerolog/log"
)

type EventWriter interface {
	Create(ctx context.Context, event *models.SecurityEvent) error
}

// Recorder persists security events. Emit hands the write to the background
// dispatcher and returns immediately; Record writes on the caller's goroutine.
type Recorder struct {
	store      EventWriter
	dispatcher dispatch.Submitter
}

func NewRecorder(store EventWriter, dispatcher dispatch.Submitter) *Recorder {
	return &Recorder{
		store:      store,
		dispatcher: dispatcher,
	}
}

func (r *Recorder) Emit(event *models.SecurityEvent) {
	observe(event)

	r.dispatcher.Submit("security_event", func(ctx context.Context) error {
		if err := r.store.Create(ctx, event); err != nil {
			return fmt.Errorf("failed to record %s event: %w", event.Type, err)
		}
		return nil
	})
}

func (r *Recorder) Record(ctx context.Context, event *models.SecurityEvent) error {
	observe(event)

	if err := r.store.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to record %s event: %w", event.Type, err)
	}
	return nil
}

func observe(event *models.SecurityEvent) {
	metrics.RecordSecurityEvent(string(event.Type), string(event.Severity))

	entry := log.Info()
	if event.Severity == models.SeverityHigh || event.Severity == models.SeverityCritical {
		entry = log.Warn()
	}
	entry.Str("type", string(event.Type)).
		Str("severity", string(event.Severity)).
		Str("ip", event.IPAddress).
		Msg(event.Description)
}
