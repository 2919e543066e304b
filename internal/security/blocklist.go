package security

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"gorm.io/datatypes"
)

var ErrOriginNotBlocked = errors.New("origin is not blocked")

type BlockStore interface {
	Create(ctx context.Context, attempt *models.LoginAttempt) error
	IsBlocked(ctx context.Context, ip string) (bool, error)
	BlockIP(ctx context.Context, ip string) (int64, error)
	UnblockIP(ctx context.Context, ip string) (int64, error)
	ListBlockedIPs(ctx context.Context) ([]string, error)
}

// Blocklist answers whether an origin is blocked. An origin is blocked while
// any of its login attempt records carries the blocked flag.
type Blocklist struct {
	attempts BlockStore
	recorder *Recorder
	now      func() time.Time
}

func NewBlocklist(attempts BlockStore, recorder *Recorder) *Blocklist {
	return &Blocklist{
		attempts: attempts,
		recorder: recorder,
		now:      time.Now,
	}
}

func (b *Blocklist) IsBlocked(ctx context.Context, ip string) (bool, error) {
	return b.attempts.IsBlocked(ctx, ip)
}

// Reports a request turned away because its origin is blocked
func (b *Blocklist) ReportDenied(ip, method, endpoint, userAgent string) {
	status := http.StatusForbidden
	b.recorder.Emit(&models.SecurityEvent{
		Type:        models.EventUnauthorizedAccess,
		Severity:    models.SeverityHigh,
		Description: fmt.Sprintf("Request from blocked origin %s denied", ip),
		IPAddress:   ip,
		Endpoint:    endpoint,
		Method:      method,
		StatusCode:  &status,
		CreatedAt:   b.now(),
		Metadata:    datatypes.JSONMap{"user_agent": userAgent},
	})
}

// Blocks ip by hand. A marker attempt keeps the origin blocked even when it
// has no login history of its own.
func (b *Blocklist) Block(ctx context.Context, ip, reason, actor string) error {
	rows, err := b.attempts.BlockIP(ctx, ip)
	if err != nil {
		return fmt.Errorf("failed to block %s: %w", ip, err)
	}

	marker := &models.LoginAttempt{
		IPAddress: ip,
		UserAgent: "manual-block",
		Blocked:   true,
		CreatedAt: b.now(),
	}
	if err := b.attempts.Create(ctx, marker); err != nil {
		return fmt.Errorf("failed to block %s: %w", ip, err)
	}

	return b.recorder.Record(ctx, &models.SecurityEvent{
		Type:        models.EventSuspiciousActivity,
		Severity:    models.SeverityHigh,
		Description: fmt.Sprintf("Origin %s blocked by %s: %s", ip, actor, reason),
		IPAddress:   ip,
		CreatedAt:   b.now(),
		Metadata: datatypes.JSONMap{
			"action":          "manual_block",
			"reason":          reason,
			"actor":           actor,
			"records_blocked": rows + 1,
		},
	})
}

func (b *Blocklist) Unblock(ctx context.Context, ip, reason, actor string) error {
	rows, err := b.attempts.UnblockIP(ctx, ip)
	if err != nil {
		return fmt.Errorf("failed to unblock %s: %w", ip, err)
	}
	if rows == 0 {
		return ErrOriginNotBlocked
	}

	return b.recorder.Record(ctx, &models.SecurityEvent{
		Type:        models.EventSuspiciousActivity,
		Severity:    models.SeverityLow,
		Description: fmt.Sprintf("Origin %s unblocked by %s: %s", ip, actor, reason),
		IPAddress:   ip,
		CreatedAt:   b.now(),
		Metadata: datatypes.JSONMap{
			"action":            "manual_unblock",
			"reason":            reason,
			"actor":             actor,
			"records_unblocked": rows,
		},
	})
}

func (b *Blocklist) Blocked(ctx context.Context) ([]string, error) {
	return b.attempts.ListBlockedIPs(ctx)
}
