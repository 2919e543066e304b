package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/models"
)

var ErrEventNotFound = errors.New("security event not found or already resolved")

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type EventStore interface {
	List(ctx context.Context, f models.EventFilter) ([]models.SecurityEvent, error)
	Resolve(ctx context.Context, id, resolvedBy string, at time.Time) (bool, error)
}

type AttemptLister interface {
	List(ctx context.Context, f models.AttemptFilter) ([]models.LoginAttempt, error)
}

// Service backs the security administration endpoints
type Service struct {
	events    EventStore
	attempts  AttemptLister
	blocklist *Blocklist
	now       func() time.Time
}

func NewService(events EventStore, attempts AttemptLister, blocklist *Blocklist) *Service {
	return &Service{
		events:    events,
		attempts:  attempts,
		blocklist: blocklist,
		now:       time.Now,
	}
}

func (s *Service) Events(ctx context.Context, f models.EventFilter) ([]models.SecurityEvent, error) {
	f.Limit = clampLimit(f.Limit)
	return s.events.List(ctx, f)
}

func (s *Service) Resolve(ctx context.Context, id, resolvedBy string) error {
	ok, err := s.events.Resolve(ctx, id, resolvedBy, s.now())
	if err != nil {
		return fmt.Errorf("failed to resolve event: %w", err)
	}
	if !ok {
		return ErrEventNotFound
	}
	return nil
}

func (s *Service) Attempts(ctx context.Context, f models.AttemptFilter) ([]models.LoginAttempt, error) {
	f.Limit = clampLimit(f.Limit)
	return s.attempts.List(ctx, f)
}

func (s *Service) Blocked(ctx context.Context) ([]string, error) {
	return s.blocklist.Blocked(ctx)
}

func (s *Service) Block(ctx context.Context, ip, reason, actor string) error {
	return s.blocklist.Block(ctx, ip, reason, actor)
}

func (s *Service) Unblock(ctx context.Context, ip, reason, actor string) error {
	return s.blocklist.Unblock(ctx, ip, reason, actor)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
