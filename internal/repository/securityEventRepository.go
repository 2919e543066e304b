package repository

import (
	"context"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/aman-churiwal/inventory-gateway/internal/storage"
)

type SecurityEventRepository struct {
	db *storage.Postgres
}

func NewSecurityEventRepository(db *storage.Postgres) *SecurityEventRepository {
	return &SecurityEventRepository{db: db}
}

func (r *SecurityEventRepository) Create(ctx context.Context, event *models.SecurityEvent) error {
	return r.db.DB.WithContext(ctx).Create(event).Error
}

func (r *SecurityEventRepository) List(ctx context.Context, f models.EventFilter) ([]models.SecurityEvent, error) {
	var events []models.SecurityEvent

	q := r.db.DB.WithContext(ctx)
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if f.Resolved != nil {
		q = q.Where("resolved = ?", *f.Resolved)
	}
	if !f.From.IsZero() {
		q = q.Where("created_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("created_at <= ?", f.To)
	}

	err := q.Order("created_at DESC").
		Limit(f.Limit).
		Find(&events).Error

	return events, err
}

// Marks an unresolved event as resolved. Returns false if no such
// unresolved event exists.
func (r *SecurityEventRepository) Resolve(ctx context.Context, id, resolvedBy string, at time.Time) (bool, error) {
	result := r.db.DB.WithContext(ctx).
		Model(&models.SecurityEvent{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]interface{}{
			"resolved":    true,
			"resolved_by": resolvedBy,
			"resolved_at": at,
		})

	return result.RowsAffected > 0, result.Error
}

// Deletes events resolved before the specified time. Unresolved events are kept.
func (r *SecurityEventRepository) DeleteResolvedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("resolved = ? AND resolved_at < ?", true, before).
		Delete(&models.SecurityEvent{})

	return result.RowsAffected, result.Error
}
