package repository

import (
	"context"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/aman-churiwal/inventory-gateway/internal/storage"
)

type LoginAttemptRepository struct {
	db *storage.Postgres
}

func NewLoginAttemptRepository(db *storage.Postgres) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

func (r *LoginAttemptRepository) Create(ctx context.Context, attempt *models.LoginAttempt) error {
	return r.db.DB.WithContext(ctx).Create(attempt).Error
}

// Counts failed attempts from one origin since the given time. Manual block
// markers carry no failure reason and are not counted.
func (r *LoginAttemptRepository) CountFailuresByIP(ctx context.Context, ip string, since time.Time) (int64, error) {
	var count int64
	err := r.db.DB.WithContext(ctx).
		Model(&models.LoginAttempt{}).
		Where("ip_address = ? AND success = ? AND failure_reason IS NOT NULL AND created_at >= ?", ip, false, since).
		Count(&count).Error

	return count, err
}

// Counts failed attempts against one email since the given time
func (r *LoginAttemptRepository) CountFailuresByEmail(ctx context.Context, email string, since time.Time) (int64, error) {
	var count int64
	err := r.db.DB.WithContext(ctx).
		Model(&models.LoginAttempt{}).
		Where("email = ? AND success = ? AND failure_reason IS NOT NULL AND created_at >= ?", email, false, since).
		Count(&count).Error

	return count, err
}

// Groups failed, unblocked attempts since the given time by origin, keeping
// origins with at least min failures
func (r *LoginAttemptRepository) FailuresByOrigin(ctx context.Context, since time.Time, min int) ([]models.OriginFailures, error) {
	var results []models.OriginFailures

	err := r.db.DB.WithContext(ctx).
		Model(&models.LoginAttempt{}).
		Select("ip_address, COUNT(*) as failures").
		Where("success = ? AND blocked = ? AND failure_reason IS NOT NULL AND created_at >= ?", false, false, since).
		Group("ip_address").
		Having("COUNT(*) >= ?", min).
		Order("failures DESC").
		Scan(&results).Error

	return results, err
}

// Marks every attempt from the origin as blocked
func (r *LoginAttemptRepository) BlockIP(ctx context.Context, ip string) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Model(&models.LoginAttempt{}).
		Where("ip_address = ? AND blocked = ?", ip, false).
		Update("blocked", true)

	return result.RowsAffected, result.Error
}

func (r *LoginAttemptRepository) UnblockIP(ctx context.Context, ip string) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Model(&models.LoginAttempt{}).
		Where("ip_address = ? AND blocked = ?", ip, true).
		Update("blocked", false)

	return result.RowsAffected, result.Error
}

func (r *LoginAttemptRepository) IsBlocked(ctx context.Context, ip string) (bool, error) {
	var count int64
	err := r.db.DB.WithContext(ctx).
		Model(&models.LoginAttempt{}).
		Where("ip_address = ? AND blocked = ?", ip, true).
		Limit(1).
		Count(&count).Error

	return count > 0, err
}

func (r *LoginAttemptRepository) ListBlockedIPs(ctx context.Context) ([]string, error) {
	var ips []string
	err := r.db.DB.WithContext(ctx).
		Model(&models.LoginAttempt{}).
		Where("blocked = ?", true).
		Distinct().
		Pluck("ip_address", &ips).Error

	return ips, err
}

func (r *LoginAttemptRepository) List(ctx context.Context, f models.AttemptFilter) ([]models.LoginAttempt, error) {
	var attempts []models.LoginAttempt

	q := r.db.DB.WithContext(ctx)
	if f.IPAddress != "" {
		q = q.Where("ip_address = ?", f.IPAddress)
	}
	if f.Email != "" {
		q = q.Where("email = ?", f.Email)
	}
	if f.Success != nil {
		q = q.Where("success = ?", *f.Success)
	}
	if !f.From.IsZero() {
		q = q.Where("created_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("created_at <= ?", f.To)
	}

	err := q.Order("created_at DESC").
		Limit(f.Limit).
		Find(&attempts).Error

	return attempts, err
}

// Deletes attempts older than the specified time
func (r *LoginAttemptRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("created_at < ?", before).
		Delete(&models.LoginAttempt{})

	return result.RowsAffected, result.Error
}
