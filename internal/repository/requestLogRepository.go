package repository

import (
	"context"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/aman-churiwal/inventory-gateway/internal/storage"
	"github.com/google/uuid"
)

type RequestLogRepository struct {
	db *storage.Postgres
}

func NewRequestLogRepository(db *storage.Postgres) *RequestLogRepository {
	return &RequestLogRepository{db: db}
}

// Inserts multiple request logs (for batch insertion)
func (r *RequestLogRepository) CreateBatch(ctx context.Context, logs []models.RequestLog) error {
	if len(logs) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).CreateInBatches(logs, 100).Error
}

type RequestLogFilter struct {
	From       time.Time
	To         time.Time
	APIKeyID   *uuid.UUID
	StatusCode *int
	ErrorCode  models.ErrorCode
	Limit      int
	Offset     int
}

// Retrieves logs matching the filter, newest first
func (r *RequestLogRepository) Find(ctx context.Context, f RequestLogFilter) ([]models.RequestLog, error) {
	var logs []models.RequestLog

	q := r.db.DB.WithContext(ctx).
		Where("timestamp BETWEEN ? AND ?", f.From, f.To)

	if f.APIKeyID != nil {
		q = q.Where("api_key_id = ?", *f.APIKeyID)
	}
	if f.StatusCode != nil {
		q = q.Where("status_code = ?", *f.StatusCode)
	}
	if f.ErrorCode != "" {
		q = q.Where("error_code = ?", f.ErrorCode)
	}

	err := q.Order("timestamp DESC").
		Limit(f.Limit).
		Offset(f.Offset).
		Find(&logs).Error

	return logs, err
}

// Counts logs in a time range, optionally for one API key
func (r *RequestLogRepository) CountByTimeRange(ctx context.Context, from, to time.Time, apiKeyID *uuid.UUID) (int64, error) {
	var count int64

	q := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Where("timestamp BETWEEN ? AND ?", from, to)
	if apiKeyID != nil {
		q = q.Where("api_key_id = ?", *apiKeyID)
	}

	err := q.Count(&count).Error
	return count, err
}

// Calculates average response time
func (r *RequestLogRepository) GetAverageResponseTime(ctx context.Context, from, to time.Time, apiKeyID *uuid.UUID) (float64, error) {
	var avg float64

	q := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Where("timestamp BETWEEN ? AND ?", from, to)
	if apiKeyID != nil {
		q = q.Where("api_key_id = ?", *apiKeyID)
	}

	err := q.Select("COALESCE(AVG(response_time_ms), 0)").Scan(&avg).Error
	return avg, err
}

// Calculates response time percentile
func (r *RequestLogRepository) GetPercentile(ctx context.Context, from, to time.Time, percentile float64) (float64, error) {
	var result float64
	query := `
		SELECT COALESCE(PERCENTILE_CONT(?) WITHIN GROUP (ORDER BY response_time_ms), 0)
		FROM request_logs
		WHERE timestamp BETWEEN ? AND ?
	`

	err := r.db.DB.WithContext(ctx).Raw(query, percentile, from, to).Scan(&result).Error
	return result, err
}

// Count logs by status code range (e.g., 4xx, 5xx)
func (r *RequestLogRepository) CountByStatusCodeRange(ctx context.Context, minStatusCode, maxStatusCode int, from, to time.Time, apiKeyID *uuid.UUID) (int64, error) {
	var count int64

	q := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Where("status_code BETWEEN ? AND ? AND timestamp BETWEEN ? AND ?", minStatusCode, maxStatusCode, from, to)
	if apiKeyID != nil {
		q = q.Where("api_key_id = ?", *apiKeyID)
	}

	err := q.Count(&count).Error
	return count, err
}

type CodeCount struct {
	ErrorCode models.ErrorCode `json:"error_code"`
	Count     int64            `json:"count"`
}

// Counts requests per error classification
func (r *RequestLogRepository) CountByErrorCode(ctx context.Context, from, to time.Time) ([]CodeCount, error) {
	var results []CodeCount

	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Select("error_code, COUNT(*) as count").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("error_code").
		Order("count DESC").
		Scan(&results).Error

	return results, err
}

type EndpointCount struct {
	Path  string `json:"path"`
	Count int64  `json:"count"`
}

// Returns most frequently accessed endpoints
func (r *RequestLogRepository) GetTopEndpoints(ctx context.Context, from, to time.Time, limit int) ([]EndpointCount, error) {
	var results []EndpointCount

	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Select("path, COUNT(*) as count").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("path").
		Order("count DESC").
		Limit(limit).
		Scan(&results).Error

	return results, err
}

type HourlyStat struct {
	Hour            time.Time `json:"hour"`
	Count           int64     `json:"count"`
	AvgResponseTime float64   `json:"avg_response_time"`
}

// Returns the request count grouped by hour
func (r *RequestLogRepository) GetHourlyStats(ctx context.Context, from, to time.Time) ([]HourlyStat, error) {
	var results []HourlyStat

	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Select("DATE_TRUNC('hour', timestamp) as hour, COUNT(*) as count, AVG(response_time_ms) as avg_response_time").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("hour").
		Order("hour ASC").
		Scan(&results).Error

	return results, err
}

// Deletes logs older than the specified time
func (r *RequestLogRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.RequestLog{})

	return result.RowsAffected, result.Error
}
