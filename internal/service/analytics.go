package service

import (
	"context"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/aman-churiwal/inventory-gateway/internal/repository"
	"github.com/google/uuid"
)

type AnalyticsService struct {
	repository *repository.RequestLogRepository
}

func NewAnalyticsService(repo *repository.RequestLogRepository) *AnalyticsService {
	return &AnalyticsService{
		repository: repo,
	}
}

// Holds analytics summary data
type AnalyticsSummary struct {
	TotalRequests   int64                      `json:"total_requests"`
	AvgResponseTime float64                    `json:"avg_response_time_ms"`
	P50ResponseTime float64                    `json:"p50_response_time_ms,omitempty"`
	P95ResponseTime float64                    `json:"p95_response_time_ms,omitempty"`
	P99ResponseTime float64                    `json:"p99_response_time_ms,omitempty"`
	ErrorRate       float64                    `json:"error_rate"`
	SuccessRate     float64                    `json:"success_rate"`
	ClientErrorRate float64                    `json:"client_error_rate"`
	ServerErrorRate float64                    `json:"server_error_rate"`
	ErrorCodes      []repository.CodeCount     `json:"error_codes,omitempty"`
	TopEndpoints    []repository.EndpointCount `json:"top_endpoints,omitempty"`
}

// Retrieves analytics summary for a time range
func (s *AnalyticsService) GetSummary(ctx context.Context, from, to time.Time) (*AnalyticsSummary, error) {
	summary, err := s.summarize(ctx, from, to, nil)
	if err != nil || summary.TotalRequests == 0 {
		return summary, err
	}

	// Percentiles are best effort
	summary.P50ResponseTime, _ = s.repository.GetPercentile(ctx, from, to, 0.50)
	summary.P95ResponseTime, _ = s.repository.GetPercentile(ctx, from, to, 0.95)
	summary.P99ResponseTime, _ = s.repository.GetPercentile(ctx, from, to, 0.99)

	summary.ErrorCodes, err = s.repository.CountByErrorCode(ctx, from, to)
	if err != nil {
		return nil, err
	}

	summary.TopEndpoints, err = s.repository.GetTopEndpoints(ctx, from, to, 10)
	if err != nil {
		return nil, err
	}

	return summary, nil
}

// Retrieves analytics for a specific API key
func (s *AnalyticsService) GetAPIKeyStats(ctx context.Context, apiKeyID uuid.UUID, from, to time.Time) (*AnalyticsSummary, error) {
	return s.summarize(ctx, from, to, &apiKeyID)
}

func (s *AnalyticsService) summarize(ctx context.Context, from, to time.Time, apiKeyID *uuid.UUID) (*AnalyticsSummary, error) {
	summary := &AnalyticsSummary{}

	totalRequests, err := s.repository.CountByTimeRange(ctx, from, to, apiKeyID)
	if err != nil {
		return nil, err
	}
	summary.TotalRequests = totalRequests

	if totalRequests == 0 {
		return summary, nil
	}

	summary.AvgResponseTime, err = s.repository.GetAverageResponseTime(ctx, from, to, apiKeyID)
	if err != nil {
		return nil, err
	}

	clientErrors, err := s.repository.CountByStatusCodeRange(ctx, 400, 499, from, to, apiKeyID)
	if err != nil {
		return nil, err
	}

	serverErrors, err := s.repository.CountByStatusCodeRange(ctx, 500, 599, from, to, apiKeyID)
	if err != nil {
		return nil, err
	}

	applyRates(summary, clientErrors, serverErrors)
	return summary, nil
}

// Fills in percentage rates from error counts
func applyRates(summary *AnalyticsSummary, clientErrors, serverErrors int64) {
	if summary.TotalRequests == 0 {
		return
	}

	total := float64(summary.TotalRequests)
	summary.ErrorRate = (float64(clientErrors+serverErrors) / total) * 100
	summary.SuccessRate = 100 - summary.ErrorRate
	summary.ClientErrorRate = (float64(clientErrors) / total) * 100
	summary.ServerErrorRate = (float64(serverErrors) / total) * 100
}

// Retrieves hourly request counts
func (s *AnalyticsService) GetTimeSeriesData(ctx context.Context, from, to time.Time) ([]repository.HourlyStat, error) {
	return s.repository.GetHourlyStats(ctx, from, to)
}

// Retrieves request logs with pagination and filtering
func (s *AnalyticsService) GetLogs(ctx context.Context, filter repository.RequestLogFilter) ([]models.RequestLog, error) {
	return s.repository.Find(ctx, filter)
}
