package service

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/civicfix/civicfix-api/internal/dto"
	"github.com/civicfix/civicfix-api/internal/models"
	appErrors "github.com/civicfix/civicfix-api/pkg/errors"
)

const (
	dashboardCacheKey     = "dashboard:stats"
	dashboardCachePattern = "dashboard:*"
)

type dashboardReportRepository interface {
	Aggregate(ctx context.Context, todayStart time.Time) (*models.ReportAggregate, error)
}

type dashboardUserRepository interface {
	CountAll(ctx context.Context) (int, error)
}

// DashboardService assembles the admin overview numbers. The rollup runs
// in SQL over the whole reports table, so the totals stay exact however
// large it grows, and is cached briefly in Redis.
type DashboardService struct {
	reports  dashboardReportRepository
	users    dashboardUserRepository
	cache    *CacheService
	cacheTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewDashboardService constructs a DashboardService.
func NewDashboardService(reports dashboardReportRepository, users dashboardUserRepository, cache *CacheService, cacheTTL time.Duration, logger *zap.Logger) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &DashboardService{
		reports:  reports,
		users:    users,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Stats returns the dashboard aggregate, serving from cache when fresh.
func (s *DashboardService) Stats(ctx context.Context) (*dto.DashboardStatsResponse, error) {
	if s.cache != nil {
		var cached dto.DashboardStatsResponse
		if hit, err := s.cache.Get(ctx, dashboardCacheKey, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	todayStart := s.now().Truncate(24 * time.Hour)
	agg, err := s.reports.Aggregate(ctx, todayStart)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate reports")
	}

	totalUsers, err := s.users.CountAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count users")
	}

	stats := s.compute(agg, totalUsers)

	if s.cache != nil {
		if err := s.cache.Set(ctx, dashboardCacheKey, stats, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache dashboard stats", zap.Error(err))
		}
	}
	return stats, nil
}

func (s *DashboardService) compute(agg *models.ReportAggregate, totalUsers int) *dto.DashboardStatsResponse {
	stats := &dto.DashboardStatsResponse{
		TotalReports:     agg.Total,
		TodayReports:     agg.Today,
		TotalUsers:       totalUsers,
		ReportsByType:    agg.ByType,
		AvgSeverityScore: math.Round(agg.AvgSeverity*10) / 10,
	}
	if stats.ReportsByType == nil {
		stats.ReportsByType = make(map[string]int)
	}

	stats.ReportsBySeverity.High = agg.BySeverity[models.SeverityHigh]
	stats.ReportsBySeverity.Medium = agg.BySeverity[models.SeverityMedium]
	stats.ReportsBySeverity.Low = agg.BySeverity[models.SeverityLow]

	stats.ReportsByStatus.Open = agg.ByStatus[models.StatusOpen]
	stats.ReportsByStatus.InProgress = agg.ByStatus[models.StatusInProgress]
	stats.ReportsByStatus.Resolved = agg.ByStatus[models.StatusResolved]
	stats.ReportsByStatus.Rejected = agg.ByStatus[models.StatusRejected]

	return stats
}
