package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/civicfix/civicfix-api/internal/dto"
	"github.com/civicfix/civicfix-api/internal/models"
	appErrors "github.com/civicfix/civicfix-api/pkg/errors"
)

type reportRepository interface {
	GetByID(ctx context.Context, id string) (*models.Report, error)
	List(ctx context.Context, filter models.ReportFilter) ([]models.Report, error)
	UpdateStatus(ctx context.Context, id string, status models.ReportStatus) error
	Delete(ctx context.Context, id string) error
	CountByUser(ctx context.Context, userID string) (map[models.ReportStatus]int, error)
}

type reportAuditRepository interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// ReportService serves the triage dashboard: listing, status updates and
// deletion of stored reports.
type ReportService struct {
	repo      reportRepository
	audit     reportAuditRepository
	events    eventPublisher
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewReportService constructs a ReportService.
func NewReportService(repo reportRepository, audit reportAuditRepository, events eventPublisher, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ReportService{repo: repo, audit: audit, events: events, cache: cache, validator: validate, logger: logger}
}

// List returns reports for the triage view.
func (s *ReportService) List(ctx context.Context, filter dto.ReportListFilter) ([]dto.ReportResponse, error) {
	modelFilter, err := buildReportFilter(filter)
	if err != nil {
		return nil, err
	}

	reports, err := s.repo.List(ctx, modelFilter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reports")
	}

	out := make([]dto.ReportResponse, 0, len(reports))
	for i := range reports {
		out = append(out, dto.NewReportResponse(&reports[i]))
	}
	return out, nil
}

// ListMine returns the authenticated citizen's own reports, newest first.
func (s *ReportService) ListMine(ctx context.Context, userID string) ([]dto.ReportResponse, error) {
	reports, err := s.repo.List(ctx, models.ReportFilter{UserID: userID, Sort: models.SortNewest})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reports")
	}
	out := make([]dto.ReportResponse, 0, len(reports))
	for i := range reports {
		out = append(out, dto.NewReportResponse(&reports[i]))
	}
	return out, nil
}

// Get returns a single report.
func (s *ReportService) Get(ctx context.Context, id string) (*dto.ReportResponse, error) {
	report, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report")
	}
	resp := dto.NewReportResponse(report)
	return &resp, nil
}

// UpdateStatus moves a report to the requested triage state. Every ordered
// pair of states is legal, including moving a resolved or rejected report
// back to OPEN.
func (s *ReportService) UpdateStatus(ctx context.Context, actorID, id string, req dto.StatusUpdateRequest) (*dto.ReportResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	if !models.ValidReportStatus(req.Status) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", req.Status))
	}

	previous, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report")
	}

	if err := s.repo.UpdateStatus(ctx, id, req.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update status")
	}

	if s.audit != nil {
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &actorID,
			Action:     models.AuditActionReportStatus,
			Resource:   "reports",
			ResourceID: &id,
			OldValues:  []byte(fmt.Sprintf(`{"status":%q}`, previous.Status)),
			NewValues:  []byte(fmt.Sprintf(`{"status":%q}`, req.Status)),
		}); err != nil {
			s.logger.Warn("failed to record status audit log", zap.Error(err))
		}
	}

	previous.Status = req.Status
	previous.UpdatedAt = time.Now().UTC()
	s.afterChange(ctx, models.EventReportUpdated, previous)

	resp := dto.NewReportResponse(previous)
	return &resp, nil
}

// Delete removes a report. The author's lifetime reports_count stays where
// it is.
func (s *ReportService) Delete(ctx context.Context, actorID, id string) error {
	report, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "report not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "report not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete report")
	}

	if s.audit != nil {
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &actorID,
			Action:     models.AuditActionReportDelete,
			Resource:   "reports",
			ResourceID: &id,
			OldValues:  []byte(fmt.Sprintf(`{"type":%q,"status":%q}`, report.Type, report.Status)),
		}); err != nil {
			s.logger.Warn("failed to record delete audit log", zap.Error(err))
		}
	}

	s.afterChange(ctx, models.EventReportDeleted, report)
	return nil
}

// UserStats recounts a citizen's stored reports by status. The lifetime
// counter on the profile is reported separately because deletions shrink
// this view but never the counter.
func (s *ReportService) UserStats(ctx context.Context, userID string) (*dto.UserStatsResponse, error) {
	counts, err := s.repo.CountByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count reports")
	}
	return &dto.UserStatsResponse{
		ByStatus: dto.StatusBreakdown{
			Open:       counts[models.StatusOpen],
			InProgress: counts[models.StatusInProgress],
			Resolved:   counts[models.StatusResolved],
			Rejected:   counts[models.StatusRejected],
		},
	}, nil
}

func (s *ReportService) afterChange(ctx context.Context, kind models.ReportEventKind, report *models.Report) {
	if s.events != nil {
		event := models.ReportEvent{Kind: kind, ReportID: report.ID, OccurredAt: time.Now().UTC()}
		if kind != models.EventReportDeleted {
			event.Report = report
		}
		if err := s.events.Publish(ctx, event); err != nil {
			s.logger.Warn("failed to publish report event", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, dashboardCachePattern); err != nil {
			s.logger.Warn("failed to invalidate dashboard cache", zap.Error(err))
		}
	}
}

func buildReportFilter(filter dto.ReportListFilter) (models.ReportFilter, error) {
	out := models.ReportFilter{
		Search:      filter.Search,
		MinSeverity: filter.MinSeverity,
		Limit:       filter.Limit,
	}

	if filter.Status != "" {
		status := models.ReportStatus(filter.Status)
		if !models.ValidReportStatus(status) {
			return out, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", filter.Status))
		}
		out.Status = &status
	}
	if filter.Type != "" {
		issueType := models.IssueType(filter.Type)
		if !models.ValidIssueType(issueType) {
			return out, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown issue type %q", filter.Type))
		}
		out.Type = &issueType
	}
	if filter.MinSeverity != nil && (*filter.MinSeverity < 0 || *filter.MinSeverity > 10) {
		return out, appErrors.Clone(appErrors.ErrValidation, "minSeverity must be between 0 and 10")
	}

	switch models.ReportSort(filter.Sort) {
	case models.SortNewest, models.SortOldest, models.SortSeverityDesc:
		out.Sort = models.ReportSort(filter.Sort)
	case "":
		out.Sort = models.SortNewest
	default:
		return out, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown sort %q", filter.Sort))
	}

	return out, nil
}
