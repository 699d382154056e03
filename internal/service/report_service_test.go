package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicfix/civicfix-api/internal/dto"
	"github.com/civicfix/civicfix-api/internal/models"
	appErrors "github.com/civicfix/civicfix-api/pkg/errors"
)

type fakeTriageRepo struct {
	reports    map[string]*models.Report
	listResult []models.Report
	lastFilter models.ReportFilter
	deleted    []string
}

func newFakeTriageRepo() *fakeTriageRepo {
	return &fakeTriageRepo{reports: make(map[string]*models.Report)}
}

func (f *fakeTriageRepo) GetByID(ctx context.Context, id string) (*models.Report, error) {
	report, ok := f.reports[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *report
	return &copied, nil
}

func (f *fakeTriageRepo) List(ctx context.Context, filter models.ReportFilter) ([]models.Report, error) {
	f.lastFilter = filter
	return f.listResult, nil
}

func (f *fakeTriageRepo) UpdateStatus(ctx context.Context, id string, status models.ReportStatus) error {
	report, ok := f.reports[id]
	if !ok {
		return sql.ErrNoRows
	}
	report.Status = status
	return nil
}

func (f *fakeTriageRepo) Delete(ctx context.Context, id string) error {
	if _, ok := f.reports[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.reports, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeTriageRepo) CountByUser(ctx context.Context, userID string) (map[models.ReportStatus]int, error) {
	counts := make(map[models.ReportStatus]int)
	for _, report := range f.reports {
		if report.UserID == userID {
			counts[report.Status]++
		}
	}
	return counts, nil
}

type fakeAuditRepo struct {
	entries []*models.AuditLog
}

func (f *fakeAuditRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	f.entries = append(f.entries, log)
	return nil
}

func newTriageService(repo *fakeTriageRepo, publisher *fakePublisher) (*ReportService, *fakeAuditRepo) {
	audit := &fakeAuditRepo{}
	svc := NewReportService(repo, audit, publisher, nil, validator.New(), zap.NewNop())
	return svc, audit
}

func TestReportListFilterValidation(t *testing.T) {
	repo := newFakeTriageRepo()
	svc, _ := newTriageService(repo, &fakePublisher{})
	ctx := context.Background()

	_, err := svc.List(ctx, dto.ReportListFilter{Status: "CLOSED"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.List(ctx, dto.ReportListFilter{Sort: "loudest"})
	require.Error(t, err)

	_, err = svc.List(ctx, dto.ReportListFilter{Status: "OPEN", Type: "Pothole", Sort: "severity"})
	require.NoError(t, err)
	require.NotNil(t, repo.lastFilter.Status)
	assert.Equal(t, models.StatusOpen, *repo.lastFilter.Status)
	assert.Equal(t, models.SortSeverityDesc, repo.lastFilter.Sort)
}

func TestReportListBucketsInResponse(t *testing.T) {
	repo := newFakeTriageRepo()
	repo.listResult = []models.Report{
		{ID: "r1", SeverityScore: 9},
		{ID: "r2", SeverityScore: 5},
		{ID: "r3", SeverityScore: 2},
	}
	svc, _ := newTriageService(repo, &fakePublisher{})

	out, err := svc.List(context.Background(), dto.ReportListFilter{})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, models.SeverityHigh, out[0].SeverityBucket)
	assert.Equal(t, models.SeverityMedium, out[1].SeverityBucket)
	assert.Equal(t, models.SeverityLow, out[2].SeverityBucket)
}

func TestReportUpdateStatusAnyToAny(t *testing.T) {
	repo := newFakeTriageRepo()
	repo.reports["r1"] = &models.Report{ID: "r1", Status: models.StatusResolved, SeverityScore: 6}
	publisher := &fakePublisher{}
	svc, audit := newTriageService(repo, publisher)

	// re-opening a resolved report is allowed
	resp, err := svc.UpdateStatus(context.Background(), "admin1", "r1", dto.StatusUpdateRequest{Status: models.StatusOpen})
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, resp.Status)
	assert.Equal(t, models.StatusOpen, repo.reports["r1"].Status)
	require.Len(t, publisher.events, 1)
	assert.Equal(t, models.EventReportUpdated, publisher.events[0].Kind)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionReportStatus, audit.entries[0].Action)
}

func TestReportUpdateStatusRejectsUnknown(t *testing.T) {
	repo := newFakeTriageRepo()
	repo.reports["r1"] = &models.Report{ID: "r1", Status: models.StatusOpen}
	svc, _ := newTriageService(repo, &fakePublisher{})

	_, err := svc.UpdateStatus(context.Background(), "admin1", "r1", dto.StatusUpdateRequest{Status: "CLOSED"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestReportUpdateStatusNotFound(t *testing.T) {
	repo := newFakeTriageRepo()
	svc, _ := newTriageService(repo, &fakePublisher{})

	_, err := svc.UpdateStatus(context.Background(), "admin1", "missing", dto.StatusUpdateRequest{Status: models.StatusOpen})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestReportDeletePublishesEvent(t *testing.T) {
	repo := newFakeTriageRepo()
	repo.reports["r1"] = &models.Report{ID: "r1", Status: models.StatusOpen}
	publisher := &fakePublisher{}
	svc, _ := newTriageService(repo, publisher)

	require.NoError(t, svc.Delete(context.Background(), "admin1", "r1"))
	assert.Equal(t, []string{"r1"}, repo.deleted)
	require.Len(t, publisher.events, 1)
	assert.Equal(t, models.EventReportDeleted, publisher.events[0].Kind)
	assert.Nil(t, publisher.events[0].Report)
}

func TestReportUserStats(t *testing.T) {
	repo := newFakeTriageRepo()
	repo.reports["r1"] = &models.Report{ID: "r1", UserID: "u1", Status: models.StatusOpen, CreatedAt: time.Now()}
	repo.reports["r2"] = &models.Report{ID: "r2", UserID: "u1", Status: models.StatusResolved}
	repo.reports["r3"] = &models.Report{ID: "r3", UserID: "other", Status: models.StatusOpen}
	svc, _ := newTriageService(repo, &fakePublisher{})

	stats, err := svc.UserStats(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ByStatus.Open)
	assert.Equal(t, 1, stats.ByStatus.Resolved)
}
