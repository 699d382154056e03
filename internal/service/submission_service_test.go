package service

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicfix/civicfix-api/internal/dto"
	"github.com/civicfix/civicfix-api/internal/models"
	"github.com/civicfix/civicfix-api/pkg/config"
	appErrors "github.com/civicfix/civicfix-api/pkg/errors"
)

type fakeDraftRepo struct {
	drafts map[string]*models.Draft
	claims map[string]bool
}

func newFakeDraftRepo() *fakeDraftRepo {
	return &fakeDraftRepo{
		drafts: make(map[string]*models.Draft),
		claims: make(map[string]bool),
	}
}

func (f *fakeDraftRepo) Get(ctx context.Context, id string) (*models.Draft, error) {
	draft, ok := f.drafts[id]
	if !ok {
		return nil, appErrors.ErrNotFound
	}
	copied := *draft
	return &copied, nil
}

func (f *fakeDraftRepo) Save(ctx context.Context, draft *models.Draft) error {
	draft.UpdatedAt = time.Now().UTC()
	copied := *draft
	f.drafts[draft.ID] = &copied
	return nil
}

func (f *fakeDraftRepo) Delete(ctx context.Context, id string) error {
	delete(f.drafts, id)
	return nil
}

func (f *fakeDraftRepo) ClaimAnalysis(ctx context.Context, id string) (bool, error) {
	if f.claims[id] {
		return false, nil
	}
	f.claims[id] = true
	return true, nil
}

func (f *fakeDraftRepo) ReleaseAnalysis(ctx context.Context, id string) error {
	delete(f.claims, id)
	return nil
}

func (f *fakeDraftRepo) TTL() time.Duration { return 2 * time.Hour }

type fakeQuotaRepo struct {
	used int
}

func (f *fakeQuotaRepo) Used(ctx context.Context, userID string) (int, error) { return f.used, nil }
func (f *fakeQuotaRepo) Consume(ctx context.Context, userID string) (int, error) {
	f.used++
	return f.used, nil
}

type fakeReportRepo struct {
	created []*models.Report
	err     error
}

func (f *fakeReportRepo) Create(ctx context.Context, report *models.Report) error {
	if f.err != nil {
		return f.err
	}
	report.ID = "r" + string(rune('0'+len(f.created)))
	report.Status = models.StatusOpen
	copied := *report
	f.created = append(f.created, &copied)
	return nil
}

type fakeUserRepo struct {
	user         *models.User
	increments   int
	incrementErr error
	auditEntries int
}

func (f *fakeUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	return f.user, nil
}

func (f *fakeUserRepo) IncrementReportsCount(ctx context.Context, id string, ts time.Time) error {
	if f.incrementErr != nil {
		return f.incrementErr
	}
	f.increments++
	return nil
}

func (f *fakeUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	f.auditEntries++
	return nil
}

type fakeStorage struct {
	files map[string][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{files: make(map[string][]byte)}
}

func (f *fakeStorage) SaveStream(filename string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.files[filename] = data
	return filename, nil
}

func (f *fakeStorage) OpenReader(filename string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.files[filename])), nil
}

type fakeClassifier struct {
	result *models.Classification
	err    error
	calls  int
}

func (f *fakeClassifier) Analyze(ctx context.Context, image io.Reader, filename string, lat, lng *float64, userID string) (*models.Classification, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeGeocoder struct {
	address *string
}

func (f *fakeGeocoder) Reverse(ctx context.Context, lat, lng float64) *string { return f.address }

type fakePublisher struct {
	events []models.ReportEvent
}

func (f *fakePublisher) Publish(ctx context.Context, event models.ReportEvent) error {
	f.events = append(f.events, event)
	return nil
}

type submissionFixture struct {
	svc        *SubmissionService
	drafts     *fakeDraftRepo
	quota      *fakeQuotaRepo
	reports    *fakeReportRepo
	users      *fakeUserRepo
	storage    *fakeStorage
	classifier *fakeClassifier
	publisher  *fakePublisher
}

func newSubmissionFixture(t *testing.T) *submissionFixture {
	t.Helper()
	f := &submissionFixture{
		drafts:     newFakeDraftRepo(),
		quota:      &fakeQuotaRepo{},
		reports:    &fakeReportRepo{},
		users:      &fakeUserRepo{user: &models.User{ID: "u1", FullName: "Citizen", Email: "citizen@example.com"}},
		storage:    newFakeStorage(),
		classifier: &fakeClassifier{result: &models.Classification{IssueDetected: true, Type: models.IssuePothole, SeverityScore: 8, DangerReason: "deep", RecommendedAction: models.ActionImmediateDispatch}},
		publisher:  &fakePublisher{},
	}
	f.svc = NewSubmissionService(
		f.drafts, f.quota, f.reports, f.users, f.storage,
		f.classifier, &fakeGeocoder{}, f.publisher,
		nil, NewMetricsService(), validator.New(), zap.NewNop(),
		config.ClassifierConfig{BaseURL: "http://analyzer", DailyLimit: 5},
		config.UploadsConfig{MaxFileSizeBytes: 5 << 20, AllowedMIMEs: []string{"image/jpeg", "image/png"}},
	)
	return f
}

func f64(v float64) *float64 { return &v }

func (f *submissionFixture) readyDraft(t *testing.T) *models.Draft {
	t.Helper()
	ctx := context.Background()
	draft, err := f.svc.CreateDraft(ctx, "u1", strings.NewReader("jpegdata"), "pothole.jpg", "image/jpeg", 8)
	require.NoError(t, err)
	draft, err = f.svc.AttachLocation(ctx, "u1", draft.ID, dto.LocationRequest{Latitude: f64(28.6139), Longitude: f64(77.209)})
	require.NoError(t, err)
	return draft
}

func TestSubmissionCreateDraftRejectsBadUpload(t *testing.T) {
	f := newSubmissionFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateDraft(ctx, "u1", strings.NewReader("x"), "clip.mp4", "video/mp4", 1)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = f.svc.CreateDraft(ctx, "u1", strings.NewReader("x"), "big.jpg", "image/jpeg", 50<<20)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSubmissionAttachLocationAcceptsZeroCoordinates(t *testing.T) {
	f := newSubmissionFixture(t)
	ctx := context.Background()

	// Greenwich sits at longitude 0, the equator at latitude 0. Neither
	// may be mistaken for a missing field.
	draft, err := f.svc.CreateDraft(ctx, "u1", strings.NewReader("jpegdata"), "a.jpg", "image/jpeg", 8)
	require.NoError(t, err)
	draft, err = f.svc.AttachLocation(ctx, "u1", draft.ID, dto.LocationRequest{Latitude: f64(51.4779), Longitude: f64(0)})
	require.NoError(t, err)
	assert.Equal(t, models.DraftReady, draft.State)
	require.NotNil(t, draft.Longitude)
	assert.Equal(t, 0.0, *draft.Longitude)

	draft, err = f.svc.CreateDraft(ctx, "u1", strings.NewReader("jpegdata"), "b.jpg", "image/jpeg", 8)
	require.NoError(t, err)
	draft, err = f.svc.AttachLocation(ctx, "u1", draft.ID, dto.LocationRequest{Latitude: f64(0), Longitude: f64(6.7319)})
	require.NoError(t, err)
	require.NotNil(t, draft.Latitude)
	assert.Equal(t, 0.0, *draft.Latitude)
}

func TestSubmissionAttachLocationRejectsMissingOrOutOfRange(t *testing.T) {
	f := newSubmissionFixture(t)
	ctx := context.Background()
	draft, err := f.svc.CreateDraft(ctx, "u1", strings.NewReader("jpegdata"), "a.jpg", "image/jpeg", 8)
	require.NoError(t, err)

	_, err = f.svc.AttachLocation(ctx, "u1", draft.ID, dto.LocationRequest{Latitude: f64(12.9716)})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = f.svc.AttachLocation(ctx, "u1", draft.ID, dto.LocationRequest{Latitude: f64(91), Longitude: f64(0)})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSubmissionHappyPath(t *testing.T) {
	f := newSubmissionFixture(t)
	ctx := context.Background()
	draft := f.readyDraft(t)

	draft, err := f.svc.Analyze(ctx, "u1", draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftSucceeded, draft.State)
	require.NotNil(t, draft.Analysis)
	assert.Equal(t, models.IssuePothole, draft.Analysis.Type)
	assert.Equal(t, 1, f.quota.used)

	report, draft, err := f.svc.Save(ctx, "u1", draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftSaved, draft.State)
	assert.Equal(t, models.StatusOpen, report.Status)
	assert.Equal(t, "Citizen", report.UserName)
	require.Len(t, f.reports.created, 1)
	assert.Equal(t, 1, f.users.increments)
	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, models.EventReportCreated, f.publisher.events[0].Kind)
}

func TestSubmissionDoubleSaveCreatesTwoReports(t *testing.T) {
	f := newSubmissionFixture(t)
	ctx := context.Background()
	draft := f.readyDraft(t)

	draft, err := f.svc.Analyze(ctx, "u1", draft.ID)
	require.NoError(t, err)

	_, _, err = f.svc.Save(ctx, "u1", draft.ID)
	require.NoError(t, err)
	_, _, err = f.svc.Save(ctx, "u1", draft.ID)
	require.NoError(t, err)

	// saving the same verdict twice is not de-duplicated: two rows, two bumps
	assert.Len(t, f.reports.created, 2)
	assert.Equal(t, 2, f.users.increments)
}

func TestSubmissionQuotaMessageSurfacedVerbatim(t *testing.T) {
	f := newSubmissionFixture(t)
	f.classifier.err = appErrors.Clone(appErrors.ErrQuotaExceeded, "Daily report limit reached (5/5).")
	ctx := context.Background()
	draft := f.readyDraft(t)

	_, err := f.svc.Analyze(ctx, "u1", draft.ID)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrQuotaExceeded.Code, appErr.Code)
	assert.Equal(t, "Daily report limit reached (5/5).", appErr.Message)

	stored, getErr := f.svc.GetDraft(ctx, "u1", draft.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.DraftRateLimited, stored.State)
	assert.Equal(t, "Daily report limit reached (5/5).", stored.QuotaMessage)
	assert.Empty(t, f.reports.created)
}

func TestSubmissionLocalQuotaBlocksBeforeCall(t *testing.T) {
	f := newSubmissionFixture(t)
	f.quota.used = 5
	ctx := context.Background()
	draft := f.readyDraft(t)

	_, err := f.svc.Analyze(ctx, "u1", draft.ID)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrQuotaExceeded.Code, appErr.Code)
	assert.Equal(t, "Daily report limit reached (5/5).", appErr.Message)
	assert.Equal(t, 0, f.classifier.calls)
}

func TestSubmissionAnalysisFailureHasNoSyntheticResult(t *testing.T) {
	f := newSubmissionFixture(t)
	f.classifier.err = appErrors.Clone(appErrors.ErrAnalysisFailed, "image analysis failed")
	ctx := context.Background()
	draft := f.readyDraft(t)

	_, err := f.svc.Analyze(ctx, "u1", draft.ID)
	require.Error(t, err)

	stored, getErr := f.svc.GetDraft(ctx, "u1", draft.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.DraftFailed, stored.State)
	assert.Nil(t, stored.Analysis)
	assert.Empty(t, f.reports.created)

	// the user may retry from ready
	retried, err := f.svc.Retry(ctx, "u1", draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftReady, retried.State)
}

func TestSubmissionAnalyzeBlockedWhileInFlight(t *testing.T) {
	f := newSubmissionFixture(t)
	ctx := context.Background()
	draft := f.readyDraft(t)

	draft.State = models.DraftAnalyzing
	require.NoError(t, f.drafts.Save(ctx, draft))

	_, err := f.svc.Analyze(ctx, "u1", draft.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestSubmissionAnalyzeClaimGatesConcurrentCalls(t *testing.T) {
	f := newSubmissionFixture(t)
	ctx := context.Background()
	draft := f.readyDraft(t)

	// A second request holding the claim means the first has passed the
	// state check but not yet persisted the analyzing transition.
	claimed, err := f.drafts.ClaimAnalysis(ctx, draft.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = f.svc.Analyze(ctx, "u1", draft.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, f.classifier.calls)

	require.NoError(t, f.drafts.ReleaseAnalysis(ctx, draft.ID))
	analyzed, err := f.svc.Analyze(ctx, "u1", draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftSucceeded, analyzed.State)
	assert.Empty(t, f.drafts.claims)
}

func TestSubmissionAnalyzeRequiresSettledLocation(t *testing.T) {
	f := newSubmissionFixture(t)
	ctx := context.Background()
	draft, err := f.svc.CreateDraft(ctx, "u1", strings.NewReader("jpegdata"), "a.jpg", "image/jpeg", 8)
	require.NoError(t, err)

	_, err = f.svc.Analyze(ctx, "u1", draft.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestSubmissionLocationFailureProceedsWithoutCoordinates(t *testing.T) {
	f := newSubmissionFixture(t)
	ctx := context.Background()
	draft, err := f.svc.CreateDraft(ctx, "u1", strings.NewReader("jpegdata"), "a.jpg", "image/jpeg", 8)
	require.NoError(t, err)

	draft, err = f.svc.MarkLocationFailed(ctx, "u1", draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftReady, draft.State)
	assert.True(t, draft.LocationFailed)

	draft, err = f.svc.Analyze(ctx, "u1", draft.ID)
	require.NoError(t, err)

	report, _, err := f.svc.Save(ctx, "u1", draft.ID)
	require.NoError(t, err)

	// no placeholder coordinates are ever substituted
	assert.Nil(t, report.Latitude)
	assert.Nil(t, report.Longitude)
	assert.Nil(t, report.Address)
}

func TestSubmissionSaveRequiresDetectedIssue(t *testing.T) {
	f := newSubmissionFixture(t)
	f.classifier.result = &models.Classification{IssueDetected: false}
	ctx := context.Background()
	draft := f.readyDraft(t)

	draft, err := f.svc.Analyze(ctx, "u1", draft.ID)
	require.NoError(t, err)

	_, _, err = f.svc.Save(ctx, "u1", draft.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.reports.created)
}

func TestSubmissionSaveFailureKeepsResultForRetry(t *testing.T) {
	f := newSubmissionFixture(t)
	ctx := context.Background()
	draft := f.readyDraft(t)

	draft, err := f.svc.Analyze(ctx, "u1", draft.ID)
	require.NoError(t, err)

	f.reports.err = appErrors.ErrInternal
	_, _, err = f.svc.Save(ctx, "u1", draft.ID)
	require.Error(t, err)

	stored, getErr := f.svc.GetDraft(ctx, "u1", draft.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.DraftSucceeded, stored.State)
	assert.NotNil(t, stored.Analysis)

	f.reports.err = nil
	_, _, err = f.svc.Save(ctx, "u1", draft.ID)
	require.NoError(t, err)
	assert.Len(t, f.reports.created, 1)
}

func TestSubmissionIncrementFailureDoesNotRollBackReport(t *testing.T) {
	f := newSubmissionFixture(t)
	f.users.incrementErr = appErrors.ErrInternal
	ctx := context.Background()
	draft := f.readyDraft(t)

	draft, err := f.svc.Analyze(ctx, "u1", draft.ID)
	require.NoError(t, err)

	report, draft, err := f.svc.Save(ctx, "u1", draft.ID)
	require.NoError(t, err)
	assert.NotNil(t, report)
	assert.Equal(t, models.DraftSaved, draft.State)
	assert.Len(t, f.reports.created, 1)
	assert.Equal(t, 0, f.users.increments)
}

func TestSubmissionDraftOwnership(t *testing.T) {
	f := newSubmissionFixture(t)
	ctx := context.Background()
	draft := f.readyDraft(t)

	_, err := f.svc.GetDraft(ctx, "intruder", draft.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
