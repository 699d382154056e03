package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civicfix/civicfix-api/internal/dto"
	"github.com/civicfix/civicfix-api/internal/models"
	"github.com/civicfix/civicfix-api/pkg/config"
	appErrors "github.com/civicfix/civicfix-api/pkg/errors"
)

type draftRepository interface {
	Get(ctx context.Context, id string) (*models.Draft, error)
	Save(ctx context.Context, draft *models.Draft) error
	Delete(ctx context.Context, id string) error
	ClaimAnalysis(ctx context.Context, id string) (bool, error)
	ReleaseAnalysis(ctx context.Context, id string) error
	TTL() time.Duration
}

type quotaRepository interface {
	Used(ctx context.Context, userID string) (int, error)
	Consume(ctx context.Context, userID string) (int, error)
}

type submissionReportRepository interface {
	Create(ctx context.Context, report *models.Report) error
}

type submissionUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	IncrementReportsCount(ctx context.Context, id string, ts time.Time) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type imageStorage interface {
	SaveStream(filename string, r io.Reader) (string, error)
	OpenReader(filename string) (io.ReadCloser, error)
}

type eventPublisher interface {
	Publish(ctx context.Context, event models.ReportEvent) error
}

type classifier interface {
	Analyze(ctx context.Context, image io.Reader, filename string, lat, lng *float64, userID string) (*models.Classification, error)
}

type geocoder interface {
	Reverse(ctx context.Context, lat, lng float64) *string
}

// SubmissionService drives a draft from image intake through classification
// to a persisted report.
type SubmissionService struct {
	drafts     draftRepository
	quota      quotaRepository
	reports    submissionReportRepository
	users      submissionUserRepository
	storage    imageStorage
	classifier classifier
	geocoder   geocoder
	events     eventPublisher
	cache      *CacheService
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	cfg        config.ClassifierConfig
	uploads    config.UploadsConfig
}

// NewSubmissionService constructs the intake pipeline service.
func NewSubmissionService(
	drafts draftRepository,
	quota quotaRepository,
	reports submissionReportRepository,
	users submissionUserRepository,
	storage imageStorage,
	classifierClient classifier,
	geocoderClient geocoder,
	events eventPublisher,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg config.ClassifierConfig,
	uploads config.UploadsConfig,
) *SubmissionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &SubmissionService{
		drafts:     drafts,
		quota:      quota,
		reports:    reports,
		users:      users,
		storage:    storage,
		classifier: classifierClient,
		geocoder:   geocoderClient,
		events:     events,
		cache:      cache,
		metrics:    metrics,
		validator:  validate,
		logger:     logger,
		cfg:        cfg,
		uploads:    uploads,
	}
}

// CreateDraft accepts an uploaded image and opens a new submission draft.
func (s *SubmissionService) CreateDraft(ctx context.Context, userID string, image io.Reader, filename, mimeType string, size int64) (*models.Draft, error) {
	if size <= 0 || size > s.uploads.MaxFileSizeBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("image must be between 1 byte and %d bytes", s.uploads.MaxFileSizeBytes))
	}
	if !s.mimeAllowed(mimeType) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported image type")
	}

	draftID := uuid.NewString()
	storedName := draftID + extensionForMIME(mimeType, filename)
	if _, err := s.storage.SaveStream(storedName, io.LimitReader(image, s.uploads.MaxFileSizeBytes)); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store image")
	}

	draft := &models.Draft{
		ID:        draftID,
		UserID:    userID,
		State:     models.DraftImageSelected,
		ImagePath: storedName,
		ImageMIME: mimeType,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.drafts.Save(ctx, draft); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist draft")
	}
	return draft, nil
}

// GetDraft loads a draft owned by the user.
func (s *SubmissionService) GetDraft(ctx context.Context, userID, draftID string) (*models.Draft, error) {
	draft, err := s.drafts.Get(ctx, draftID)
	if err != nil {
		return nil, err
	}
	if draft.UserID != userID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "draft belongs to another user")
	}
	return draft, nil
}

// AttachLocation records device coordinates on the draft and resolves a
// best-effort display address. The draft becomes ready for analysis.
func (s *SubmissionService) AttachLocation(ctx context.Context, userID, draftID string, req dto.LocationRequest) (*models.Draft, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid location payload")
	}

	draft, err := s.GetDraft(ctx, userID, draftID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(draft.State, models.DraftLocating) && draft.State != models.DraftLocating {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("cannot attach location in state %s", draft.State))
	}

	draft.Latitude = req.Latitude
	draft.Longitude = req.Longitude
	draft.Accuracy = req.Accuracy
	draft.LocationFailed = false
	if s.geocoder != nil {
		draft.Address = s.geocoder.Reverse(ctx, *req.Latitude, *req.Longitude)
	}
	draft.State = models.DraftReady

	if err := s.drafts.Save(ctx, draft); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist draft")
	}
	return draft, nil
}

// MarkLocationFailed records that the device could not produce a position.
// The submission proceeds without coordinates; no placeholder location is
// ever substituted.
func (s *SubmissionService) MarkLocationFailed(ctx context.Context, userID, draftID string) (*models.Draft, error) {
	draft, err := s.GetDraft(ctx, userID, draftID)
	if err != nil {
		return nil, err
	}
	switch draft.State {
	case models.DraftImageSelected, models.DraftLocating, models.DraftReady:
	default:
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("cannot acknowledge location failure in state %s", draft.State))
	}

	draft.Latitude = nil
	draft.Longitude = nil
	draft.Accuracy = nil
	draft.Address = nil
	draft.LocationFailed = true
	draft.State = models.DraftReady

	if err := s.drafts.Save(ctx, draft); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist draft")
	}
	return draft, nil
}

// Analyze sends the draft image to the classification endpoint. Only one
// analysis may be in flight per draft, the location attempt must have
// settled first, and the daily quota is checked before the call goes out.
func (s *SubmissionService) Analyze(ctx context.Context, userID, draftID string) (*models.Draft, error) {
	draft, err := s.GetDraft(ctx, userID, draftID)
	if err != nil {
		return nil, err
	}

	if draft.State == models.DraftAnalyzing {
		return nil, appErrors.Clone(appErrors.ErrConflict, "analysis already in progress for this draft")
	}
	if !draft.LocationSettled() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "location lookup has not completed")
	}
	if !models.CanTransition(draft.State, models.DraftAnalyzing) {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("cannot analyze in state %s", draft.State))
	}

	// The state check above reads a snapshot, so two racing calls could
	// both pass it. The Redis claim is the atomic gate.
	claimed, err := s.drafts.ClaimAnalysis(ctx, draft.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve analysis slot")
	}
	if !claimed {
		return nil, appErrors.Clone(appErrors.ErrConflict, "analysis already in progress for this draft")
	}
	defer func() {
		if err := s.drafts.ReleaseAnalysis(ctx, draft.ID); err != nil {
			s.logger.Warn("failed to release analysis claim", zap.String("draft_id", draft.ID), zap.Error(err))
		}
	}()

	limit := s.cfg.DailyLimit
	if limit > 0 {
		used, err := s.quota.Used(ctx, userID)
		if err != nil {
			s.logger.Warn("quota lookup failed", zap.Error(err))
		} else if used >= limit {
			return nil, s.rateLimit(ctx, draft, fmt.Sprintf("Daily report limit reached (%d/%d).", limit, limit))
		}
	}

	draft.State = models.DraftAnalyzing
	draft.Analysis = nil
	draft.FailureReason = ""
	draft.QuotaMessage = ""
	if err := s.drafts.Save(ctx, draft); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist draft")
	}

	image, err := s.storage.OpenReader(draft.ImagePath)
	if err != nil {
		s.failAnalysis(ctx, draft, "stored image unavailable")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open stored image")
	}
	defer image.Close()

	result, err := s.classifier.Analyze(ctx, image, draft.ImagePath, draft.Latitude, draft.Longitude, userID)
	if err != nil {
		appErr := appErrors.FromError(err)
		if appErr.Code == appErrors.ErrQuotaExceeded.Code {
			s.metrics.RecordClassification("rate_limited")
			return nil, s.rateLimit(ctx, draft, appErr.Message)
		}
		s.metrics.RecordClassification("failed")
		s.failAnalysis(ctx, draft, appErr.Message)
		return nil, appErr
	}

	if limit > 0 {
		if _, err := s.quota.Consume(ctx, userID); err != nil {
			s.logger.Warn("quota consume failed", zap.Error(err))
		}
	}

	s.metrics.RecordClassification("succeeded")
	draft.State = models.DraftSucceeded
	draft.Analysis = result
	if err := s.drafts.Save(ctx, draft); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist draft")
	}
	return draft, nil
}

// Save persists the classification result as a report. Saving the same
// result again creates another report and bumps the counter again; there is
// no de-duplication by draft. A failed save leaves the draft in succeeded
// so the user can retry, and a counter failure never rolls the report back.
func (s *SubmissionService) Save(ctx context.Context, userID, draftID string) (*models.Report, *models.Draft, error) {
	draft, err := s.GetDraft(ctx, userID, draftID)
	if err != nil {
		return nil, nil, err
	}
	if draft.State != models.DraftSucceeded && draft.State != models.DraftSaved {
		return nil, nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("cannot save in state %s", draft.State))
	}
	if draft.Analysis == nil || !draft.Analysis.IssueDetected {
		return nil, nil, appErrors.Clone(appErrors.ErrConflict, "no reportable issue was detected")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "submitting user no longer exists")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	draft.State = models.DraftSaving
	if err := s.drafts.Save(ctx, draft); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist draft")
	}

	report := &models.Report{
		Type:              draft.Analysis.Type,
		SeverityScore:     draft.Analysis.SeverityScore,
		Status:            models.StatusOpen,
		DangerReason:      draft.Analysis.DangerReason,
		RecommendedAction: draft.Analysis.RecommendedAction,
		Latitude:          draft.Latitude,
		Longitude:         draft.Longitude,
		Address:           draft.Address,
		ImagePath:         draft.ImagePath,
		UserID:            user.ID,
		UserName:          user.FullName,
		UserEmail:         user.Email,
	}

	if err := s.reports.Create(ctx, report); err != nil {
		draft.State = models.DraftSucceeded
		if saveErr := s.drafts.Save(ctx, draft); saveErr != nil {
			s.logger.Warn("failed to restore draft after save failure", zap.Error(saveErr))
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist report")
	}
	s.metrics.RecordReportCreated()

	now := time.Now().UTC()
	if err := s.users.IncrementReportsCount(ctx, user.ID, now); err != nil {
		s.logger.Warn("reports count increment failed", zap.String("user_id", user.ID), zap.Error(err))
	}

	if err := s.users.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionReportCreate,
		Resource:   "reports",
		ResourceID: &report.ID,
		NewValues:  []byte(fmt.Sprintf(`{"type":%q,"severity":%d}`, report.Type, report.SeverityScore)),
	}); err != nil {
		s.logger.Warn("failed to record report audit log", zap.Error(err))
	}

	if s.events != nil {
		if err := s.events.Publish(ctx, models.ReportEvent{
			Kind:       models.EventReportCreated,
			ReportID:   report.ID,
			Report:     report,
			OccurredAt: now,
		}); err != nil {
			s.logger.Warn("failed to publish report event", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, dashboardCachePattern); err != nil {
			s.logger.Warn("failed to invalidate dashboard cache", zap.Error(err))
		}
	}

	draft.State = models.DraftSaved
	if err := s.drafts.Save(ctx, draft); err != nil {
		s.logger.Warn("failed to persist saved draft state", zap.Error(err))
	}

	return report, draft, nil
}

func (s *SubmissionService) rateLimit(ctx context.Context, draft *models.Draft, message string) error {
	draft.State = models.DraftRateLimited
	draft.QuotaMessage = message
	if err := s.drafts.Save(ctx, draft); err != nil {
		s.logger.Warn("failed to persist rate-limited draft", zap.Error(err))
	}
	return appErrors.Clone(appErrors.ErrQuotaExceeded, message)
}

func (s *SubmissionService) failAnalysis(ctx context.Context, draft *models.Draft, reason string) {
	draft.State = models.DraftFailed
	draft.FailureReason = reason
	if err := s.drafts.Save(ctx, draft); err != nil {
		s.logger.Warn("failed to persist failed draft", zap.Error(err))
	}
}

// Retry moves a failed draft back to ready so analysis can run again.
func (s *SubmissionService) Retry(ctx context.Context, userID, draftID string) (*models.Draft, error) {
	draft, err := s.GetDraft(ctx, userID, draftID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(draft.State, models.DraftReady) && draft.State != models.DraftFailed {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("cannot retry in state %s", draft.State))
	}
	draft.State = models.DraftReady
	draft.FailureReason = ""
	if err := s.drafts.Save(ctx, draft); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist draft")
	}
	return draft, nil
}

// DraftResponse shapes a draft for the API.
func (s *SubmissionService) DraftResponse(draft *models.Draft) dto.DraftResponse {
	return dto.DraftResponse{
		ID:             draft.ID,
		State:          draft.State,
		ImageURL:       "/uploads/" + draft.ImagePath,
		Latitude:       draft.Latitude,
		Longitude:      draft.Longitude,
		Address:        draft.Address,
		LocationFailed: draft.LocationFailed,
		Result:         draft.Analysis,
		FailureReason:  draft.FailureReason,
		QuotaMessage:   draft.QuotaMessage,
		CreatedAt:      draft.CreatedAt,
		ExpiresAt:      draft.UpdatedAt.Add(s.drafts.TTL()),
	}
}

func (s *SubmissionService) mimeAllowed(mimeType string) bool {
	for _, allowed := range s.uploads.AllowedMIMEs {
		if allowed == mimeType {
			return true
		}
	}
	return false
}

func extensionForMIME(mimeType, filename string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	}
	if ext := filepath.Ext(filename); ext != "" {
		return ext
	}
	return ".bin"
}
