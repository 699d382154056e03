package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicfix/civicfix-api/internal/dto"
	"github.com/civicfix/civicfix-api/internal/models"
	appErrors "github.com/civicfix/civicfix-api/pkg/errors"
	"github.com/civicfix/civicfix-api/pkg/jobs"
	"github.com/civicfix/civicfix-api/pkg/storage"
)

type fakeExportJobStore struct {
	jobs map[string]*models.ExportJob
}

func newFakeExportJobStore() *fakeExportJobStore {
	return &fakeExportJobStore{jobs: make(map[string]*models.ExportJob)}
}

func (f *fakeExportJobStore) Create(ctx context.Context, job *models.ExportJob) error {
	if job.ID == "" {
		job.ID = "job1"
	}
	job.CreatedAt = time.Now().UTC()
	copied := *job
	f.jobs[job.ID] = &copied
	return nil
}

func (f *fakeExportJobStore) GetByID(ctx context.Context, id string) (*models.ExportJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, appErrors.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (f *fakeExportJobStore) Update(ctx context.Context, job *models.ExportJob) error {
	copied := *job
	f.jobs[job.ID] = &copied
	return nil
}

func (f *fakeExportJobStore) ListPending(ctx context.Context) ([]models.ExportJob, error) {
	var out []models.ExportJob
	for _, job := range f.jobs {
		if job.Status == models.ExportStatusQueued || job.Status == models.ExportStatusProcessing {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (f *fakeExportJobStore) ListFinishedBefore(ctx context.Context, cutoff time.Time) ([]models.ExportJob, error) {
	return nil, nil
}

type fakeQueue struct {
	enqueued []jobs.Job
}

func (f *fakeQueue) Enqueue(job jobs.Job) error {
	f.enqueued = append(f.enqueued, job)
	return nil
}

func newTestExporter(t *testing.T, reports []models.Report) *ExportService {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("export-secret", time.Hour)
	repo := newFakeTriageRepo()
	repo.listResult = reports
	return NewExportService(repo, store, signer, ExportConfig{APIPrefix: "/api/v1"}, zap.NewNop(), nil, nil)
}

func TestExportGenerateCSV(t *testing.T) {
	addr := "MG Road"
	exporter := newTestExporter(t, []models.Report{
		{ID: "r1", Type: models.IssuePothole, SeverityScore: 8, Status: models.StatusOpen, RecommendedAction: models.ActionImmediateDispatch, UserName: "Citizen", UserEmail: "c@example.com", Address: &addr, CreatedAt: time.Now()},
	})

	job := &models.ExportJob{ID: "job1", Params: models.ExportJobParams{Format: models.ExportFormatCSV}}
	result, err := exporter.Generate(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.URL, "/api/v1/export/"))

	file, err := exporter.Open(result.RelativePath)
	require.NoError(t, err)
	defer file.Close()

	buf := make([]byte, 4096)
	n, _ := file.Read(buf)
	content := string(buf[:n])
	assert.Contains(t, content, "Pothole")
	assert.Contains(t, content, "MG Road")
	assert.Contains(t, content, "high")
}

func TestExportWorkerLifecycle(t *testing.T) {
	exporter := newTestExporter(t, []models.Report{
		{ID: "r1", Type: models.IssueGarbage, SeverityScore: 3, Status: models.StatusOpen, CreatedAt: time.Now()},
	})
	store := newFakeExportJobStore()
	job := &models.ExportJob{Params: models.ExportJobParams{Format: models.ExportFormatCSV}, Status: models.ExportStatusQueued, CreatedBy: "admin1"}
	require.NoError(t, store.Create(context.Background(), job))

	worker := NewExportWorker(store, exporter, 3, zap.NewNop())
	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: job.ID, Attempt: 1}))

	stored, err := store.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFinished, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	require.NotNil(t, stored.ResultURL)
	assert.NotNil(t, stored.FinishedAt)
}

func TestExportJobServiceCreateAndResolve(t *testing.T) {
	exporter := newTestExporter(t, []models.Report{
		{ID: "r1", Type: models.IssuePothole, SeverityScore: 9, Status: models.StatusOpen, CreatedAt: time.Now()},
	})
	store := newFakeExportJobStore()
	queue := &fakeQueue{}
	svc := NewExportJobService(store, queue, exporter, &fakeAuditRepo{}, validator.New(), zap.NewNop(), ExportJobConfig{})

	resp, err := svc.CreateJob(context.Background(), dto.ExportRequest{Format: models.ExportFormatCSV, Status: "OPEN"}, "admin1")
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusQueued, resp.Status)
	require.Len(t, queue.enqueued, 1)

	worker := NewExportWorker(store, exporter, 3, zap.NewNop())
	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: resp.JobID, Attempt: 1}))

	status, err := svc.GetStatus(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFinished, status.Status)
	require.NotEmpty(t, status.DownloadURL)

	token := status.DownloadURL[strings.LastIndex(status.DownloadURL, "/")+1:]
	download, err := svc.ResolveDownload(context.Background(), token)
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, models.ExportFormatCSV, download.Format)
}

func TestExportJobServiceRejectsBadFilter(t *testing.T) {
	exporter := newTestExporter(t, nil)
	svc := NewExportJobService(newFakeExportJobStore(), &fakeQueue{}, exporter, nil, validator.New(), zap.NewNop(), ExportJobConfig{})

	_, err := svc.CreateJob(context.Background(), dto.ExportRequest{Format: "xlsx"}, "admin1")
	require.Error(t, err)

	_, err = svc.CreateJob(context.Background(), dto.ExportRequest{Format: models.ExportFormatCSV, Status: "BOGUS"}, "admin1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
