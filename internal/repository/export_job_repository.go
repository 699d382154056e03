package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/civicfix/civicfix-api/internal/models"
)

const exportJobColumns = `id, params, status, progress, result_url, created_by, created_at, finished_at, error_message`

// ExportJobRepository provides database access for background export jobs.
type ExportJobRepository struct {
	db *sqlx.DB
}

// NewExportJobRepository creates a new instance of ExportJobRepository.
func NewExportJobRepository(db *sqlx.DB) *ExportJobRepository {
	return &ExportJobRepository{db: db}
}

// Create inserts a queued export job.
func (r *ExportJobRepository) Create(ctx context.Context, job *models.ExportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.Status == "" {
		job.Status = models.ExportStatusQueued
	}
	const query = `INSERT INTO export_jobs (id, params, status, progress, result_url, created_by, created_at, finished_at, error_message) VALUES (:id, :params, :status, :progress, :result_url, :created_by, :created_at, :finished_at, :error_message)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create export job: %w", err)
	}
	return nil
}

// GetByID returns an export job by identifier.
func (r *ExportJobRepository) GetByID(ctx context.Context, id string) (*models.ExportJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM export_jobs WHERE id = $1 LIMIT 1`, exportJobColumns)
	var job models.ExportJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get export job: %w", err)
	}
	return &job, nil
}

// Update persists job progress and outcome fields.
func (r *ExportJobRepository) Update(ctx context.Context, job *models.ExportJob) error {
	const query = `UPDATE export_jobs SET status = :status, progress = :progress, result_url = :result_url, finished_at = :finished_at, error_message = :error_message WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("update export job: %w", err)
	}
	return nil
}

// ListPending returns jobs that never finished, used to requeue work after
// a restart.
func (r *ExportJobRepository) ListPending(ctx context.Context) ([]models.ExportJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM export_jobs WHERE status IN ($1, $2) ORDER BY created_at ASC`, exportJobColumns)
	var jobs []models.ExportJob
	if err := r.db.SelectContext(ctx, &jobs, query, models.ExportStatusQueued, models.ExportStatusProcessing); err != nil {
		return nil, fmt.Errorf("list pending export jobs: %w", err)
	}
	return jobs, nil
}

// ListFinishedBefore returns finished jobs older than the cutoff, whose
// artifacts are due for cleanup.
func (r *ExportJobRepository) ListFinishedBefore(ctx context.Context, cutoff time.Time) ([]models.ExportJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM export_jobs WHERE status = $1 AND finished_at < $2`, exportJobColumns)
	var jobs []models.ExportJob
	if err := r.db.SelectContext(ctx, &jobs, query, models.ExportStatusFinished, cutoff); err != nil {
		return nil, fmt.Errorf("list finished export jobs: %w", err)
	}
	return jobs, nil
}
