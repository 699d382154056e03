package dto

import (
	"time"

	"github.com/civicfix/civicfix-api/internal/models"
)

// ExportRequest asks for a report export in the given format, optionally
// narrowed by the same filters the admin list accepts.
type ExportRequest struct {
	Format      models.ExportFormat `json:"format" validate:"required,oneof=csv pdf"`
	Status      string              `json:"status"`
	Type        string              `json:"type"`
	Search      string              `json:"search"`
	MinSeverity *int                `json:"minSeverity"`
	Sort        string              `json:"sort"`
}

// ExportJobResponse acknowledges an accepted export job.
type ExportJobResponse struct {
	JobID  string              `json:"jobId"`
	Status models.ExportStatus `json:"status"`
}

// ExportStatusResponse reports job progress and, once finished, the
// signed download link.
type ExportStatusResponse struct {
	JobID       string              `json:"jobId"`
	Status      models.ExportStatus `json:"status"`
	Format      models.ExportFormat `json:"format"`
	DownloadURL string              `json:"downloadUrl,omitempty"`
	Error       string              `json:"error,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	FinishedAt  *time.Time          `json:"finishedAt,omitempty"`
}
