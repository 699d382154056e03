package dto

import (
	"time"

	"github.com/civicfix/civicfix-api/internal/models"
)

// LocationRequest carries device coordinates for a draft. The coordinates
// are pointers so an absent field is distinguishable from a legitimate 0,
// which sits on the equator and the prime meridian.
type LocationRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,min=-90,max=90"`
	Longitude *float64 `json:"longitude" validate:"required,min=-180,max=180"`
	Accuracy  *float64 `json:"accuracy"`
}

// DraftResponse mirrors the server-side submission state exposed to clients.
type DraftResponse struct {
	ID             string                 `json:"id"`
	State          models.DraftState      `json:"state"`
	ImageURL       string                 `json:"imageUrl"`
	Latitude       *float64               `json:"latitude,omitempty"`
	Longitude      *float64               `json:"longitude,omitempty"`
	Address        *string                `json:"address,omitempty"`
	LocationFailed bool                   `json:"locationFailed"`
	Result         *models.Classification `json:"result,omitempty"`
	FailureReason  string                 `json:"failureReason,omitempty"`
	QuotaMessage   string                 `json:"quotaMessage,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
	ExpiresAt      time.Time              `json:"expiresAt"`
}

// AnalyzeResponse is returned by the classify operation.
type AnalyzeResponse struct {
	Draft  DraftResponse          `json:"draft"`
	Result *models.Classification `json:"result,omitempty"`
}

// SaveResponse returns the created report identifier.
type SaveResponse struct {
	ReportID string            `json:"reportId"`
	State    models.DraftState `json:"state"`
}

// StatusUpdateRequest changes a report status from the admin dashboard.
type StatusUpdateRequest struct {
	Status models.ReportStatus `json:"status" validate:"required"`
}

// ReportListFilter captures admin list query parameters.
type ReportListFilter struct {
	Status      string
	Type        string
	Search      string
	MinSeverity *int
	Sort        string
	Limit       int
}

// ReportResponse is the wire shape for a stored report.
type ReportResponse struct {
	ID                string                   `json:"id"`
	UserID            string                   `json:"userId"`
	UserName          string                   `json:"userName"`
	UserEmail         string                   `json:"userEmail"`
	Type              models.IssueType         `json:"type"`
	SeverityScore     int                      `json:"severityScore"`
	SeverityBucket    models.SeverityBucket    `json:"severityBucket"`
	DangerReason      string                   `json:"dangerReason"`
	RecommendedAction models.RecommendedAction `json:"recommendedAction"`
	Status            models.ReportStatus      `json:"status"`
	ImageURL          string                   `json:"imageUrl"`
	Latitude          *float64                 `json:"latitude,omitempty"`
	Longitude         *float64                 `json:"longitude,omitempty"`
	Address           *string                  `json:"address,omitempty"`
	CreatedAt         time.Time                `json:"createdAt"`
	UpdatedAt         time.Time                `json:"updatedAt"`
}

// NewReportResponse derives the wire shape from a stored report.
func NewReportResponse(r *models.Report) ReportResponse {
	return ReportResponse{
		ID:                r.ID,
		UserID:            r.UserID,
		UserName:          r.UserName,
		UserEmail:         r.UserEmail,
		Type:              r.Type,
		SeverityScore:     r.SeverityScore,
		SeverityBucket:    models.BucketForScore(r.SeverityScore),
		DangerReason:      r.DangerReason,
		RecommendedAction: r.RecommendedAction,
		Status:            r.Status,
		ImageURL:          "/uploads/" + r.ImagePath,
		Latitude:          r.Latitude,
		Longitude:         r.Longitude,
		Address:           r.Address,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}
