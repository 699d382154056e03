package models

import "time"

// IssueType enumerates the closed set of civic issue categories.
type IssueType string

const (
	IssuePothole      IssueType = "Pothole"
	IssueGarbage      IssueType = "Garbage"
	IssueStreetlight  IssueType = "Streetlight"
	IssueWaterlogging IssueType = "Waterlogging"
	IssueOther        IssueType = "Other"
)

// ValidIssueType reports whether the value is a storable issue category.
func ValidIssueType(t IssueType) bool {
	switch t {
	case IssuePothole, IssueGarbage, IssueStreetlight, IssueWaterlogging, IssueOther:
		return true
	}
	return false
}

// ReportStatus captures the triage lifecycle of a report. Transitions are
// admin-triggered only and unordered: any state may move to any other,
// including re-opening RESOLVED or REJECTED reports.
type ReportStatus string

const (
	StatusOpen       ReportStatus = "OPEN"
	StatusInProgress ReportStatus = "IN_PROGRESS"
	StatusResolved   ReportStatus = "RESOLVED"
	StatusRejected   ReportStatus = "REJECTED"
)

// ReportStatuses lists every triage state.
var ReportStatuses = []ReportStatus{StatusOpen, StatusInProgress, StatusResolved, StatusRejected}

// ValidReportStatus reports whether the value is a known triage state.
func ValidReportStatus(s ReportStatus) bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusRejected:
		return true
	}
	return false
}

// RecommendedAction enumerates classifier dispatch recommendations.
type RecommendedAction string

const (
	ActionImmediateDispatch RecommendedAction = "Immediate Dispatch"
	ActionScheduleRepair    RecommendedAction = "Schedule Repair"
	ActionIgnore            RecommendedAction = "Ignore"
)

// SeverityBucket groups severity scores for dashboards and filters.
type SeverityBucket string

const (
	SeverityLow    SeverityBucket = "low"
	SeverityMedium SeverityBucket = "medium"
	SeverityHigh   SeverityBucket = "high"
)

// BucketForScore maps a severity score to its bucket: high for 7-10,
// medium for 4-6, low for 0-3.
func BucketForScore(score int) SeverityBucket {
	switch {
	case score >= 7:
		return SeverityHigh
	case score >= 4:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Report is a classified citizen submission stored in the reports table.
// Everything except Status and UpdatedAt is immutable after creation.
type Report struct {
	ID                string            `db:"id" json:"id"`
	Type              IssueType         `db:"type" json:"type"`
	SeverityScore     int               `db:"severity_score" json:"severity_score"`
	Status            ReportStatus      `db:"status" json:"status"`
	DangerReason      string            `db:"danger_reason" json:"danger_reason"`
	RecommendedAction RecommendedAction `db:"recommended_action" json:"recommended_action"`
	Latitude          *float64          `db:"latitude" json:"latitude,omitempty"`
	Longitude         *float64          `db:"longitude" json:"longitude,omitempty"`
	Address           *string           `db:"address" json:"address,omitempty"`
	ImagePath         string            `db:"image_path" json:"image_path"`
	UserID            string            `db:"user_id" json:"user_id"`
	UserName          string            `db:"user_name" json:"user_name"`
	UserEmail         string            `db:"user_email" json:"user_email"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updated_at"`
}

// SeverityBucket returns the bucket for the report's score.
func (r *Report) SeverityBucket() SeverityBucket {
	return BucketForScore(r.SeverityScore)
}

// ReportSort enumerates supported list orderings.
type ReportSort string

const (
	SortNewest       ReportSort = "newest"
	SortOldest       ReportSort = "oldest"
	SortSeverityDesc ReportSort = "severity"
)

// ReportFilter captures triage list criteria. Limit is a safety cap on the
// result set, not a page.
type ReportFilter struct {
	Status      *ReportStatus
	Type        *IssueType
	UserID      string
	Search      string
	MinSeverity *int
	Sort        ReportSort
	Limit       int
}

// ReportAggregate is the whole-table rollup behind the admin dashboard.
// It is computed in SQL so the numbers stay exact regardless of how many
// rows the reports table holds.
type ReportAggregate struct {
	Total       int
	Today       int
	AvgSeverity float64
	ByStatus    map[ReportStatus]int
	BySeverity  map[SeverityBucket]int
	ByType      map[string]int
}
