package models

import "time"

// ReportEventKind enumerates live stream event types.
type ReportEventKind string

const (
	EventReportCreated ReportEventKind = "report.created"
	EventReportUpdated ReportEventKind = "report.updated"
	EventReportDeleted ReportEventKind = "report.deleted"
)

// ReportEvent is published to connected triage dashboards whenever the
// report collection changes.
type ReportEvent struct {
	Kind       ReportEventKind `json:"kind"`
	ReportID   string          `json:"report_id"`
	Report     *Report         `json:"report,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}
