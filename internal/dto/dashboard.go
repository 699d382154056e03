package dto

// SeverityBreakdown groups reports into triage buckets.
type SeverityBreakdown struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// StatusBreakdown counts reports per lifecycle status.
type StatusBreakdown struct {
	Open       int `json:"open"`
	InProgress int `json:"inProgress"`
	Resolved   int `json:"resolved"`
	Rejected   int `json:"rejected"`
}

// DashboardStatsResponse aggregates the admin overview numbers.
type DashboardStatsResponse struct {
	TotalReports      int               `json:"totalReports"`
	TodayReports      int               `json:"todayReports"`
	TotalUsers        int               `json:"totalUsers"`
	ReportsByType     map[string]int    `json:"reportsByType"`
	ReportsBySeverity SeverityBreakdown `json:"reportsBySeverity"`
	ReportsByStatus   StatusBreakdown   `json:"reportsByStatus"`
	AvgSeverityScore  float64           `json:"avgSeverityScore"`
}

// UserStatsResponse summarises one citizen's activity.
type UserStatsResponse struct {
	ReportsCount int             `json:"reportsCount"`
	ByStatus     StatusBreakdown `json:"byStatus"`
}
