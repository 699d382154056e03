package models

// Classification is the structured verdict returned by the external
// image-analysis endpoint.
type Classification struct {
	IssueDetected     bool              `json:"issue_detected"`
	Type              IssueType         `json:"type"`
	SeverityScore     int               `json:"severity_score"`
	DangerReason      string            `json:"danger_reason"`
	RecommendedAction RecommendedAction `json:"recommended_action"`
}
