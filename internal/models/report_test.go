package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBucketForScoreBoundaries(t *testing.T) {
	cases := []struct {
		score int
		want  SeverityBucket
	}{
		{0, SeverityLow},
		{3, SeverityLow},
		{4, SeverityMedium},
		{6, SeverityMedium},
		{7, SeverityHigh},
		{10, SeverityHigh},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, BucketForScore(tc.score), "score %d", tc.score)
	}
}

func TestValidReportStatus(t *testing.T) {
	for _, status := range ReportStatuses {
		assert.True(t, ValidReportStatus(status))
	}
	assert.False(t, ValidReportStatus("CLOSED"))
	assert.False(t, ValidReportStatus(""))
}

func TestValidIssueType(t *testing.T) {
	for _, it := range []IssueType{IssuePothole, IssueGarbage, IssueStreetlight, IssueWaterlogging, IssueOther} {
		assert.True(t, ValidIssueType(it))
	}
	assert.False(t, ValidIssueType("None"))
	assert.False(t, ValidIssueType("Selfie"))
}

func TestDraftTransitions(t *testing.T) {
	assert.True(t, CanTransition(DraftImageSelected, DraftLocating))
	assert.True(t, CanTransition(DraftImageSelected, DraftReady))
	assert.True(t, CanTransition(DraftLocating, DraftReady))
	assert.True(t, CanTransition(DraftReady, DraftAnalyzing))
	assert.True(t, CanTransition(DraftAnalyzing, DraftSucceeded))
	assert.True(t, CanTransition(DraftAnalyzing, DraftRateLimited))
	assert.True(t, CanTransition(DraftFailed, DraftReady))
	assert.True(t, CanTransition(DraftSucceeded, DraftSaving))
	assert.True(t, CanTransition(DraftSaving, DraftSaved))

	// a second save of the same result is allowed
	assert.True(t, CanTransition(DraftSaved, DraftSaving))

	// a draft cannot skip the pipeline
	assert.False(t, CanTransition(DraftImageSelected, DraftAnalyzing))
	assert.False(t, CanTransition(DraftReady, DraftSaved))
	assert.False(t, CanTransition(DraftRateLimited, DraftAnalyzing))
}

func TestDraftLocationSettled(t *testing.T) {
	draft := &Draft{}
	assert.False(t, draft.LocationSettled())

	lat, lng := 28.6139, 77.209
	draft.Latitude = &lat
	draft.Longitude = &lng
	assert.True(t, draft.LocationSettled())

	denied := &Draft{LocationFailed: true}
	assert.True(t, denied.LocationSettled())
}
