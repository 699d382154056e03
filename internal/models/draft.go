package models

import "time"

// DraftState tracks a submission draft through the intake pipeline.
type DraftState string

const (
	DraftImageSelected DraftState = "image_selected"
	DraftLocating      DraftState = "locating"
	DraftReady         DraftState = "ready"
	DraftAnalyzing     DraftState = "analyzing"
	DraftSucceeded     DraftState = "succeeded"
	DraftFailed        DraftState = "failed"
	DraftRateLimited   DraftState = "rate_limited"
	DraftSaving        DraftState = "saving"
	DraftSaved         DraftState = "saved"
)

// draftTransitions lists the legal state machine edges. A retry after a
// failed analysis goes back through ready; rate_limited is terminal for the
// draft; saved drafts may be saved again (deliberately not de-duplicated).
var draftTransitions = map[DraftState][]DraftState{
	DraftImageSelected: {DraftLocating, DraftReady},
	DraftLocating:      {DraftReady},
	DraftReady:         {DraftAnalyzing, DraftLocating},
	DraftAnalyzing:     {DraftSucceeded, DraftFailed, DraftRateLimited},
	DraftFailed:        {DraftReady},
	DraftSucceeded:     {DraftSaving},
	DraftSaving:        {DraftSaved, DraftSucceeded},
	DraftSaved:         {DraftSaving},
}

// CanTransition reports whether the draft state machine allows from -> to.
func CanTransition(from, to DraftState) bool {
	for _, next := range draftTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Draft is the server-side submission in progress, persisted in Redis with a
// TTL so abandoned drafts expire on their own.
type Draft struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	State          DraftState      `json:"state"`
	ImagePath      string          `json:"image_path"`
	ImageMIME      string          `json:"image_mime"`
	Latitude       *float64        `json:"latitude,omitempty"`
	Longitude      *float64        `json:"longitude,omitempty"`
	Accuracy       *float64        `json:"accuracy,omitempty"`
	Address        *string         `json:"address,omitempty"`
	LocationFailed bool            `json:"location_failed"`
	Analysis       *Classification `json:"analysis,omitempty"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	QuotaMessage   string          `json:"quota_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// LocationSettled reports whether a location attempt has completed, either
// with a coordinate or with an acknowledged failure. Analysis is blocked
// until this holds.
func (d *Draft) LocationSettled() bool {
	return (d.Latitude != nil && d.Longitude != nil) || d.LocationFailed
}
