package domain

import "time"

// OutcomeStatus tags a CategoryOutcome.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
)

// CategoryOutcome is the result of syncing one category: either succeeded
// with the number of records written and the newest one, or failed with a reason.
type CategoryOutcome struct {
	Category       Category             `json:"category"`
	Status         OutcomeStatus        `json:"status"`
	Records        int                  `json:"records"`
	Record         *EnvironmentalRecord `json:"record,omitempty"`
	Reason         string               `json:"reason,omitempty"`
	UpstreamStatus int                  `json:"upstream_status,omitempty"`

	Err error `json:"-"`
}

// Succeeded builds a successful outcome.
func Succeeded(c Category, records int, latest *EnvironmentalRecord) CategoryOutcome {
	return CategoryOutcome{Category: c, Status: OutcomeSucceeded, Records: records, Record: latest}
}

// Failed builds a failed outcome from err.
func Failed(c Category, err error) CategoryOutcome {
	return CategoryOutcome{
		Category:       c,
		Status:         OutcomeFailed,
		Reason:         err.Error(),
		UpstreamStatus: UpstreamStatus(err),
		Err:            err,
	}
}

// PolygonResult is the outcome of one polygon sync.
// Outcomes is empty when the polygon itself could not be materialized; Error then says why.
type PolygonResult struct {
	ParcelID  string                       `json:"parcel_id"`
	PolygonID string                       `json:"polygon_id,omitempty"`
	Outcomes  map[Category]CategoryOutcome `json:"outcomes,omitempty"`
	Error     string                       `json:"error,omitempty"`
	Duration  time.Duration                `json:"duration_ns"`
}

// Succeeded reports whether at least one category succeeded.
func (r PolygonResult) Succeeded() bool {
	for _, o := range r.Outcomes {
		if o.Status == OutcomeSucceeded {
			return true
		}
	}
	return false
}
