package reporting

import (
	"time"

	"callconfirm/internal/calls"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// OutcomeSummaryRequest selects the requests to aggregate.
// A zero Range covers every request; otherwise requests are filtered on their last update.
type OutcomeSummaryRequest struct {
	Range TimeRange  `json:"range"`
	Mode  calls.Mode `json:"mode,omitempty"`
}

type OutcomeSummary struct {
	Total       int `json:"total"`
	Pending     int `json:"pending"`
	Confirmed   int `json:"confirmed"`
	Unavailable int `json:"unavailable"`

	// InFlight counts requests with a call (or a claim for one) outstanding.
	InFlight int `json:"in_flight"`
	// Due counts pending requests the next scan would dispatch.
	Due int `json:"due"`

	ByOutcome map[calls.Outcome]int `json:"by_outcome"`

	TotalAttempts   int     `json:"total_attempts"`
	AverageAttempts float64 `json:"average_attempts"`

	// ConfirmationRate is confirmed over terminal requests.
	ConfirmationRate float64 `json:"confirmation_rate"`
}
