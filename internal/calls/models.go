package calls

import (
	"fmt"
	"strings"
	"time"
)

// Request is one pending pickup/delivery confirmation, backed by a task record.
//
// NOTE: This is a domain model only. Task-store specific identifiers (custom field ids,
// enum option ids) belong to the store adapters, not here.
//
// Invariants:
//   - At most one ActiveCallID at any time.
//   - Status never leaves a terminal value once set.
//   - RetryCount only grows, by exactly one per completed call attempt.
//   - LastCallTime is written by the dispatcher only.
type Request struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name,omitempty" db:"name"`

	Phone string `json:"phone" db:"phone"`
	Mode  Mode   `json:"mode" db:"mode"`

	Status     Status  `json:"status" db:"status"`
	RetryCount int     `json:"retry_count" db:"retry_count"`
	Outcome    Outcome `json:"outcome,omitempty" db:"outcome"`

	LastCallTime *time.Time `json:"last_call_time,omitempty" db:"last_call_time"`
	LastCallID   string     `json:"last_call_id,omitempty" db:"last_call_id"`

	// ActiveCallID holds the provider call id while a call is outstanding, or a claim
	// placeholder while the call is being placed. Empty means no call in flight.
	ActiveCallID string     `json:"active_call_id,omitempty" db:"active_call_id"`
	ActiveSince  *time.Time `json:"active_since,omitempty" db:"active_since"`

	// NextAttemptAt is the RetryAt chosen by the last decision; nil means due now.
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty" db:"next_attempt_at"`

	UpdatedAt time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// IsTerminal reports whether the request has left the pipeline.
func (r Request) IsTerminal() bool { return r.Status.IsTerminal() }

// HasActiveCall reports whether a call (or a claim for one) is outstanding.
func (r Request) HasActiveCall() bool { return r.ActiveCallID != "" }

// IsDue reports whether the scheduler should pick this request up at now.
func (r Request) IsDue(now time.Time) bool {
	if r.Status != StatusPending || r.HasActiveCall() {
		return false
	}
	return r.NextAttemptAt == nil || !r.NextAttemptAt.After(now)
}

// Mode selects the voice script.
type Mode string

const (
	ModePickup   Mode = "pickup"
	ModeDelivery Mode = "delivery"
)

// ParseMode accepts the mode names case-insensitively ("Pickup", "delivery", ...).
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModePickup:
		return ModePickup, nil
	case ModeDelivery:
		return ModeDelivery, nil
	default:
		return "", fmt.Errorf("calls: unknown mode %q", s)
	}
}

// Status is the externally visible state of a request.
type Status string

const (
	StatusPending     Status = "pending"
	StatusConfirmed   Status = "confirmed"
	StatusUnavailable Status = "unavailable"
)

func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusUnavailable
}

func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, nil
	case StatusConfirmed:
		return StatusConfirmed, nil
	case StatusUnavailable:
		return StatusUnavailable, nil
	default:
		return "", fmt.Errorf("calls: unknown status %q", s)
	}
}

// Outcome is the domain result of one call.
type Outcome string

const (
	OutcomeConfirmed  Outcome = "confirmed"
	OutcomeDeclined   Outcome = "declined"
	OutcomeReschedule Outcome = "reschedule"
	OutcomeNoAnswer   Outcome = "no_answer"
	OutcomeBusy       Outcome = "busy"
	OutcomeFailed     Outcome = "failed"

	// OutcomeInProgress marks mid-call interaction. Never persisted.
	OutcomeInProgress Outcome = "in_progress"
)

// ParseOutcome parses a persisted outcome. Empty input is the absent outcome.
func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(strings.ToLower(strings.TrimSpace(s)))
	switch o {
	case "":
		return "", nil
	case OutcomeConfirmed, OutcomeDeclined, OutcomeReschedule, OutcomeNoAnswer, OutcomeBusy, OutcomeFailed:
		return o, nil
	default:
		return "", fmt.Errorf("calls: unknown outcome %q", s)
	}
}

// CallStatus values reported by the telephony provider for a single call.
type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in-progress"
	CallStatusAnswered   CallStatus = "answered"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusNoAnswer   CallStatus = "no-answer"
	CallStatusBusy       CallStatus = "busy"
	CallStatusCanceled   CallStatus = "canceled"
)
