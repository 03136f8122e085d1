package calls

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = time.Hour
)

var ErrNotTerminal = errors.New("calls: outcome does not end the call")

// ActionKind is what the retry policy wants done with a request after a call.
type ActionKind string

const (
	ActionTerminate ActionKind = "terminate"
	ActionRetryAt   ActionKind = "retry_at"
)

// Action is the policy decision. Status is set for ActionTerminate, RetryAt for ActionRetryAt.
type Action struct {
	Kind    ActionKind `json:"kind"`
	Status  Status     `json:"status,omitempty"`
	RetryAt time.Time  `json:"retry_at,omitempty"`
}

func Terminate(s Status) Action  { return Action{Kind: ActionTerminate, Status: s} }
func RetryAt(t time.Time) Action { return Action{Kind: ActionRetryAt, RetryAt: t} }

// ResultingStatus is the request status after applying the action.
func (a Action) ResultingStatus() Status {
	if a.Kind == ActionTerminate {
		return a.Status
	}
	return StatusPending
}

// RetryPolicy is the only place retry semantics live.
type RetryPolicy struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	out := p
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = DefaultMaxAttempts
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = DefaultRetryDelay
	}
	return out
}

// Decide returns the action for a call that ended with outcome.
// retryCount is the attempt count including the call being decided.
// Decide is pure: now is supplied by the caller.
func (p RetryPolicy) Decide(outcome Outcome, retryCount int, now time.Time) (Action, error) {
	p = p.withDefaults()

	switch outcome {
	case OutcomeConfirmed:
		return Terminate(StatusConfirmed), nil
	case OutcomeDeclined:
		return Terminate(StatusUnavailable), nil
	case OutcomeReschedule, OutcomeNoAnswer, OutcomeBusy, OutcomeFailed:
		if retryCount >= p.MaxAttempts {
			return Terminate(StatusUnavailable), nil
		}
		return RetryAt(now.Add(p.RetryDelay)), nil
	case OutcomeInProgress:
		return Action{}, ErrNotTerminal
	default:
		return Action{}, fmt.Errorf("calls: unknown outcome %q", outcome)
	}
}

// Exhausted reports whether retryCount leaves no attempts.
func (p RetryPolicy) Exhausted(retryCount int) bool {
	return retryCount >= p.withDefaults().MaxAttempts
}
