package calls

import (
	"errors"
	"testing"
	"time"
)

var retryable = []Outcome{OutcomeReschedule, OutcomeNoAnswer, OutcomeBusy, OutcomeFailed}

func TestDecide_RetryableBelowMaxSchedulesRetry(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, RetryDelay: 90 * time.Minute}
	now := time.Unix(1700000000, 0).UTC()

	for _, o := range retryable {
		for n := 0; n < p.MaxAttempts; n++ {
			a, err := p.Decide(o, n, now)
			if err != nil {
				t.Fatalf("%s/%d: unexpected err: %v", o, n, err)
			}
			if a.Kind != ActionRetryAt {
				t.Fatalf("%s/%d: expected retry, got %+v", o, n, a)
			}
			if !a.RetryAt.After(now) || a.RetryAt.Sub(now) != p.RetryDelay {
				t.Fatalf("%s/%d: expected retry at now+%s, got %s", o, n, p.RetryDelay, a.RetryAt)
			}
			if a.ResultingStatus() != StatusPending {
				t.Fatalf("%s/%d: retry must keep request pending", o, n)
			}
		}
	}
}

func TestDecide_RetryableAtMaxTerminates(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, RetryDelay: time.Hour}
	now := time.Unix(1700000000, 0).UTC()

	for _, o := range retryable {
		for _, n := range []int{3, 4} {
			a, err := p.Decide(o, n, now)
			if err != nil {
				t.Fatalf("%s/%d: unexpected err: %v", o, n, err)
			}
			if a != Terminate(StatusUnavailable) {
				t.Fatalf("%s/%d: expected terminate(unavailable), got %+v", o, n, a)
			}
		}
	}
}

func TestDecide_ConfirmedAlwaysTerminatesConfirmed(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, RetryDelay: time.Hour}
	for n := 0; n <= 5; n++ {
		a, err := p.Decide(OutcomeConfirmed, n, time.Now())
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if a != Terminate(StatusConfirmed) {
			t.Fatalf("retryCount %d: expected terminate(confirmed), got %+v", n, a)
		}
	}
}

func TestDecide_DeclinedTerminatesUnavailable(t *testing.T) {
	a, err := RetryPolicy{MaxAttempts: 3}.Decide(OutcomeDeclined, 0, time.Now())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if a != Terminate(StatusUnavailable) {
		t.Fatalf("expected terminate(unavailable), got %+v", a)
	}
}

func TestDecide_InProgressIsNotTerminal(t *testing.T) {
	_, err := RetryPolicy{}.Decide(OutcomeInProgress, 1, time.Now())
	if !errors.Is(err, ErrNotTerminal) {
		t.Fatalf("expected ErrNotTerminal, got %v", err)
	}
	if _, err := (RetryPolicy{}).Decide(Outcome("bogus"), 1, time.Now()); err == nil {
		t.Fatalf("expected error for unknown outcome")
	}
}

func TestDecide_Defaults(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	a, err := RetryPolicy{}.Decide(OutcomeBusy, 1, now)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if a.RetryAt.Sub(now) != DefaultRetryDelay {
		t.Fatalf("expected default delay, got %s", a.RetryAt.Sub(now))
	}
	if !(RetryPolicy{}).Exhausted(DefaultMaxAttempts) {
		t.Fatalf("expected exhausted at default max")
	}
}
