package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"callconfirm/internal/calls"
	"callconfirm/internal/requests"
)

func seed(t *testing.T) *requests.MemoryStore {
	t.Helper()
	s := requests.NewMemoryStore()
	s.Put(calls.Request{ID: "r1", Phone: "+1", Mode: calls.ModePickup, Status: calls.StatusConfirmed, Outcome: calls.OutcomeConfirmed, RetryCount: 1})
	s.Put(calls.Request{ID: "r2", Phone: "+2", Mode: calls.ModePickup, Status: calls.StatusUnavailable, Outcome: calls.OutcomeNoAnswer, RetryCount: 3})
	s.Put(calls.Request{ID: "r3", Phone: "+3", Mode: calls.ModeDelivery, Status: calls.StatusConfirmed, Outcome: calls.OutcomeConfirmed, RetryCount: 2})
	s.Put(calls.Request{ID: "r4", Phone: "+4", Mode: calls.ModeDelivery, Status: calls.StatusPending})
	s.Put(calls.Request{ID: "r5", Phone: "+5", Mode: calls.ModeDelivery, Status: calls.StatusPending, ActiveCallID: "CA5", RetryCount: 1, Outcome: calls.OutcomeBusy})
	return s
}

func TestOutcomeSummary_Aggregates(t *testing.T) {
	svc := NewService(seed(t))

	out, err := svc.OutcomeSummary(context.Background(), OutcomeSummaryRequest{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.Total != 5 || out.Pending != 2 || out.Confirmed != 2 || out.Unavailable != 1 {
		t.Fatalf("unexpected counts: %+v", out)
	}
	if out.InFlight != 1 || out.Due != 1 {
		t.Fatalf("expected one in flight and one due, got %+v", out)
	}
	if out.ByOutcome[calls.OutcomeConfirmed] != 2 || out.ByOutcome[calls.OutcomeBusy] != 1 {
		t.Fatalf("unexpected outcome counts: %v", out.ByOutcome)
	}
	if out.TotalAttempts != 7 {
		t.Fatalf("expected 7 attempts, got %d", out.TotalAttempts)
	}
	if out.ConfirmationRate < 0.66 || out.ConfirmationRate > 0.67 {
		t.Fatalf("expected confirmation rate 2/3, got %f", out.ConfirmationRate)
	}
}

func TestOutcomeSummary_FiltersByMode(t *testing.T) {
	svc := NewService(seed(t))

	out, err := svc.OutcomeSummary(context.Background(), OutcomeSummaryRequest{Mode: calls.ModePickup})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.Total != 2 || out.Pending != 0 || out.ConfirmationRate != 0.5 {
		t.Fatalf("unexpected pickup summary: %+v", out)
	}
}

func TestOutcomeSummary_RejectsBadInput(t *testing.T) {
	svc := NewService(seed(t))
	now := time.Now()

	if _, err := svc.OutcomeSummary(context.Background(), OutcomeSummaryRequest{Range: TimeRange{From: now}}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid for half-open range, got %v", err)
	}
	if _, err := svc.OutcomeSummary(context.Background(), OutcomeSummaryRequest{Mode: "courier"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid for unknown mode, got %v", err)
	}
}
