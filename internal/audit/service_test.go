package audit

import (
	"context"
	"errors"
	"testing"
)

func TestService_AppendRequiresTypeAndTarget(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	ctx := context.Background()

	if err := svc.Append(ctx, Event{RequestID: "r1"}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected invalid without type, got %v", err)
	}
	if err := svc.Append(ctx, Event{Type: EventTypeCallPlaced}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected invalid without request id, got %v", err)
	}
	if err := svc.LogUnknownCall(ctx, "CA1", "", "status=busy"); err != nil {
		t.Fatalf("unknown call only needs a call id, got %v", err)
	}
}

func TestService_AppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	if err := svc.LogCallPlaced(ctx, "r1", "CA1", 0); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := svc.LogCallResolved(ctx, EventTypeCallResolved, "r1", "CA1", "confirmed", "confirmed", 1, "keypress"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := svc.LogOperatorAction(ctx, EventTypeManualRun, "", "u1", "operator", "1.2.3.4", "process"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 3 {
		t.Fatalf("expected 3 events, got %d", len(evs))
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp filled")
	}
	if evs[2].IPAddress != "1.2.3.4" {
		t.Fatalf("expected ip captured")
	}

	trail, err := svc.Trail(ctx, "r1", 0)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(trail) != 2 || trail[1].Outcome != "confirmed" {
		t.Fatalf("unexpected trail: %+v", trail)
	}
}

type appendOnly struct{}

func (appendOnly) Append(ctx context.Context, e Event) error { return nil }

func TestService_TrailRequiresLister(t *testing.T) {
	if _, err := NewService(appendOnly{}).Trail(context.Background(), "r1", 10); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("expected not supported, got %v", err)
	}
}
