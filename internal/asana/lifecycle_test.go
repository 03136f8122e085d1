package asana

import (
	"context"
	"errors"
	"testing"
	"time"

	"callconfirm/internal/calls"
	"callconfirm/internal/confirm"
	"callconfirm/internal/telephony"
)

type lifecycle struct {
	store    *Store
	fake     *fakeAsana
	provider *telephony.LoopbackProvider
	disp     *confirm.Dispatcher
	events   *confirm.EventHandler
	now      time.Time
}

func newLifecycle(t *testing.T) *lifecycle {
	t.Helper()
	s, fa, _ := newTestStore(t)
	lc := &lifecycle{store: s, fake: fa, provider: telephony.NewLoopbackProvider(), now: time.Unix(1700000000, 0).UTC()}
	clock := func() time.Time { return lc.now }
	policy := calls.RetryPolicy{MaxAttempts: 3, RetryDelay: time.Hour}
	lc.disp = &confirm.Dispatcher{
		Store:    s,
		Provider: lc.provider,
		Scripts:  telephony.DefaultScripts(),
		Policy:   policy,
		BaseURL:  "https://hooks.example.test",
		Now:      clock,
	}
	lc.events = &confirm.EventHandler{Store: s, Policy: policy, Now: clock}
	return lc
}

func (lc *lifecycle) call(t *testing.T, id string, sig calls.Signal) calls.EventResult {
	t.Helper()
	ctx := context.Background()
	req, err := lc.store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	handle, err := lc.disp.Dispatch(ctx, req)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	res, err := lc.events.OnCallEvent(ctx, calls.CallEvent{CallID: handle.CallID, Signal: sig})
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	return res
}

func TestLifecycle_KeypressConfirmsTask(t *testing.T) {
	lc := newLifecycle(t)
	lc.fake.add("t1", "+15550001", "pickup", 0)

	if res := lc.call(t, "t1", calls.Keypress("1")); !res.Applied {
		t.Fatalf("expected applied, got %+v", res)
	}

	r, _ := lc.store.Get(context.Background(), "t1")
	if r.Status != calls.StatusConfirmed || r.Outcome != calls.OutcomeConfirmed || r.RetryCount != 1 || r.HasActiveCall() {
		t.Fatalf("unexpected request: %+v", r)
	}
	if r.LastCallTime == nil || !r.LastCallTime.Equal(lc.now) {
		t.Fatalf("expected last call time written, got %v", r.LastCallTime)
	}
}

func TestLifecycle_ThreeNoAnswersCloseTask(t *testing.T) {
	lc := newLifecycle(t)
	lc.fake.add("t1", "+15550001", "delivery", 0)

	for i := 1; i <= 3; i++ {
		lc.call(t, "t1", calls.ProviderStatus("no-answer"))
		r, _ := lc.store.Get(context.Background(), "t1")
		if r.RetryCount != i {
			t.Fatalf("attempt %d: retry count %d", i, r.RetryCount)
		}
		lc.now = lc.now.Add(2 * time.Hour)
	}

	r, _ := lc.store.Get(context.Background(), "t1")
	if r.Status != calls.StatusUnavailable || r.Outcome != calls.OutcomeNoAnswer {
		t.Fatalf("expected unavailable after three misses, got %+v", r)
	}
	due, err := lc.store.ListDue(context.Background(), lc.now, 0)
	if err != nil || len(due) != 0 {
		t.Fatalf("expected nothing due, got %v err=%v", due, err)
	}
}

func TestLifecycle_RejectedPlacementOnLastAttempt(t *testing.T) {
	ctx := context.Background()
	lc := newLifecycle(t)
	lc.fake.add("t1", "+15550001", "pickup", 2)
	lc.provider.SetErr(errors.New("number blocked"))

	req, _ := lc.store.Get(ctx, "t1")
	if _, err := lc.disp.Dispatch(ctx, req); !errors.Is(err, telephony.ErrProviderUnavailable) {
		t.Fatalf("expected provider error, got %v", err)
	}

	r, _ := lc.store.Get(ctx, "t1")
	if r.Status != calls.StatusUnavailable || r.RetryCount != 3 || r.Outcome != calls.OutcomeFailed || r.HasActiveCall() {
		t.Fatalf("unexpected request: %+v", r)
	}
	if last := lc.fake.lastUpdate(); last["f-last"] == nil {
		t.Fatalf("expected attempt time written, got %v", last)
	}
}
