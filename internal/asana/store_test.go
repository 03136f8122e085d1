package asana

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"callconfirm/internal/calls"
	"callconfirm/internal/requests"
)

var testFields = FieldMap{
	Phone:        "f-phone",
	Mode:         "f-mode",
	RetryCount:   "f-retry",
	LastCallTime: "f-last",
	Outcome:      "f-outcome",
	Status:       "f-status",
	StatusOptions: map[calls.Status]string{
		calls.StatusPending:     "opt-pending",
		calls.StatusConfirmed:   "opt-confirmed",
		calls.StatusUnavailable: "opt-unavailable",
	},
}

// fakeAsana serves the handful of endpoints the client uses from an in-memory task set.
// Custom field updates are applied to the stored tasks.
type fakeAsana struct {
	mu       sync.Mutex
	tasks    map[string]Task
	order    []string
	updates  []map[string]any
	comments []string
	failPut  bool
	pageSize int
}

func newFakeAsana() *fakeAsana {
	return &fakeAsana{tasks: map[string]Task{}, pageSize: 100}
}

func (f *fakeAsana) add(gid, phone, mode string, retries float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[gid] = Task{
		GID:  gid,
		Name: "Order " + gid,
		CustomFields: []CustomField{
			{GID: "f-phone", TextValue: &phone},
			{GID: "f-mode", EnumValue: &EnumOption{GID: "m", Name: mode}},
			{GID: "f-retry", NumberValue: &retries},
			{GID: "f-status", EnumValue: &EnumOption{GID: "opt-pending", Name: "Pending"}},
		},
	}
	f.order = append(f.order, gid)
}

func (f *fakeAsana) complete(gid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tasks[gid]
	t.Completed = true
	f.tasks[gid] = t
}

func (f *fakeAsana) setStatusOption(gid, option string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apply(gid, map[string]any{"f-status": option})
}

func (f *fakeAsana) lastUpdate() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) == 0 {
		return nil
	}
	return f.updates[len(f.updates)-1]
}

// apply writes custom field values the way Asana stores them. Caller holds mu.
func (f *fakeAsana) apply(gid string, fields map[string]any) {
	t := f.tasks[gid]
	for fid, v := range fields {
		cf := CustomField{GID: fid}
		switch val := v.(type) {
		case float64:
			cf.NumberValue = &val
		case string:
			if fid == "f-status" {
				cf.EnumValue = &EnumOption{GID: val}
			} else {
				cf.TextValue = &val
			}
		}
		replaced := false
		for i := range t.CustomFields {
			if t.CustomFields[i].GID == fid {
				t.CustomFields[i] = cf
				replaced = true
			}
		}
		if !replaced {
			t.CustomFields = append(t.CustomFields, cf)
		}
	}
	f.tasks[gid] = t
}

func (f *fakeAsana) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /projects/{pid}/tasks", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		start := 0
		if off := r.URL.Query().Get("offset"); off != "" {
			for i, gid := range f.order {
				if gid == off {
					start = i
				}
			}
		}
		end := start + f.pageSize
		if end > len(f.order) {
			end = len(f.order)
		}
		page := make([]Task, 0)
		for _, gid := range f.order[start:end] {
			page = append(page, f.tasks[gid])
		}
		body := map[string]any{"data": page}
		if end < len(f.order) {
			body["next_page"] = map[string]any{"offset": f.order[end]}
		}
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("GET /tasks/{gid}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		t, ok := f.tasks[r.PathValue("gid")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[{"message":"task: Unknown object"}]}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": t})
	})
	mux.HandleFunc("PUT /tasks/{gid}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failPut {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"errors":[{"message":"server error"}]}`))
			return
		}
		var body struct {
			Data struct {
				CustomFields map[string]any `json:"custom_fields"`
			} `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gid := r.PathValue("gid")
		f.updates = append(f.updates, body.Data.CustomFields)
		f.apply(gid, body.Data.CustomFields)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": f.tasks[gid]})
	})
	mux.HandleFunc("POST /tasks/{gid}/stories", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var body struct {
			Data struct {
				Text string `json:"text"`
			} `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.comments = append(f.comments, body.Data.Text)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"gid":"s1"}}`))
	})
	return mux
}

func newTestLedger(t *testing.T) (*RedisLedger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisLedger(rdb), mr
}

func newTestStoreWith(t *testing.T, led Ledger) (*Store, *fakeAsana) {
	t.Helper()
	fa := newFakeAsana()
	srv := httptest.NewServer(fa.handler())
	t.Cleanup(srv.Close)
	return NewStore(NewClient(srv.URL, "token", srv.Client()), led, "proj", testFields), fa
}

func newTestStore(t *testing.T) (*Store, *fakeAsana, *RedisLedger) {
	t.Helper()
	led, _ := newTestLedger(t)
	s, fa := newTestStoreWith(t, led)
	return s, fa, led
}

func ledgerEntry(t *testing.T, led Ledger, id string) LedgerEntry {
	t.Helper()
	e, err := led.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("ledger get %s: %v", id, err)
	}
	return e
}

func TestStore_ListDecodesAndPaginates(t *testing.T) {
	s, fa, _ := newTestStore(t)
	fa.pageSize = 1
	fa.add("t1", "+15550001", "Pickup", 0)
	fa.add("t2", "+15550002", "Delivery", 2)
	fa.add("t3", "", "Pickup", 0) // no phone, skipped

	out, err := s.List(context.Background(), requests.ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 decoded requests, got %d", len(out))
	}
	if out[1].Mode != calls.ModeDelivery || out[1].RetryCount != 2 || out[1].Status != calls.StatusPending {
		t.Fatalf("unexpected decode: %+v", out[1])
	}
}

func TestStore_ClosedTasksAreNeverDue(t *testing.T) {
	ctx := context.Background()
	s, fa, _ := newTestStore(t)
	fa.add("done", "+15550001", "pickup", 0)
	fa.add("odd", "+15550002", "pickup", 0)
	fa.add("open", "+15550003", "pickup", 0)
	fa.complete("done")
	fa.setStatusOption("odd", "opt-on-hold")

	due, err := s.ListDue(ctx, time.Now(), 0)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 1 || due[0].ID != "open" {
		t.Fatalf("expected only the open task due, got %+v", due)
	}

	for _, id := range []string{"done", "odd"} {
		if _, err := s.Claim(ctx, id, time.Now()); !errors.Is(err, requests.ErrConflict) {
			t.Fatalf("expected claim on closed task %s to conflict, got %v", id, err)
		}
	}
}

func TestStore_ClaimRechecksTaskAfterSwap(t *testing.T) {
	ctx := context.Background()
	fa := newFakeAsana()
	fa.add("t1", "+15550001", "pickup", 0)
	srv := httptest.NewServer(fa.handler())
	t.Cleanup(srv.Close)

	led, _ := newTestLedger(t)
	// The task is closed by someone else between the status check and the ledger swap.
	hooked := &swapHook{Ledger: led, before: func() { fa.complete("t1") }}
	s := NewStore(NewClient(srv.URL, "token", srv.Client()), hooked, "proj", testFields)

	if _, err := s.Claim(ctx, "t1", time.Now()); !errors.Is(err, requests.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if e := ledgerEntry(t, led, "t1"); e.Active != "" {
		t.Fatalf("expected claim released, got %q", e.Active)
	}
}

func TestStore_DispatchLifecycleWritesTaskFields(t *testing.T) {
	ctx := context.Background()
	s, fa, led := newTestStore(t)
	fa.add("t1", "+15550001", "pickup", 0)

	now := time.Unix(1700000000, 0).UTC()
	token, err := s.Claim(ctx, "t1", now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := s.Claim(ctx, "t1", now); !errors.Is(err, requests.ErrConflict) {
		t.Fatalf("expected second claim to conflict, got %v", err)
	}
	if err := s.AttachCall(ctx, "t1", token, "CA1", now); err != nil {
		t.Fatalf("attach: %v", err)
	}

	r, err := s.FindByCallID(ctx, "CA1")
	if err != nil || r.ActiveCallID != "CA1" || r.LastCallTime == nil {
		t.Fatalf("expected active call found, got %+v err=%v", r, err)
	}

	retryAt := now.Add(time.Hour)
	res := requests.Resolution{Outcome: calls.OutcomeNoAnswer, RetryCount: 1, Status: calls.StatusPending, NextAttemptAt: &retryAt}
	if err := s.Resolve(ctx, "t1", "CA1", res); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := s.Resolve(ctx, "t1", "CA1", res); !errors.Is(err, requests.ErrConflict) {
		t.Fatalf("expected duplicate resolve to conflict, got %v", err)
	}

	e := ledgerEntry(t, led, "t1")
	if e.Active != "" || e.Pending != "" || e.RetryAt == nil || !e.RetryAt.Equal(retryAt) {
		t.Fatalf("unexpected ledger after resolve: %+v", e)
	}
	last := fa.lastUpdate()
	if last["f-outcome"] != "no_answer" || last["f-retry"] != float64(1) || last["f-status"] != "opt-pending" {
		t.Fatalf("unexpected task update: %v", last)
	}
	if _, ok := last["f-last"]; ok {
		t.Fatalf("webhook resolution must not write last call time")
	}

	got, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Outcome != calls.OutcomeNoAnswer || got.RetryCount != 1 || got.HasActiveCall() {
		t.Fatalf("unexpected request after resolve: %+v", got)
	}
}

func TestStore_ResolveRevertsWhenTaskUpdateFails(t *testing.T) {
	ctx := context.Background()
	s, fa, led := newTestStore(t)
	fa.add("t1", "+15550001", "pickup", 0)

	token, _ := s.Claim(ctx, "t1", time.Now())
	if err := s.AttachCall(ctx, "t1", token, "CA1", time.Now()); err != nil {
		t.Fatalf("attach: %v", err)
	}

	fa.failPut = true
	err := s.Resolve(ctx, "t1", "CA1", requests.Resolution{Outcome: calls.OutcomeConfirmed, RetryCount: 1, Status: calls.StatusConfirmed})
	if !errors.Is(err, requests.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if e := ledgerEntry(t, led, "t1"); e.Active != "CA1" || e.Pending != "" {
		t.Fatalf("expected active call restored, got %+v", e)
	}
}

// swapHook wraps a ledger to inject behaviour around CompareAndSwap.
type swapHook struct {
	Ledger
	before  func()
	failEnd int // fail this many marker clears
}

func (h *swapHook) CompareAndSwap(ctx context.Context, id string, s Swap) (bool, error) {
	if h.before != nil {
		h.before()
		h.before = nil
	}
	if h.failEnd > 0 && s.Next == "" && strings.HasPrefix(s.Expected, resolvingPrefix) {
		h.failEnd--
		return false, errors.New("connection reset")
	}
	return h.Ledger.CompareAndSwap(ctx, id, s)
}

func TestStore_LeftoverMarkerIsFinishedWithoutDecidingAgain(t *testing.T) {
	ctx := context.Background()
	led, _ := newTestLedger(t)
	hooked := &swapHook{Ledger: led, failEnd: 1}
	s, fa := newTestStoreWith(t, hooked)
	fa.add("t1", "+15550001", "pickup", 0)

	start := time.Now().Add(-time.Hour)
	token, _ := s.Claim(ctx, "t1", start)
	if err := s.AttachCall(ctx, "t1", token, "CA1", start); err != nil {
		t.Fatalf("attach: %v", err)
	}

	retryAt := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)
	res := requests.Resolution{Outcome: calls.OutcomeNoAnswer, RetryCount: 1, Status: calls.StatusPending, NextAttemptAt: &retryAt}
	if err := s.Resolve(ctx, "t1", "CA1", res); err != nil {
		t.Fatalf("resolve with a stuck marker should still succeed: %v", err)
	}

	r, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if r.ActiveCallID != resolvingPrefix+"CA1" || r.RetryCount != 1 {
		t.Fatalf("expected the marker to remain, got %+v", r)
	}
	if _, err := s.Claim(ctx, "t1", time.Now()); !errors.Is(err, requests.ErrConflict) {
		t.Fatalf("expected a marked request to refuse claims, got %v", err)
	}

	stale, err := s.ListStale(ctx, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("marked requests are finished, not expired: %+v", stale)
	}

	e := ledgerEntry(t, led, "t1")
	if e.Active != "" || e.Pending != "" || e.RetryAt == nil || !e.RetryAt.Equal(retryAt) {
		t.Fatalf("expected marker cleared with the stored retry time, got %+v", e)
	}
	last := fa.lastUpdate()
	if last["f-outcome"] != "no_answer" || last["f-retry"] != float64(1) {
		t.Fatalf("resolution must be written once, not decided again: %v", last)
	}
}

func TestStore_UnknownCallAndMissingTask(t *testing.T) {
	ctx := context.Background()
	s, fa, _ := newTestStore(t)

	if _, err := s.FindByCallID(ctx, "CA404"); !errors.Is(err, requests.ErrUnknownCall) {
		t.Fatalf("expected unknown call, got %v", err)
	}
	if _, err := s.Get(ctx, "nope"); !errors.Is(err, requests.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	fa.add("t1", "+15550001", "pickup", 0)
	if err := s.AddNote(ctx, "t1", "Transcript: yes"); err != nil {
		t.Fatalf("add note: %v", err)
	}
	if len(fa.comments) != 1 || fa.comments[0] != "Transcript: yes" {
		t.Fatalf("expected comment posted, got %v", fa.comments)
	}
}

func TestFieldMap_Validate(t *testing.T) {
	if err := testFields.Validate(); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := (FieldMap{}).Validate(); err == nil {
		t.Fatalf("expected error for empty map")
	}
}
