package asana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"callconfirm/internal/calls"
	"callconfirm/internal/requests"
	"callconfirm/pkg/logger"
)

const resolvingPrefix = "resolving:"

// Store is a requests.Store backed by an Asana project.
//
// Durable fields (phone, mode, retry count, last call time, outcome, status) live in task
// custom fields. Asana has no conditional writes, so the active call id and retry time live
// in the Ledger, and every transition is a compare-and-swap there first.
//
// Resolve is two-phase: the active call id is swapped to a resolving marker that carries the
// resolution, the task is updated, then the marker is cleared. A failed task update swaps the
// marker back. A marker left behind is finished by ListStale from the resolution it carries.
type Store struct {
	client    *Client
	ledger    Ledger
	fields    FieldMap
	projectID string
}

func NewStore(client *Client, ledger Ledger, projectID string, fields FieldMap) *Store {
	return &Store{client: client, ledger: ledger, fields: fields, projectID: projectID}
}

func (s *Store) List(ctx context.Context, f requests.ListFilter) ([]calls.Request, error) {
	tasks, err := s.client.ListProjectTasks(ctx, s.projectID)
	if err != nil {
		return nil, storeErr(err)
	}
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.GID)
	}
	entries, err := s.ledger.GetMany(ctx, ids)
	if err != nil {
		return nil, storeErr(err)
	}

	out := make([]calls.Request, 0, len(tasks))
	for _, t := range tasks {
		if !s.fields.dispatchable(t) {
			logger.From(ctx).Debug("asana task closed", "task_id", t.GID, "completed", t.Completed)
			continue
		}
		r, err := s.fields.decode(t)
		if err != nil {
			logger.From(ctx).Warn("asana task skipped", "task_id", t.GID, logger.Err(err))
			continue
		}
		r = merge(r, entries[t.GID])
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]calls.Request, error) {
	pending := calls.StatusPending
	all, err := s.List(ctx, requests.ListFilter{Status: &pending})
	if err != nil {
		return nil, err
	}
	out := make([]calls.Request, 0, len(all))
	for _, r := range all {
		if r.IsDue(now) {
			out = append(out, r)
		}
	}
	requests.SortDue(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListStale(ctx context.Context, activeBefore time.Time, limit int) ([]calls.Request, error) {
	ids, err := s.ledger.ActiveBefore(ctx, activeBefore, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	out := make([]calls.Request, 0, len(ids))
	for _, id := range ids {
		e, err := s.ledger.Get(ctx, id)
		if err != nil {
			return nil, storeErr(err)
		}
		if strings.HasPrefix(e.Active, resolvingPrefix) {
			if err := s.finish(ctx, id, e); err != nil {
				logger.From(ctx).Warn("asana resolution not finished", "request_id", id, logger.Err(err))
			}
			continue
		}
		r, err := s.Get(ctx, id)
		if errors.Is(err, requests.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (calls.Request, error) {
	r, _, err := s.load(ctx, id)
	return r, err
}

// load reads a task and its ledger entry and reports whether the task may still be called.
func (s *Store) load(ctx context.Context, id string) (calls.Request, bool, error) {
	t, err := s.client.GetTask(ctx, id)
	if err != nil {
		return calls.Request{}, false, storeErr(err)
	}
	r, err := s.fields.decode(t)
	if err != nil {
		return calls.Request{}, false, fmt.Errorf("%w: %v", requests.ErrInvalid, err)
	}
	e, err := s.ledger.Get(ctx, id)
	if err != nil {
		return calls.Request{}, false, storeErr(err)
	}
	return merge(r, e), s.fields.dispatchable(t), nil
}

func (s *Store) FindByCallID(ctx context.Context, callID string) (calls.Request, error) {
	if callID == "" {
		return calls.Request{}, requests.ErrUnknownCall
	}
	id, err := s.ledger.LookupCall(ctx, callID)
	if err != nil {
		return calls.Request{}, storeErr(err)
	}
	if id == "" {
		return calls.Request{}, requests.ErrUnknownCall
	}
	r, err := s.Get(ctx, id)
	if errors.Is(err, requests.ErrNotFound) {
		return calls.Request{}, requests.ErrUnknownCall
	}
	return r, err
}

// Claim checks the task, then swaps the claim token into the ledger. The check and the swap are
// not atomic, so the task is read again once the claim is held.
func (s *Store) Claim(ctx context.Context, id string, now time.Time) (string, error) {
	r, open, err := s.load(ctx, id)
	if err != nil {
		return "", err
	}
	if !open || r.Status != calls.StatusPending || r.HasActiveCall() {
		return "", requests.ErrConflict
	}
	token := requests.NewClaimToken()
	if err := s.swap(ctx, id, Swap{Expected: "", Next: token, Now: now}); err != nil {
		return "", err
	}

	r, open, err = s.load(ctx, id)
	if err == nil && open && r.Status == calls.StatusPending {
		return token, nil
	}
	if rerr := s.ReleaseClaim(ctx, id, token); rerr != nil {
		logger.From(ctx).Warn("asana claim not released", "request_id", id, logger.Err(rerr))
	}
	if err != nil {
		return "", err
	}
	return "", requests.ErrConflict
}

func (s *Store) ReleaseClaim(ctx context.Context, id, token string) error {
	if token == "" {
		return requests.ErrConflict
	}
	return s.swap(ctx, id, Swap{Expected: token, Next: "", Now: time.Now()})
}

// AttachCall binds the call id before swapping it in so an early webhook can always find it.
// The task's last call time is written after the swap; failing that write is logged, not
// returned, because the ledger already holds the placement time.
func (s *Store) AttachCall(ctx context.Context, id, token, callID string, placedAt time.Time) error {
	if token == "" {
		return requests.ErrConflict
	}
	if err := s.ledger.BindCall(ctx, callID, id); err != nil {
		return storeErr(err)
	}
	if err := s.swap(ctx, id, Swap{
		Expected:   token,
		Next:       callID,
		Now:        placedAt,
		LastCallID: callID,
		LastCallAt: placedAt,
	}); err != nil {
		return err
	}
	if err := s.client.UpdateCustomFields(ctx, id, s.fields.encodeLastCallTime(placedAt)); err != nil {
		logger.From(ctx).Warn("asana last call time not written", "request_id", id, "call_id", callID, logger.Err(err))
	}
	return nil
}

func (s *Store) Resolve(ctx context.Context, id, expectedActive string, res requests.Resolution) error {
	if expectedActive == "" {
		return requests.ErrConflict
	}
	pending, err := json.Marshal(res)
	if err != nil {
		return err
	}
	now := time.Now()
	marker := resolvingPrefix + expectedActive
	if err := s.swap(ctx, id, Swap{Expected: expectedActive, Next: marker, Now: now, Pending: string(pending)}); err != nil {
		return err
	}

	if err := s.client.UpdateCustomFields(ctx, id, s.fields.encode(res)); err != nil {
		if _, rerr := s.ledger.CompareAndSwap(ctx, id, Swap{Expected: marker, Next: expectedActive, Now: now}); rerr != nil {
			logger.From(ctx).Error("asana resolve marker not reverted", "request_id", id, logger.Err(rerr))
		}
		return storeErr(err)
	}

	// The task holds the resolution now. If the marker cannot be cleared, ListStale finishes it.
	if err := s.clear(ctx, id, marker, res, now); err != nil {
		logger.From(ctx).Warn("asana resolve marker not cleared", "request_id", id, logger.Err(err))
	}
	return nil
}

// finish completes a resolution whose marker was left in the ledger. The task write is repeated
// because a failed revert leaves the marker without it.
func (s *Store) finish(ctx context.Context, id string, e LedgerEntry) error {
	var res requests.Resolution
	if err := json.Unmarshal([]byte(e.Pending), &res); err != nil {
		return fmt.Errorf("pending resolution: %w", err)
	}
	if err := s.client.UpdateCustomFields(ctx, id, s.fields.encode(res)); err != nil {
		return storeErr(err)
	}
	err := s.clear(ctx, id, e.Active, res, time.Now())
	if err == nil {
		logger.From(ctx).Info("asana resolution finished", "request_id", id, "outcome", res.Outcome)
	}
	return err
}

func (s *Store) clear(ctx context.Context, id, marker string, res requests.Resolution, now time.Time) error {
	retryAt := time.Time{}
	if res.NextAttemptAt != nil {
		retryAt = *res.NextAttemptAt
	}
	return s.swap(ctx, id, Swap{Expected: marker, Next: "", Now: now, RetryAt: &retryAt})
}

// AddNote posts the text as a comment on the task.
func (s *Store) AddNote(ctx context.Context, id, text string) error {
	return storeErr(s.client.AddComment(ctx, id, text))
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx); err != nil {
		return storeErr(err)
	}
	if err := s.ledger.Ping(ctx); err != nil {
		return storeErr(err)
	}
	return nil
}

func (s *Store) swap(ctx context.Context, id string, sw Swap) error {
	ok, err := s.ledger.CompareAndSwap(ctx, id, sw)
	if err != nil {
		return storeErr(err)
	}
	if !ok {
		return requests.ErrConflict
	}
	return nil
}

func merge(r calls.Request, e LedgerEntry) calls.Request {
	r.ActiveCallID = e.Active
	r.ActiveSince = e.Since
	r.NextAttemptAt = e.RetryAt
	r.LastCallID = e.LastCallID
	if e.LastCallAt != nil && (r.LastCallTime == nil || e.LastCallAt.After(*r.LastCallTime)) {
		r.LastCallTime = e.LastCallAt
	}
	return r
}

func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTaskNotFound):
		return requests.ErrNotFound
	default:
		return fmt.Errorf("%w: %v", requests.ErrUnavailable, err)
	}
}
