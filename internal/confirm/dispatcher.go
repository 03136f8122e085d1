package confirm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callconfirm/internal/audit"
	"callconfirm/internal/calls"
	"callconfirm/internal/requests"
	"callconfirm/internal/telephony"
	"callconfirm/pkg/logger"
)

var (
	ErrNotDispatchable   = errors.New("confirm: request is not dispatchable")
	ErrAttemptsExhausted = errors.New("confirm: attempts exhausted")
	ErrCallCapReached    = errors.New("confirm: concurrent call cap reached")
)

// CallHandle identifies a placed call.
type CallHandle struct {
	RequestID string    `json:"request_id"`
	CallID    string    `json:"call_id"`
	ScriptURL string    `json:"script_url"`
	PlacedAt  time.Time `json:"placed_at"`
}

// Dispatcher places one confirmation call per claimed request.
//
// Invariants:
//   - A call is only placed while this dispatcher holds the request's claim.
//   - The provider call id is recorded before Dispatch returns.
//   - A rejected placement is resolved inline as a failed attempt.
type Dispatcher struct {
	Store    requests.Store
	Provider telephony.Provider
	Scripts  telephony.ScriptCatalog
	Policy   calls.RetryPolicy

	// Limiter is optional; nil means no global cap on concurrent calls.
	Limiter Limiter
	// Audit is optional and best-effort.
	Audit *audit.Service

	// BaseURL is the public base URL the provider calls back on.
	BaseURL     string
	RecordCalls bool

	Now func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Dispatcher) Dispatch(ctx context.Context, req calls.Request) (CallHandle, error) {
	if req.Status != calls.StatusPending {
		return CallHandle{}, ErrNotDispatchable
	}
	if req.HasActiveCall() {
		return CallHandle{}, requests.ErrConflict
	}

	now := d.now()
	token, err := d.Store.Claim(ctx, req.ID, now)
	if err != nil {
		return CallHandle{}, err
	}

	// The claim is held from here on; finish the attempt even if the caller is shutting down.
	ctx = context.WithoutCancel(ctx)
	log := logger.From(ctx).With("request_id", req.ID)

	cur, err := d.Store.Get(ctx, req.ID)
	if err != nil {
		d.release(ctx, req.ID, token)
		return CallHandle{}, err
	}

	if cur.Status != calls.StatusPending {
		d.release(ctx, req.ID, token)
		return CallHandle{}, ErrNotDispatchable
	}
	if d.Policy.Exhausted(cur.RetryCount) {
		return CallHandle{}, d.terminateExhausted(ctx, cur, token)
	}

	if _, err := d.Scripts.For(cur.Mode); err != nil {
		d.release(ctx, req.ID, token)
		return CallHandle{}, fmt.Errorf("%w: %v", ErrNotDispatchable, err)
	}

	if d.Limiter != nil {
		ok, err := d.Limiter.Acquire(ctx)
		if err != nil {
			d.release(ctx, req.ID, token)
			return CallHandle{}, err
		}
		if !ok {
			d.release(ctx, req.ID, token)
			return CallHandle{}, ErrCallCapReached
		}
	}

	scriptURL, statusURL := telephony.CallbackURLs(d.BaseURL, cur.ID, token)
	placed, err := d.Provider.PlaceCall(ctx, telephony.OutboundCallRequest{
		RequestID:         cur.ID,
		To:                cur.Phone,
		ScriptURL:         scriptURL,
		StatusCallbackURL: statusURL,
		Record:            d.RecordCalls,
	})
	if err != nil {
		d.releaseSlot(ctx)
		if !errors.Is(err, telephony.ErrProviderUnavailable) {
			err = fmt.Errorf("%w: %v", telephony.ErrProviderUnavailable, err)
		}
		if rerr := d.failPlacement(ctx, cur, token, now, err); rerr != nil {
			return CallHandle{}, errors.Join(err, rerr)
		}
		return CallHandle{}, err
	}

	placedAt := d.now()
	handle := CallHandle{RequestID: cur.ID, CallID: placed.CallID, ScriptURL: scriptURL, PlacedAt: placedAt}
	log = log.With("call_id", placed.CallID)

	if err := d.Store.AttachCall(ctx, cur.ID, token, placed.CallID, placedAt); err != nil {
		if errors.Is(err, requests.ErrConflict) {
			// A callback carrying the claim token already resolved this attempt.
			d.releaseSlot(ctx)
			log.Info("call resolved before attach")
			return handle, nil
		}
		// The claim token stays active, and resolutions through it do not give slots back.
		d.releaseSlot(ctx)
		log.Error("call placed but not recorded", logger.Err(err))
		return handle, err
	}

	if d.Audit != nil {
		if err := d.Audit.LogCallPlaced(ctx, cur.ID, placed.CallID, cur.RetryCount); err != nil {
			log.Warn("audit failed", logger.Err(err))
		}
	}
	log.Info("call placed", "retry_count", cur.RetryCount, "mode", cur.Mode, "provider", d.Provider.Name())
	return handle, nil
}

// failPlacement resolves a rejected placement as a failed attempt through the retry policy.
func (d *Dispatcher) failPlacement(ctx context.Context, cur calls.Request, token string, at time.Time, cause error) error {
	log := logger.From(ctx).With("request_id", cur.ID)

	retryCount := cur.RetryCount + 1
	action, err := d.Policy.Decide(calls.OutcomeFailed, retryCount, at)
	if err != nil {
		return err
	}
	res := resolution(calls.OutcomeFailed, retryCount, action)
	res.AttemptedAt = &at

	if err := d.Store.Resolve(ctx, cur.ID, token, res); err != nil {
		log.Error("failed placement not recorded", logger.Err(err))
		return err
	}
	if d.Audit != nil {
		if err := d.Audit.LogCallResolved(ctx, audit.EventTypePlacementFailed, cur.ID, "", string(calls.OutcomeFailed),
			string(res.Status), retryCount, cause.Error()); err != nil {
			log.Warn("audit failed", logger.Err(err))
		}
	}
	log.Warn("call placement failed", "retry_count", retryCount, "status", res.Status, logger.Err(cause))
	return nil
}

// terminateExhausted closes a pending request that has no attempts left without calling.
func (d *Dispatcher) terminateExhausted(ctx context.Context, cur calls.Request, token string) error {
	log := logger.From(ctx).With("request_id", cur.ID)

	outcome := cur.Outcome
	if outcome == "" {
		outcome = calls.OutcomeFailed
	}
	res := requests.Resolution{Outcome: outcome, RetryCount: cur.RetryCount, Status: calls.StatusUnavailable}
	if err := d.Store.Resolve(ctx, cur.ID, token, res); err != nil {
		return err
	}
	if d.Audit != nil {
		if err := d.Audit.LogCallResolved(ctx, audit.EventTypeAttemptsExhausted, cur.ID, "", string(outcome),
			string(calls.StatusUnavailable), cur.RetryCount, "max attempts reached before call"); err != nil {
			log.Warn("audit failed", logger.Err(err))
		}
	}
	log.Info("request exhausted", "retry_count", cur.RetryCount)
	return ErrAttemptsExhausted
}

func (d *Dispatcher) release(ctx context.Context, id, token string) {
	if err := d.Store.ReleaseClaim(ctx, id, token); err != nil {
		logger.From(ctx).Warn("claim not released", "request_id", id, logger.Err(err))
	}
}

func (d *Dispatcher) releaseSlot(ctx context.Context) {
	if d.Limiter == nil {
		return
	}
	if err := d.Limiter.Release(ctx); err != nil {
		logger.From(ctx).Warn("call slot not released", logger.Err(err))
	}
}

// resolution turns a policy action into the store write that ends an attempt.
func resolution(outcome calls.Outcome, retryCount int, action calls.Action) requests.Resolution {
	res := requests.Resolution{Outcome: outcome, RetryCount: retryCount, Status: action.ResultingStatus()}
	if action.Kind == calls.ActionRetryAt {
		at := action.RetryAt
		res.NextAttemptAt = &at
	}
	return res
}
