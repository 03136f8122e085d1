package confirm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callconfirm/internal/audit"
	"callconfirm/internal/calls"
	"callconfirm/internal/requests"
	"callconfirm/pkg/logger"
)

// EventHandler applies provider call events to requests. It implements telephony.EventSink.
//
// Every state change is a conditional Resolve on the active call id, so duplicate
// deliveries and late callbacks for superseded calls become no-ops.
type EventHandler struct {
	Store  requests.Store
	Policy calls.RetryPolicy

	// Limiter, when set, gets a call slot back each time a placed call resolves.
	Limiter Limiter
	Audit   *audit.Service

	Now func() time.Time
}

func (h *EventHandler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

func (h *EventHandler) OnCallEvent(ctx context.Context, ev calls.CallEvent) (calls.EventResult, error) {
	log := logger.From(ctx).With("call_id", ev.CallID)

	req, expected, err := h.locate(ctx, ev)
	if errors.Is(err, requests.ErrUnknownCall) {
		log.Warn("event for unknown call", "request_id", ev.RequestID)
		if h.Audit != nil {
			if aerr := h.Audit.LogUnknownCall(ctx, ev.CallID, ev.RequestID, describe(ev.Signal)); aerr != nil {
				log.Warn("audit failed", logger.Err(aerr))
			}
		}
		return calls.EventResult{}, err
	}
	if err != nil {
		return calls.EventResult{}, err
	}

	outcome := calls.Classify(ev.Signal)
	if expected == "" || req.IsTerminal() {
		log.Debug("stale call event", "request_id", req.ID, "outcome", outcome)
		return calls.EventResult{Request: req, Outcome: outcome, Stale: true}, nil
	}
	if outcome == calls.OutcomeInProgress {
		return calls.EventResult{Request: req, Outcome: outcome}, nil
	}

	res, err := h.resolve(ctx, req, expected, ev.CallID, outcome, audit.EventTypeCallResolved, describe(ev.Signal))
	if err != nil {
		return calls.EventResult{}, err
	}

	if ev.Signal.Kind == calls.SignalSpeech && res.Applied {
		h.annotate(ctx, req.ID, ev.CallID, ev.Signal.Value)
	}
	return res, nil
}

// Expire ends a call whose webhook never arrived, as a failed attempt. A request that is no
// longer active (or was resolved meanwhile) is left alone.
func (h *EventHandler) Expire(ctx context.Context, req calls.Request) (calls.EventResult, error) {
	if !req.HasActiveCall() || req.IsTerminal() {
		return calls.EventResult{Request: req, Stale: true}, nil
	}
	sig := calls.ProviderError("timeout")
	return h.resolve(ctx, req, req.ActiveCallID, req.ActiveCallID, calls.Classify(sig), audit.EventTypeCallExpired, describe(sig))
}

// locate finds the request an event belongs to and the active value a Resolve must expect.
// expected is "" when the event's call is not the active one.
func (h *EventHandler) locate(ctx context.Context, ev calls.CallEvent) (calls.Request, string, error) {
	req, err := h.Store.FindByCallID(ctx, ev.CallID)
	if err == nil {
		if req.ActiveCallID == ev.CallID {
			return req, ev.CallID, nil
		}
		if ev.ClaimToken != "" && req.ActiveCallID == ev.ClaimToken {
			return req, ev.ClaimToken, nil
		}
		return req, "", nil
	}
	if !errors.Is(err, requests.ErrUnknownCall) {
		return calls.Request{}, "", err
	}

	// The call id may not be recorded yet; the claim token from the callback URL still matches.
	if ev.RequestID == "" || !requests.IsClaimToken(ev.ClaimToken) {
		return calls.Request{}, "", requests.ErrUnknownCall
	}
	req, err = h.Store.Get(ctx, ev.RequestID)
	if errors.Is(err, requests.ErrNotFound) {
		return calls.Request{}, "", requests.ErrUnknownCall
	}
	if err != nil {
		return calls.Request{}, "", err
	}
	if req.ActiveCallID != ev.ClaimToken {
		return calls.Request{}, "", requests.ErrUnknownCall
	}
	return req, ev.ClaimToken, nil
}

func (h *EventHandler) resolve(ctx context.Context, req calls.Request, expected, callID string, outcome calls.Outcome, typ audit.EventType, detail string) (calls.EventResult, error) {
	log := logger.From(ctx).With("request_id", req.ID, "call_id", callID)
	now := h.now()

	retryCount := req.RetryCount + 1
	action, err := h.Policy.Decide(outcome, retryCount, now)
	if err != nil {
		return calls.EventResult{}, err
	}
	res := resolution(outcome, retryCount, action)

	if err := h.Store.Resolve(ctx, req.ID, expected, res); err != nil {
		if errors.Is(err, requests.ErrConflict) {
			log.Debug("call event lost resolve race", "outcome", outcome)
			return calls.EventResult{Request: req, Outcome: outcome, Stale: true}, nil
		}
		return calls.EventResult{}, err
	}

	if h.Limiter != nil && !requests.IsClaimToken(expected) {
		if err := h.Limiter.Release(ctx); err != nil {
			log.Warn("call slot not released", logger.Err(err))
		}
	}

	updated := req
	updated.Outcome = res.Outcome
	updated.RetryCount = res.RetryCount
	updated.Status = res.Status
	updated.NextAttemptAt = res.NextAttemptAt
	updated.ActiveCallID = ""
	updated.ActiveSince = nil

	if h.Audit != nil {
		if err := h.Audit.LogCallResolved(ctx, typ, req.ID, callID, string(outcome), string(res.Status), retryCount, detail); err != nil {
			log.Warn("audit failed", logger.Err(err))
		}
	}
	log.Info("call resolved", "outcome", outcome, "status", res.Status, "retry_count", retryCount, "action", action.Kind)
	return calls.EventResult{Request: updated, Outcome: outcome, Applied: true, Action: &action}, nil
}

// annotate records a speech transcript on stores that keep notes.
func (h *EventHandler) annotate(ctx context.Context, id, callID, transcript string) {
	a, ok := h.Store.(requests.Annotator)
	if !ok || transcript == "" {
		return
	}
	text := fmt.Sprintf("Confirmation call %s transcript: %q", callID, transcript)
	if err := a.AddNote(ctx, id, text); err != nil {
		logger.From(ctx).Warn("transcript note not saved", "request_id", id, logger.Err(err))
	}
}

func describe(sig calls.Signal) string {
	switch sig.Kind {
	case calls.SignalKeypress:
		return "keypress " + sig.Value
	case calls.SignalSpeech:
		return "speech"
	case calls.SignalProviderStatus:
		return "status " + sig.Value
	case calls.SignalProviderError:
		return "error " + sig.Value
	case calls.SignalNoInput:
		return "no input"
	default:
		return "unknown"
	}
}
