package telephony

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

// ErrProviderUnavailable means the provider refused or failed to place a call.
var ErrProviderUnavailable = errors.New("telephony: provider unavailable")

// Provider defines the provider-agnostic interface used by the dispatcher.
//
// Rules:
//   - No provider SDK calls outside telephony adapters.
//   - Placement failures are returned wrapped with ErrProviderUnavailable.
//   - Call results arrive asynchronously through the webhook handlers, never from PlaceCall.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error
	PlaceCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error)
}

// OutboundCallRequest asks the provider to dial To and run the script served at ScriptURL.
type OutboundCallRequest struct {
	RequestID string `json:"request_id"`

	// To is E.164 where possible.
	To string `json:"to"`

	ScriptURL         string `json:"script_url"`
	StatusCallbackURL string `json:"status_callback_url,omitempty"`

	Record bool `json:"record"`
}

type OutboundCallResult struct {
	// CallID is the provider's unique identifier for this call.
	CallID string `json:"call_id"`
	Status string `json:"status,omitempty"`
}

const (
	PathVoice    = "/webhook"
	PathGather   = "/gather"
	PathComplete = "/complete"
	PathStatus   = "/status"

	QueryRequestID = "request_id"
	QueryClaim     = "claim"
	QueryReason    = "reason"
)

// CallbackURLs builds the script and status callback URLs for one call attempt.
// Both carry the request id and claim token so callbacks can be matched before the
// provider call id is recorded.
func CallbackURLs(baseURL, requestID, claimToken string) (scriptURL, statusURL string) {
	q := url.Values{}
	q.Set(QueryRequestID, requestID)
	q.Set(QueryClaim, claimToken)
	base := strings.TrimRight(baseURL, "/")
	return base + PathVoice + "?" + q.Encode(), base + PathStatus + "?" + q.Encode()
}
