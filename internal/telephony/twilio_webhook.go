package telephony

import (
	"net/http"
	"strings"

	"callconfirm/internal/calls"
)

// TwilioCallbackForm captures the subset of voice callback fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/twiml
//
// RequestID, ClaimToken and Reason come from the query string of the callback URL.
type TwilioCallbackForm struct {
	CallSid      string
	AccountSid   string
	From         string
	To           string
	CallStatus   string
	Digits       string
	SpeechResult string
	Confidence   string
	CallDuration string
	RecordingURL string
	ErrorCode    string

	RequestID  string
	ClaimToken string
	Reason     string
}

func ParseTwilioCallback(r *http.Request) (TwilioCallbackForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioCallbackForm{}, err
	}
	q := r.URL.Query()
	f := TwilioCallbackForm{
		CallSid:      strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid:   r.PostFormValue("AccountSid"),
		From:         normalizePhone(r.PostFormValue("From")),
		To:           normalizePhone(r.PostFormValue("To")),
		CallStatus:   strings.ToLower(strings.TrimSpace(r.PostFormValue("CallStatus"))),
		Digits:       strings.TrimSpace(r.PostFormValue("Digits")),
		SpeechResult: strings.TrimSpace(r.PostFormValue("SpeechResult")),
		Confidence:   r.PostFormValue("Confidence"),
		CallDuration: r.PostFormValue("CallDuration"),
		RecordingURL: r.PostFormValue("RecordingUrl"),
		ErrorCode:    r.PostFormValue("ErrorCode"),
		RequestID:    q.Get(QueryRequestID),
		ClaimToken:   q.Get(QueryClaim),
		Reason:       q.Get(QueryReason),
	}
	return f, nil
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return s
}

// Event wraps a signal with the identifiers of this callback.
func (f TwilioCallbackForm) Event(sig calls.Signal) calls.CallEvent {
	return calls.CallEvent{
		CallID:     f.CallSid,
		RequestID:  f.RequestID,
		ClaimToken: f.ClaimToken,
		Signal:     sig,
	}
}

// GatherSignal is the customer's answer: digits win over speech, nothing is no-input.
func (f TwilioCallbackForm) GatherSignal() calls.Signal {
	switch {
	case f.Digits != "":
		return calls.Keypress(f.Digits)
	case f.SpeechResult != "":
		return calls.Speech(f.SpeechResult)
	default:
		return calls.NoInput()
	}
}

// StatusSignal maps a status callback. A failed call with an error code is a provider error.
func (f TwilioCallbackForm) StatusSignal() calls.Signal {
	if f.ErrorCode != "" && f.CallStatus == string(calls.CallStatusFailed) {
		return calls.ProviderError(f.ErrorCode)
	}
	return calls.ProviderStatus(f.CallStatus)
}

// CompleteSignal maps the end-of-script redirect.
func (f TwilioCallbackForm) CompleteSignal() calls.Signal {
	if f.Reason == "no-input" {
		return calls.NoInput()
	}
	status := f.CallStatus
	if status == "" || status == string(calls.CallStatusInProgress) {
		status = string(calls.CallStatusCompleted)
	}
	return calls.ProviderStatus(status)
}
