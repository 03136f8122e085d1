package telephony

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"callconfirm/internal/calls"
)

func TestParseTwilioCallback(t *testing.T) {
	body := strings.NewReader("CallSid=CA123&From=%2B15551234567&To=%2B15557654321&CallStatus=In-Progress&Digits=1")
	r := httptest.NewRequest(http.MethodPost, "/gather?request_id=r1&claim=claim%3Aabc", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	form, err := ParseTwilioCallback(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if form.CallSid != "CA123" {
		t.Fatalf("expected CallSid")
	}
	if form.From != "+15551234567" || form.To != "+15557654321" {
		t.Fatalf("unexpected from/to: %q %q", form.From, form.To)
	}
	if form.CallStatus != "in-progress" {
		t.Fatalf("expected lower-cased status, got %q", form.CallStatus)
	}

	ev := form.Event(form.GatherSignal())
	if ev.RequestID != "r1" || ev.ClaimToken != "claim:abc" || ev.CallID != "CA123" {
		t.Fatalf("unexpected event ids: %+v", ev)
	}
	if ev.Signal != calls.Keypress("1") {
		t.Fatalf("expected keypress signal, got %+v", ev.Signal)
	}
}

func TestCallbackSignals(t *testing.T) {
	cases := []struct {
		name string
		sig  calls.Signal
		want calls.Signal
	}{
		{"speech", TwilioCallbackForm{SpeechResult: "yes please"}.GatherSignal(), calls.Speech("yes please")},
		{"digits win", TwilioCallbackForm{Digits: "2", SpeechResult: "yes"}.GatherSignal(), calls.Keypress("2")},
		{"nothing", TwilioCallbackForm{}.GatherSignal(), calls.NoInput()},
		{"status", TwilioCallbackForm{CallStatus: "busy"}.StatusSignal(), calls.ProviderStatus("busy")},
		{"provider error", TwilioCallbackForm{CallStatus: "failed", ErrorCode: "13224"}.StatusSignal(), calls.ProviderError("13224")},
		{"no input redirect", TwilioCallbackForm{Reason: "no-input"}.CompleteSignal(), calls.NoInput()},
		{"complete default", TwilioCallbackForm{CallStatus: "in-progress"}.CompleteSignal(), calls.ProviderStatus("completed")},
	}
	for _, tc := range cases {
		if tc.sig != tc.want {
			t.Fatalf("%s: got %+v, want %+v", tc.name, tc.sig, tc.want)
		}
	}
}

func TestCallbackURLs(t *testing.T) {
	script, status := CallbackURLs("https://hooks.example.com/", "r1", "claim:abc")
	if script != "https://hooks.example.com/webhook?claim=claim%3Aabc&request_id=r1" {
		t.Fatalf("unexpected script url %q", script)
	}
	if !strings.HasPrefix(status, "https://hooks.example.com/status?") {
		t.Fatalf("unexpected status url %q", status)
	}
}
