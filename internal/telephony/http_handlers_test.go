package telephony

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"callconfirm/internal/calls"
	"callconfirm/internal/requests"

	"github.com/gin-gonic/gin"
)

type fakeSink struct {
	res    calls.EventResult
	err    error
	events []calls.CallEvent
}

func (s *fakeSink) OnCallEvent(ctx context.Context, ev calls.CallEvent) (calls.EventResult, error) {
	s.events = append(s.events, ev)
	return s.res, s.err
}

func newRouter(sink *fakeSink) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	TwilioWebhookHandler{Events: sink, Scripts: DefaultScripts()}.Register(r)
	return r
}

func post(r http.Handler, target, form string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleVoice_RendersModeScript(t *testing.T) {
	sink := &fakeSink{res: calls.EventResult{
		Request: calls.Request{ID: "r1", Mode: calls.ModeDelivery, Status: calls.StatusPending, ActiveCallID: "CA1"},
		Outcome: calls.OutcomeInProgress,
	}}
	w := post(newRouter(sink), "/webhook?request_id=r1&claim=claim%3Ax", "CallSid=CA1&CallStatus=in-progress")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		"confirm your delivery request",
		`action="/gather?claim=claim%3Ax&amp;request_id=r1"`,
		"/complete?claim=claim%3Ax&amp;reason=no-input&amp;request_id=r1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in body: %s", want, body)
		}
	}
	if got := sink.events[0].Signal; got != calls.ProviderStatus("in-progress") {
		t.Fatalf("expected in-progress signal, got %+v", got)
	}
}

func TestHandleVoice_StaleCallHangsUp(t *testing.T) {
	sink := &fakeSink{res: calls.EventResult{Request: calls.Request{ID: "r1", Status: calls.StatusConfirmed}, Stale: true}}
	w := post(newRouter(sink), "/webhook", "CallSid=CA1")
	if !strings.Contains(w.Body.String(), "<Hangup>") || strings.Contains(w.Body.String(), "<Gather") {
		t.Fatalf("expected bare hangup, got %s", w.Body.String())
	}
}

func TestHandleGather_AcknowledgesOutcome(t *testing.T) {
	sink := &fakeSink{res: calls.EventResult{Outcome: calls.OutcomeConfirmed, Applied: true}}
	w := post(newRouter(sink), "/gather?request_id=r1", "CallSid=CA1&Digits=1")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Thank you for confirming") || !strings.Contains(w.Body.String(), "<Hangup>") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	if sink.events[0].Signal != calls.Keypress("1") || sink.events[0].RequestID != "r1" {
		t.Fatalf("unexpected event: %+v", sink.events[0])
	}
}

func TestHandleComplete_NoInput(t *testing.T) {
	sink := &fakeSink{res: calls.EventResult{Outcome: calls.OutcomeNoAnswer, Applied: true}}
	w := post(newRouter(sink), "/complete?reason=no-input", "CallSid=CA1&CallStatus=in-progress")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if sink.events[0].Signal != calls.NoInput() {
		t.Fatalf("expected no-input signal, got %+v", sink.events[0].Signal)
	}
}

func TestCallbackErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		target string
		err    error
		code   int
		body   string
	}{
		{"unknown call voice", "/webhook", requests.ErrUnknownCall, http.StatusOK, "<Hangup>"},
		{"unknown call status", "/status", requests.ErrUnknownCall, http.StatusOK, "OK"},
		{"store down", "/status", fmt.Errorf("%w: timeout", requests.ErrUnavailable), http.StatusServiceUnavailable, "store unavailable"},
		{"unexpected", "/gather", fmt.Errorf("boom"), http.StatusInternalServerError, "callback failed"},
	}
	for _, tc := range cases {
		w := post(newRouter(&fakeSink{err: tc.err}), tc.target, "CallSid=CA9&CallStatus=busy")
		if w.Code != tc.code {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.code, w.Code)
		}
		if !strings.Contains(w.Body.String(), tc.body) {
			t.Fatalf("%s: expected %q in %s", tc.name, tc.body, w.Body.String())
		}
	}
}

func TestCallbackRequiresCallSid(t *testing.T) {
	w := post(newRouter(&fakeSink{}), "/status", "CallStatus=busy")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
