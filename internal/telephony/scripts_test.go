package telephony

import (
	"strings"
	"testing"

	"callconfirm/internal/calls"
)

func TestDefaultScripts_CoverEveryMode(t *testing.T) {
	c := DefaultScripts()
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	s, err := c.For(calls.ModeDelivery)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !strings.Contains(s.Prompt, "delivery") {
		t.Fatalf("expected delivery prompt, got %q", s.Prompt)
	}
	if _, err := c.For(calls.Mode("drone")); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
	if c.Acknowledgement(calls.OutcomeFailed) != c.Fallback {
		t.Fatalf("expected fallback for outcomes without an acknowledgement")
	}
}

func TestParseScripts_OverridesDefaults(t *testing.T) {
	doc := []byte(`
voice: Polly.Joanna
gather_timeout_seconds: 6
modes:
  pickup:
    prompt: "Pickup today? Press 1 for yes."
acknowledgements:
  confirmed: "Great, see you soon."
`)
	c, err := ParseScripts(doc)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.Voice != "Polly.Joanna" || c.Language != "en-US" || c.GatherTimeoutSeconds != 6 {
		t.Fatalf("unexpected catalog settings: %+v", c)
	}
	p, _ := c.For(calls.ModePickup)
	if p.Prompt != "Pickup today? Press 1 for yes." || p.NoInput == "" {
		t.Fatalf("unexpected pickup script: %+v", p)
	}
	d, _ := c.For(calls.ModeDelivery)
	if !strings.Contains(d.Prompt, "delivery") {
		t.Fatalf("expected delivery default kept")
	}
	if c.Acknowledgement(calls.OutcomeConfirmed) != "Great, see you soon." {
		t.Fatalf("expected confirmed acknowledgement override")
	}
}

func TestParseScripts_RejectsUnknownMode(t *testing.T) {
	if _, err := ParseScripts([]byte("modes:\n  teleport:\n    prompt: hi\n")); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
