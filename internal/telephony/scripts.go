package telephony

import (
	"errors"
	"fmt"
	"os"

	"callconfirm/internal/calls"

	"gopkg.in/yaml.v3"
)

// Script is the voice script for one mode.
type Script struct {
	Prompt  string `yaml:"prompt"`
	NoInput string `yaml:"no_input"`
}

// ScriptCatalog holds the prompts for every mode plus the goodbye messages per outcome.
// It can be overridden from a YAML file; missing entries keep their defaults.
type ScriptCatalog struct {
	Voice                string                   `yaml:"voice"`
	Language             string                   `yaml:"language"`
	GatherTimeoutSeconds int                      `yaml:"gather_timeout_seconds"`
	Modes                map[calls.Mode]Script    `yaml:"modes"`
	Acknowledgements     map[calls.Outcome]string `yaml:"acknowledgements"`
	Fallback             string                   `yaml:"fallback"`
}

const defaultNoInput = "We didn't receive your response. Please call back or contact customer service."

func DefaultScripts() ScriptCatalog {
	prompt := func(what string) string {
		return "Hello, this is a call to confirm your " + what + " request. " +
			"Please confirm by saying 'yes' or pressing 1. " +
			"To decline, say 'no' or press 2. " +
			"If you need to reschedule, say 'reschedule' or press 3."
	}
	return ScriptCatalog{
		Voice:                "alice",
		Language:             "en-US",
		GatherTimeoutSeconds: 10,
		Modes: map[calls.Mode]Script{
			calls.ModePickup:   {Prompt: prompt("pickup"), NoInput: defaultNoInput},
			calls.ModeDelivery: {Prompt: prompt("delivery"), NoInput: defaultNoInput},
		},
		Acknowledgements: map[calls.Outcome]string{
			calls.OutcomeConfirmed: "Thank you for confirming. Your request has been confirmed. " +
				"You will receive a confirmation email shortly. Goodbye!",
			calls.OutcomeDeclined: "We understand you need to decline. Your request has been cancelled. " +
				"If you change your mind, please contact customer service. Goodbye!",
			calls.OutcomeReschedule: "We understand you need to reschedule. Please contact customer service " +
				"to arrange a new time. Thank you for your patience. Goodbye!",
		},
		Fallback: "We didn't understand your response. Please contact customer service for assistance. Goodbye!",
	}
}

// LoadScripts reads a YAML catalog and layers it over the defaults.
func LoadScripts(path string) (ScriptCatalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ScriptCatalog{}, fmt.Errorf("telephony: read scripts: %w", err)
	}
	return ParseScripts(b)
}

func ParseScripts(b []byte) (ScriptCatalog, error) {
	var in ScriptCatalog
	if err := yaml.Unmarshal(b, &in); err != nil {
		return ScriptCatalog{}, fmt.Errorf("telephony: parse scripts: %w", err)
	}

	out := DefaultScripts()
	if in.Voice != "" {
		out.Voice = in.Voice
	}
	if in.Language != "" {
		out.Language = in.Language
	}
	if in.GatherTimeoutSeconds > 0 {
		out.GatherTimeoutSeconds = in.GatherTimeoutSeconds
	}
	if in.Fallback != "" {
		out.Fallback = in.Fallback
	}
	for mode, s := range in.Modes {
		if _, err := calls.ParseMode(string(mode)); err != nil {
			return ScriptCatalog{}, fmt.Errorf("telephony: parse scripts: %w", err)
		}
		cur := out.Modes[mode]
		if s.Prompt != "" {
			cur.Prompt = s.Prompt
		}
		if s.NoInput != "" {
			cur.NoInput = s.NoInput
		}
		out.Modes[mode] = cur
	}
	for o, text := range in.Acknowledgements {
		out.Acknowledgements[o] = text
	}
	return out, out.Validate()
}

func (c ScriptCatalog) Validate() error {
	var errs []error
	for _, m := range []calls.Mode{calls.ModePickup, calls.ModeDelivery} {
		if c.Modes[m].Prompt == "" {
			errs = append(errs, fmt.Errorf("telephony: script for mode %q has no prompt", m))
		}
	}
	return errors.Join(errs...)
}

// For returns the script for a mode.
func (c ScriptCatalog) For(mode calls.Mode) (Script, error) {
	s, ok := c.Modes[mode]
	if !ok || s.Prompt == "" {
		return Script{}, fmt.Errorf("telephony: no script for mode %q", mode)
	}
	if s.NoInput == "" {
		s.NoInput = defaultNoInput
	}
	return s, nil
}

// Acknowledgement is the goodbye message played after an answer was classified.
func (c ScriptCatalog) Acknowledgement(o calls.Outcome) string {
	if text, ok := c.Acknowledgements[o]; ok && text != "" {
		return text
	}
	return c.Fallback
}
