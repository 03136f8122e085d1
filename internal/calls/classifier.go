package calls

import (
	"strings"
	"unicode"
)

// SignalKind tags the variant carried by a Signal.
type SignalKind int

const (
	SignalUnknown SignalKind = iota
	SignalKeypress
	SignalSpeech
	SignalProviderStatus
	SignalProviderError
	// SignalNoInput: the customer answered but gave no input before the gather timed out.
	SignalNoInput
)

// Signal is a raw call result as delivered by the provider.
type Signal struct {
	Kind  SignalKind
	Value string
}

func Keypress(digits string) Signal       { return Signal{Kind: SignalKeypress, Value: digits} }
func Speech(text string) Signal           { return Signal{Kind: SignalSpeech, Value: text} }
func ProviderStatus(status string) Signal { return Signal{Kind: SignalProviderStatus, Value: status} }
func ProviderError(reason string) Signal  { return Signal{Kind: SignalProviderError, Value: reason} }
func NoInput() Signal                     { return Signal{Kind: SignalNoInput} }

var (
	affirmativeWords = map[string]struct{}{"yes": {}, "yeah": {}, "yep": {}, "confirm": {}, "confirmed": {}, "correct": {}, "sure": {}}
	negativeWords    = map[string]struct{}{"no": {}, "nope": {}, "decline": {}, "declined": {}, "cancel": {}}
)

// Classify maps a raw signal to exactly one Outcome. Unrecognized input is OutcomeFailed.
func Classify(sig Signal) Outcome {
	switch sig.Kind {
	case SignalKeypress:
		return classifyKeypress(sig.Value)
	case SignalSpeech:
		return classifySpeech(sig.Value)
	case SignalProviderStatus:
		return classifyStatus(CallStatus(strings.ToLower(strings.TrimSpace(sig.Value))))
	case SignalProviderError:
		return OutcomeFailed
	case SignalNoInput:
		return OutcomeNoAnswer
	case SignalUnknown:
		return OutcomeFailed
	default:
		return OutcomeFailed
	}
}

func classifyKeypress(digits string) Outcome {
	switch strings.TrimSpace(digits) {
	case "1":
		return OutcomeConfirmed
	case "2":
		return OutcomeDeclined
	case "3":
		return OutcomeReschedule
	default:
		return OutcomeFailed
	}
}

// classifySpeech works on whole words so "know" never reads as "no".
// Reschedule wins over a bare yes/no in the same utterance.
func classifySpeech(text string) Outcome {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	var yes, no bool
	for _, w := range words {
		if strings.HasPrefix(w, "reschedul") {
			return OutcomeReschedule
		}
		if _, ok := affirmativeWords[w]; ok {
			yes = true
		}
		if _, ok := negativeWords[w]; ok {
			no = true
		}
	}
	switch {
	case yes && !no:
		return OutcomeConfirmed
	case no && !yes:
		return OutcomeDeclined
	default:
		return OutcomeFailed
	}
}

func classifyStatus(s CallStatus) Outcome {
	switch s {
	case CallStatusQueued, CallStatusInitiated, CallStatusRinging, CallStatusInProgress, CallStatusAnswered:
		return OutcomeInProgress
	case CallStatusNoAnswer:
		return OutcomeNoAnswer
	case CallStatusBusy:
		return OutcomeBusy
	case CallStatusFailed, CallStatusCanceled, CallStatusCompleted:
		// completed only reaches here when the call ended without a recorded answer.
		return OutcomeFailed
	default:
		return OutcomeFailed
	}
}
