package calls

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		sig  Signal
		want Outcome
	}{
		{Keypress("1"), OutcomeConfirmed},
		{Keypress("2"), OutcomeDeclined},
		{Keypress("3"), OutcomeReschedule},
		{Keypress("9"), OutcomeFailed},
		{Keypress(""), OutcomeFailed},

		{Speech("Yes, that works"), OutcomeConfirmed},
		{Speech("I confirm"), OutcomeConfirmed},
		{Speech("no thanks"), OutcomeDeclined},
		{Speech("I don't know"), OutcomeFailed},
		{Speech("can we reschedule"), OutcomeReschedule},
		{Speech("no, I need to reschedule"), OutcomeReschedule},
		{Speech("yes no"), OutcomeFailed},

		{ProviderStatus("no-answer"), OutcomeNoAnswer},
		{ProviderStatus("busy"), OutcomeBusy},
		{ProviderStatus("failed"), OutcomeFailed},
		{ProviderStatus("canceled"), OutcomeFailed},
		{ProviderStatus("completed"), OutcomeFailed},
		{ProviderStatus("ringing"), OutcomeInProgress},
		{ProviderStatus("in-progress"), OutcomeInProgress},
		{ProviderStatus("exploded"), OutcomeFailed},

		{ProviderError("timeout"), OutcomeFailed},
		{NoInput(), OutcomeNoAnswer},
		{Signal{}, OutcomeFailed},
	}
	for _, tc := range cases {
		if got := Classify(tc.sig); got != tc.want {
			t.Fatalf("Classify(%+v) = %q, want %q", tc.sig, got, tc.want)
		}
	}
}
