package calls

// CallEvent is one asynchronous provider event for an outbound call.
//
// RequestID and ClaimToken are echoed back by the provider from the script URL. They let an
// event be matched to its request when it arrives before the dispatcher recorded the call id.
type CallEvent struct {
	CallID     string
	RequestID  string
	ClaimToken string
	Signal     Signal
}

// EventResult describes what handling an event did.
type EventResult struct {
	Request Request
	Outcome Outcome

	// Applied is true when the event changed the request.
	Applied bool
	// Stale is true when the event belongs to a call that is no longer active
	// (duplicate delivery, late callback, superseded attempt).
	Stale bool

	Action *Action
}
