package telephony

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// LoopbackProvider accepts every call without dialing anything. It backs local runs without
// provider credentials and the tests; results are injected by posting to the webhooks.
//
// IMPORTANT:
//   - Keep this adapter free of business logic.
type LoopbackProvider struct {
	mu     sync.Mutex
	placed []OutboundCallRequest

	// Err, when set, fails every placement (wrapped with ErrProviderUnavailable).
	Err error
}

func NewLoopbackProvider() *LoopbackProvider { return &LoopbackProvider{} }

func (p *LoopbackProvider) Name() string { return "loopback" }

func (p *LoopbackProvider) HealthCheck(ctx context.Context) error { return nil }

func (p *LoopbackProvider) PlaceCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return OutboundCallResult{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, p.Err)
	}
	p.placed = append(p.placed, req)
	return OutboundCallResult{CallID: "LB" + uuid.NewString(), Status: "queued"}, nil
}

// Placed returns the calls accepted so far.
func (p *LoopbackProvider) Placed() []OutboundCallRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]OutboundCallRequest, len(p.placed))
	copy(out, p.placed)
	return out
}

// SetErr switches placement failures on or off.
func (p *LoopbackProvider) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Err = err
}
