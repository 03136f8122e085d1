package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Lister is implemented by repositories that can read a request's trail back.
type Lister interface {
	ListByRequest(ctx context.Context, requestID string, limit int) ([]Event, error)
}

// Service records the audit trail of call attempts.
//
// IMPORTANT:
//   - Audit is internal-only.
//   - Callers treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var (
	ErrInvalidEvent = errors.New("audit: invalid event")
	ErrNotSupported = errors.New("audit: listing not supported")
	errNoRepository = errors.New("audit: repository not configured")
)

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errNoRepository
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.RequestID == "" && !(e.Type == EventTypeUnknownCall && e.CallID != "") && e.Type != EventTypeManualRun {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// Trail returns the events recorded for a request, oldest first.
func (s *Service) Trail(ctx context.Context, requestID string, limit int) ([]Event, error) {
	l, ok := s.repo.(Lister)
	if !ok {
		return nil, ErrNotSupported
	}
	return l.ListByRequest(ctx, requestID, limit)
}

// LogCallPlaced records a successful placement.
func (s *Service) LogCallPlaced(ctx context.Context, requestID, callID string, retryCount int) error {
	return s.Append(ctx, Event{
		Type:       EventTypeCallPlaced,
		RequestID:  requestID,
		CallID:     callID,
		RetryCount: retryCount,
		Message:    "call placed",
	})
}

// LogCallResolved records the end of an attempt: outcome, resulting status and attempt count.
// typ is one of call_resolved, call_expired or placement_failed.
func (s *Service) LogCallResolved(ctx context.Context, typ EventType, requestID, callID, outcome, status string, retryCount int, message string) error {
	return s.Append(ctx, Event{
		Type:       typ,
		RequestID:  requestID,
		CallID:     callID,
		Outcome:    outcome,
		Status:     status,
		RetryCount: retryCount,
		Message:    message,
	})
}

// LogUnknownCall records a callback no request owns.
func (s *Service) LogUnknownCall(ctx context.Context, callID, requestID, signal string) error {
	return s.Append(ctx, Event{
		Type:      EventTypeUnknownCall,
		CallID:    callID,
		RequestID: requestID,
		Message:   signal,
	})
}

// LogOperatorAction records an operator-triggered action (manual run, API ingestion).
func (s *Service) LogOperatorAction(ctx context.Context, typ EventType, requestID, actorUserID, actorRole, ip, message string) error {
	return s.Append(ctx, Event{
		Type:        typ,
		RequestID:   requestID,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		Message:     message,
	})
}
