package requests

import (
	"context"
	"errors"
	"strings"
	"time"

	"callconfirm/internal/calls"

	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("requests: not found")
	ErrUnknownCall = errors.New("requests: unknown call")
	// ErrConflict means a conditional write lost a race. Callers abandon silently.
	ErrConflict = errors.New("requests: conflict")
	// ErrUnavailable is a transient store failure. It never maps to a call outcome.
	ErrUnavailable = errors.New("requests: store unavailable")
	ErrInvalid     = errors.New("requests: invalid request")
)

const claimPrefix = "claim:"

// NewClaimToken returns a placeholder stored as ActiveCallID while a call is being placed.
func NewClaimToken() string { return claimPrefix + uuid.NewString() }

// IsClaimToken reports whether an ActiveCallID is a placeholder rather than a provider call id.
func IsClaimToken(v string) bool { return strings.HasPrefix(v, claimPrefix) }

// ListFilter narrows List. Zero value lists everything.
type ListFilter struct {
	Status *calls.Status
}

// Resolution is the single write that ends a call attempt.
//
// NextAttemptAt nil clears any pending retry time. AttemptedAt is set only by the dispatcher
// when a placement fails inline; webhook resolutions leave LastCallTime untouched.
type Resolution struct {
	Outcome       calls.Outcome
	RetryCount    int
	Status        calls.Status
	NextAttemptAt *time.Time
	AttemptedAt   *time.Time
}

// Store is the persistence contract for confirmation requests.
//
// Concurrency contract:
//   - Claim succeeds for exactly one caller while ActiveCallID is empty.
//   - AttachCall, Resolve and ReleaseClaim are conditional on the current ActiveCallID and
//     return ErrConflict when it does not match.
//   - Transient backend failures are wrapped with ErrUnavailable.
type Store interface {
	List(ctx context.Context, f ListFilter) ([]calls.Request, error)
	// ListDue returns pending requests with no active call whose retry time has elapsed.
	ListDue(ctx context.Context, now time.Time, limit int) ([]calls.Request, error)
	// ListStale returns requests whose active call was set before activeBefore.
	ListStale(ctx context.Context, activeBefore time.Time, limit int) ([]calls.Request, error)
	Get(ctx context.Context, id string) (calls.Request, error)
	// FindByCallID matches the active call first, then the last placed call.
	FindByCallID(ctx context.Context, callID string) (calls.Request, error)

	Claim(ctx context.Context, id string, now time.Time) (token string, err error)
	ReleaseClaim(ctx context.Context, id, token string) error
	AttachCall(ctx context.Context, id, token, callID string, placedAt time.Time) error
	Resolve(ctx context.Context, id, expectedActive string, res Resolution) error
}

// Creator is implemented by backends that accept new requests through the API.
type Creator interface {
	Create(ctx context.Context, r calls.Request) (calls.Request, error)
}

// Annotator is implemented by backends that can attach free-text notes (transcripts) to a request.
type Annotator interface {
	AddNote(ctx context.Context, id, text string) error
}

// Validate checks a request submitted for creation and fills defaults.
func Validate(r *calls.Request) error {
	r.Phone = strings.TrimSpace(r.Phone)
	if r.Phone == "" {
		return errors.Join(ErrInvalid, errors.New("phone is required"))
	}
	m, err := calls.ParseMode(string(r.Mode))
	if err != nil {
		return errors.Join(ErrInvalid, err)
	}
	r.Mode = m
	if r.Status == "" {
		r.Status = calls.StatusPending
	}
	if r.RetryCount < 0 {
		return errors.Join(ErrInvalid, errors.New("retry_count must be >= 0"))
	}
	return nil
}
