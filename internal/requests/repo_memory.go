package requests

import (
	"context"
	"sort"
	"sync"
	"time"

	"callconfirm/internal/calls"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store useful for tests and local development.
// A single mutex serializes every conditional write.
type MemoryStore struct {
	mu    sync.Mutex
	byID  map[string]calls.Request
	order []string
	notes map[string][]string
	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  map[string]calls.Request{},
		notes: map[string][]string{},
		clock: time.Now,
	}
}

// Put inserts or replaces a request as-is. Intended for seeding.
func (s *MemoryStore) Put(r calls.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[r.ID]; !ok {
		s.order = append(s.order, r.ID)
	}
	s.byID[r.ID] = r
}

func (s *MemoryStore) Create(ctx context.Context, r calls.Request) (calls.Request, error) {
	if err := Validate(&r); err != nil {
		return calls.Request{}, err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.ActiveCallID = ""
	r.ActiveSince = nil
	r.UpdatedAt = s.clock().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[r.ID]; ok {
		return calls.Request{}, ErrConflict
	}
	s.byID[r.ID] = r
	s.order = append(s.order, r.ID)
	return r, nil
}

func (s *MemoryStore) List(ctx context.Context, f ListFilter) ([]calls.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]calls.Request, 0, len(s.order))
	for _, id := range s.order {
		r := s.byID[id]
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *MemoryStore) ListDue(ctx context.Context, now time.Time, limit int) ([]calls.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]calls.Request, 0)
	for _, id := range s.order {
		r := s.byID[id]
		if !r.IsDue(now) {
			continue
		}
		out = append(out, r)
	}
	SortDue(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListStale(ctx context.Context, activeBefore time.Time, limit int) ([]calls.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]calls.Request, 0)
	for _, id := range s.order {
		r := s.byID[id]
		if r.ActiveCallID == "" || r.ActiveSince == nil || !r.ActiveSince.Before(activeBefore) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (calls.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return calls.Request{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) FindByCallID(ctx context.Context, callID string) (calls.Request, error) {
	if callID == "" {
		return calls.Request{}, ErrUnknownCall
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		if r := s.byID[id]; r.ActiveCallID == callID {
			return r, nil
		}
	}
	for _, id := range s.order {
		if r := s.byID[id]; r.LastCallID == callID {
			return r, nil
		}
	}
	return calls.Request{}, ErrUnknownCall
}

func (s *MemoryStore) Claim(ctx context.Context, id string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return "", ErrNotFound
	}
	if r.Status != calls.StatusPending || r.ActiveCallID != "" {
		return "", ErrConflict
	}
	token := NewClaimToken()
	since := now.UTC()
	r.ActiveCallID = token
	r.ActiveSince = &since
	r.UpdatedAt = s.clock().UTC()
	s.byID[id] = r
	return token, nil
}

func (s *MemoryStore) ReleaseClaim(ctx context.Context, id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if token == "" || r.ActiveCallID != token {
		return ErrConflict
	}
	r.ActiveCallID = ""
	r.ActiveSince = nil
	r.UpdatedAt = s.clock().UTC()
	s.byID[id] = r
	return nil
}

func (s *MemoryStore) AttachCall(ctx context.Context, id, token, callID string, placedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if token == "" || r.ActiveCallID != token {
		return ErrConflict
	}
	at := placedAt.UTC()
	r.ActiveCallID = callID
	r.ActiveSince = &at
	r.LastCallID = callID
	r.LastCallTime = &at
	r.UpdatedAt = s.clock().UTC()
	s.byID[id] = r
	return nil
}

func (s *MemoryStore) Resolve(ctx context.Context, id, expectedActive string, res Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if expectedActive == "" || r.ActiveCallID != expectedActive || r.IsTerminal() {
		return ErrConflict
	}
	if res.RetryCount < r.RetryCount {
		return ErrConflict
	}
	r.Outcome = res.Outcome
	r.RetryCount = res.RetryCount
	r.Status = res.Status
	r.NextAttemptAt = copyTime(res.NextAttemptAt)
	if res.AttemptedAt != nil {
		r.LastCallTime = copyTime(res.AttemptedAt)
	}
	r.ActiveCallID = ""
	r.ActiveSince = nil
	r.UpdatedAt = s.clock().UTC()
	s.byID[id] = r
	return nil
}

func (s *MemoryStore) AddNote(ctx context.Context, id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return ErrNotFound
	}
	s.notes[id] = append(s.notes[id], text)
	return nil
}

// Notes returns the notes attached to a request.
func (s *MemoryStore) Notes(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.notes[id]))
	copy(out, s.notes[id])
	return out
}

// SortDue puts first-call requests (nil NextAttemptAt) ahead of retries, oldest retry first.
func SortDue(rs []calls.Request) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i].NextAttemptAt, rs[j].NextAttemptAt
		switch {
		case a == nil:
			return b != nil
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
