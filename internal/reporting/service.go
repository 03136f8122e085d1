package reporting

import (
	"context"
	"errors"
	"time"

	"callconfirm/internal/calls"
	"callconfirm/internal/requests"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting. requests.Store satisfies it.
type Repository interface {
	List(ctx context.Context, f requests.ListFilter) ([]calls.Request, error)
}

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service { return &Service{repo: repo, now: time.Now} }

func (s *Service) OutcomeSummary(ctx context.Context, req OutcomeSummaryRequest) (OutcomeSummary, error) {
	ranged := !req.Range.From.IsZero() || !req.Range.To.IsZero()
	if ranged && (req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From)) {
		return OutcomeSummary{}, ErrInvalidRequest
	}
	if req.Mode != "" {
		if _, err := calls.ParseMode(string(req.Mode)); err != nil {
			return OutcomeSummary{}, ErrInvalidRequest
		}
	}
	if s.repo == nil {
		return OutcomeSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.List(ctx, requests.ListFilter{})
	if err != nil {
		return OutcomeSummary{}, err
	}

	now := s.now().UTC()
	out := OutcomeSummary{ByOutcome: map[calls.Outcome]int{}}
	for _, r := range rows {
		if req.Mode != "" && r.Mode != req.Mode {
			continue
		}
		if ranged && !r.UpdatedAt.IsZero() {
			if r.UpdatedAt.Before(req.Range.From) || !r.UpdatedAt.Before(req.Range.To) {
				continue
			}
		}

		out.Total++
		out.TotalAttempts += r.RetryCount
		if r.Outcome != "" {
			out.ByOutcome[r.Outcome]++
		}
		if r.HasActiveCall() {
			out.InFlight++
		}
		if r.IsDue(now) {
			out.Due++
		}
		switch r.Status {
		case calls.StatusPending:
			out.Pending++
		case calls.StatusConfirmed:
			out.Confirmed++
		case calls.StatusUnavailable:
			out.Unavailable++
		}
	}

	if out.Total > 0 {
		out.AverageAttempts = float64(out.TotalAttempts) / float64(out.Total)
	}
	if terminal := out.Confirmed + out.Unavailable; terminal > 0 {
		out.ConfirmationRate = float64(out.Confirmed) / float64(terminal)
	}
	return out, nil
}
