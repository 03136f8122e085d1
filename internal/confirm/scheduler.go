package confirm

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"callconfirm/internal/requests"
	"callconfirm/pkg/logger"
)

const (
	DefaultScanInterval = time.Minute
	DefaultBatchSize    = 50
	DefaultParallelism  = 4
)

// ScanReport summarizes one scheduler pass.
type ScanReport struct {
	Expired   int           `json:"expired"`
	Due       int           `json:"due"`
	Placed    int           `json:"placed"`
	Skipped   int           `json:"skipped"`
	Exhausted int           `json:"exhausted"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration_ns"`
}

// Scheduler periodically expires calls whose webhook never came and dispatches due requests.
// Passes may overlap (a timer pass and a manual run): claims keep each request to one call.
type Scheduler struct {
	Store      requests.Store
	Dispatcher *Dispatcher
	Events     *EventHandler

	Interval    time.Duration
	BatchSize   int
	Parallelism int
	// StaleAfter is how long a call may stay active before it is expired. Zero disables expiry.
	StaleAfter time.Duration

	Now func() time.Time
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Run scans until ctx is cancelled. A failed pass is logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	log := logger.From(ctx).With("component", "scheduler")
	log.Info("scheduler started", "interval", interval.String())

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error("scan failed", logger.Err(err))
		}
		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return nil
		case <-t.C:
		}
	}
}

// RunOnce performs one pass: expire stale calls, then dispatch due requests.
func (s *Scheduler) RunOnce(ctx context.Context) (ScanReport, error) {
	start := time.Now()
	log := logger.From(ctx).With("component", "scheduler")
	var rep ScanReport

	now := s.now()
	batch := s.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	if s.StaleAfter > 0 && s.Events != nil {
		stale, err := s.Store.ListStale(ctx, now.Add(-s.StaleAfter), batch)
		if err != nil {
			return rep, err
		}
		for _, r := range stale {
			res, err := s.Events.Expire(ctx, r)
			if err != nil {
				log.Warn("stale call not expired", "request_id", r.ID, logger.Err(err))
				continue
			}
			if res.Applied {
				rep.Expired++
			}
		}
	}

	due, err := s.Store.ListDue(ctx, now, batch)
	if err != nil {
		return rep, err
	}
	rep.Due = len(due)

	par := s.Parallelism
	if par <= 0 {
		par = DefaultParallelism
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(par)
	for _, r := range due {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			_, err := s.Dispatcher.Dispatch(ctx, r)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				rep.Placed++
			case errors.Is(err, requests.ErrConflict), errors.Is(err, ErrNotDispatchable), errors.Is(err, ErrCallCapReached):
				rep.Skipped++
			case errors.Is(err, ErrAttemptsExhausted):
				rep.Exhausted++
			default:
				rep.Failed++
				log.Warn("dispatch failed", "request_id", r.ID, logger.Err(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	rep.Duration = time.Since(start)
	if rep.Due > 0 || rep.Expired > 0 {
		log.Info("scan complete",
			"due", rep.Due, "placed", rep.Placed, "skipped", rep.Skipped,
			"exhausted", rep.Exhausted, "failed", rep.Failed, "expired", rep.Expired,
			"duration_ms", rep.Duration.Milliseconds())
	}
	return rep, nil
}
