// Package scanner periodically evaluates every open breach and escalates the
// ones whose age crossed a tier boundary.
package scanner

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/telekom/sla-escalation/pkg/breach"
	"github.com/telekom/sla-escalation/pkg/escalation"
	"github.com/telekom/sla-escalation/pkg/metrics"
	"github.com/telekom/sla-escalation/pkg/system"
)

const (
	DefaultInterval    = 5 * time.Minute
	DefaultConcurrency = 8
)

// Escalator is implemented by *escalation.Coordinator.
type Escalator interface {
	Escalate(ctx context.Context, e *breach.Event) (escalation.Result, error)
}

// Reclaimer is implemented by *dispatch.Dispatcher.
type Reclaimer interface {
	ReclaimStale(ctx context.Context) (int, error)
}

// Summary counts the outcomes of one scan.
type Summary struct {
	// Reclaimed counts stale pending notifications sent again.
	Reclaimed int
	Evaluated int
	Advanced  int
	Noop      int
	Conflicts int
	Resolved  int
	Errors    int
}

func (s *Summary) add(outcome string) {
	s.Evaluated++
	switch outcome {
	case escalation.OutcomeAdvanced:
		s.Advanced++
	case escalation.OutcomeNoop:
		s.Noop++
	case escalation.OutcomeConflict:
		s.Conflicts++
	case escalation.OutcomeResolved:
		s.Resolved++
	default:
		s.Errors++
	}
}

// Scanner runs escalation for all open breaches on a fixed interval.
type Scanner struct {
	Log         *zap.SugaredLogger
	Store       breach.Store
	Escalator   Escalator
	// Reclaimer, when set, re-sends notifications whose dispatch was
	// interrupted before each scan.
	Reclaimer   Reclaimer
	Interval    time.Duration
	Concurrency int
}

// Start scans immediately and then every Interval until ctx is cancelled.
func (s Scanner) Start(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	lg := s.Log.Named("scanner")
	lg.Infow("Starting breach scanner", "interval", interval.String(), "concurrency", s.concurrency())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			lg.Info("Breach scanner stopping (context canceled)")
			return
		default:
		}
		if _, err := s.RunOnce(ctx); err != nil {
			lg.Errorw("Breach scan failed", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			lg.Info("Breach scanner stopping (context canceled)")
			return
		case <-ticker.C:
		}
	}
}

func (s Scanner) concurrency() int {
	if s.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return s.Concurrency
}

// RunOnce reclaims stale pending notifications and then evaluates every
// open breach once. Breaches are escalated in
// parallel up to Concurrency; a failing breach does not affect the others.
// The returned error is set only when the breach list could not be read.
func (s Scanner) RunOnce(ctx context.Context) (Summary, error) {
	lg := s.Log.Named("scanner")
	var summary Summary
	if s.Reclaimer != nil {
		n, err := s.Reclaimer.ReclaimStale(ctx)
		summary.Reclaimed = n
		if err != nil {
			lg.Warnw("Reclaiming stale notifications failed, will retry on next scan", "error", err.Error())
		} else if n > 0 {
			lg.Infow("Reclaimed stale notifications", "count", n)
		}
	}

	open, err := s.Store.List(ctx, breach.ListOptions{OpenOnly: true})
	if err != nil {
		metrics.Scans.WithLabelValues("error").Inc()
		return summary, err
	}
	metrics.OpenBreaches.Set(float64(len(open)))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.concurrency())
	for _, e := range open {
		if ctx.Err() != nil {
			break
		}
		e := e
		g.Go(func() error {
			res, err := s.Escalator.Escalate(ctx, e)
			if err != nil {
				lg.With(system.BreachFields(e.ID, e.ClaimID)...).Warnw("Escalation failed, will retry on next scan", "error", err.Error())
			}
			mu.Lock()
			summary.add(res.Outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	result := "ok"
	if summary.Errors > 0 {
		result = "partial"
	}
	metrics.Scans.WithLabelValues(result).Inc()
	lg.Infow("Breach scan finished",
		"open", len(open), "reclaimed", summary.Reclaimed, "evaluated", summary.Evaluated, "advanced", summary.Advanced,
		"conflicts", summary.Conflicts, "errors", summary.Errors)
	return summary, ctx.Err()
}
