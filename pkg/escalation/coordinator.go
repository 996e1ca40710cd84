package escalation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/telekom/sla-escalation/pkg/audit"
	"github.com/telekom/sla-escalation/pkg/breach"
	"github.com/telekom/sla-escalation/pkg/metrics"
	"github.com/telekom/sla-escalation/pkg/notice"
	"github.com/telekom/sla-escalation/pkg/notification"
	"github.com/telekom/sla-escalation/pkg/system"
	"github.com/telekom/sla-escalation/pkg/telemetry"
)

// Outcomes of a single Escalate call, also used as metric labels.
const (
	OutcomeAdvanced = "advanced"
	OutcomeNoop     = "noop"
	OutcomeResolved = "resolved"
	// OutcomeConflict means another evaluation advanced the breach first.
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

// Dispatcher submits one notification. Per-notification send failures are
// reported in the returned record; an error means the submission itself
// could not be recorded.
type Dispatcher interface {
	Dispatch(ctx context.Context, req notification.Request) (*notification.Record, error)
}

// Result describes what one Escalate call did.
type Result struct {
	BreachID     string
	PreviousTier breach.Tier
	// Tier is the tier processed, or the unchanged tier when nothing happened.
	Tier    breach.Tier
	Outcome string
	Records []*notification.Record
	Skipped []Skip
}

// Advanced reports whether the breach moved to a new tier.
func (r Result) Advanced() bool {
	return r.Outcome == OutcomeAdvanced
}

// Failed returns the number of notifications whose send failed.
func (r Result) Failed() int {
	n := 0
	for _, rec := range r.Records {
		if rec.Status == notification.StatusFailed {
			n++
		}
	}
	return n
}

// Coordinator escalates breaches tier by tier. It is safe for concurrent use;
// different breaches escalate independently.
type Coordinator struct {
	store      breach.Store
	dispatcher Dispatcher
	renderer   notice.Renderer
	audit      *audit.Manager
	log        *zap.SugaredLogger
	now        func() time.Time
	tracer     trace.Tracer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithAudit records escalation decisions in the audit trail.
func WithAudit(m *audit.Manager) Option {
	return func(c *Coordinator) {
		c.audit = m
	}
}

// WithLogger sets the coordinator logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithClock overrides the time source used for classification.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(store breach.Store, d Dispatcher, r notice.Renderer, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:      store,
		dispatcher: d,
		renderer:   r,
		log:        zap.S().Named("escalation"),
		now:        time.Now,
		tracer:     telemetry.Tracer("escalation"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Escalate brings e to the tier its age calls for. It is a no-op when e is
// resolved or already at that tier. The tier is advanced only after every
// notification of the tier was submitted, whatever the send outcome; on
// success e is updated in place.
func (c *Coordinator) Escalate(ctx context.Context, e *breach.Event) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "escalation.Escalate", trace.WithAttributes(
		attribute.String("breach.id", e.ID),
		attribute.String("claim.id", e.ClaimID),
		attribute.Int("breach.last_tier", int(e.LastEscalatedTier)),
	))
	defer span.End()

	start := time.Now()
	res := Result{BreachID: e.ID, PreviousTier: e.LastEscalatedTier, Tier: e.LastEscalatedTier}
	log := c.log.With(system.BreachFields(e.ID, e.ClaimID)...)

	if e.Resolved {
		res.Outcome = OutcomeResolved
		c.finish(span, res)
		c.audit.EscalationSkipped(ctx, e, OutcomeResolved)
		log.Debugw("Skipping resolved breach")
		return res, nil
	}

	now := c.now()
	target := Classify(e.CreatedAt, now)
	span.SetAttributes(attribute.Int("breach.target_tier", int(target)))
	if target <= e.LastEscalatedTier {
		res.Outcome = OutcomeNoop
		c.finish(span, res)
		return res, nil
	}

	deliveries, skips := Plan(e, target)
	res.Skipped = skips
	for _, s := range skips {
		log.Warnw("No contact on file for required notice",
			"tier", target, "role", s.Role, "channel", s.Channel, "kind", s.Kind)
	}

	reqs, err := c.requests(e, target, deliveries)
	if err != nil {
		return c.fail(span, res, err)
	}

	records, err := c.submit(ctx, reqs)
	res.Records = records
	if err != nil {
		return c.fail(span, res, fmt.Errorf("submitting tier %d notifications for breach %s: %w", target, e.ID, err))
	}

	from := e.LastEscalatedTier
	if err := c.store.AdvanceTier(ctx, e.ID, from, target, now); err != nil {
		if errors.Is(err, breach.ErrTierConflict) {
			res.Outcome = OutcomeConflict
			c.finish(span, res)
			log.Infow("Breach was advanced concurrently", "tier", target, "error", err.Error())
			return res, nil
		}
		return c.fail(span, res, fmt.Errorf("advancing breach %s to tier %d: %w", e.ID, target, err))
	}

	at := now
	e.LastEscalatedTier = target
	e.LastEscalatedAt = &at
	res.Tier = target
	res.Outcome = OutcomeAdvanced

	c.finish(span, res)
	metrics.EscalationDuration.WithLabelValues(tierLabel(target)).Observe(time.Since(start).Seconds())
	c.audit.EscalationAdvanced(ctx, e, from, target, records)
	log.Infow("Escalated breach",
		"fromTier", from, "toTier", target, "tierName", target.String(),
		"notifications", len(records), "failed", res.Failed(), "skipped", len(skips))
	return res, nil
}

func (c *Coordinator) requests(e *breach.Event, tier breach.Tier, deliveries []Delivery) ([]notification.Request, error) {
	reqs := make([]notification.Request, 0, len(deliveries))
	for _, d := range deliveries {
		content, err := c.renderer.Render(d.Kind, e)
		if err != nil {
			return nil, fmt.Errorf("rendering %s notice for breach %s: %w", d.Kind, e.ID, err)
		}
		reqs = append(reqs, notification.Request{
			Key:       d.Key(e.ID, tier),
			ClaimID:   e.ClaimID,
			Channel:   d.Channel,
			Recipient: d.Recipient,
			Subject:   content.Subject,
			Message:   content.Body,
			Priority:  d.Priority,
			Metadata: map[string]string{
				"noticeKind":     string(d.Kind),
				"breachSeverity": string(e.Severity),
			},
		})
	}
	return reqs, nil
}

// submit dispatches all requests concurrently and waits for every one of them.
func (c *Coordinator) submit(ctx context.Context, reqs []notification.Request) ([]*notification.Record, error) {
	records := make([]*notification.Record, len(reqs))
	errs := make([]error, len(reqs))

	// errors are collected per request so one failure never cancels siblings
	var g errgroup.Group
	for i := range reqs {
		g.Go(func() error {
			rec, err := c.dispatcher.Dispatch(ctx, reqs[i])
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", reqs[i].Key, err)
				return nil
			}
			records[i] = rec
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*notification.Record, 0, len(records))
	for _, rec := range records {
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out, errors.Join(errs...)
}

func (c *Coordinator) finish(span trace.Span, res Result) {
	span.SetAttributes(attribute.String("escalation.outcome", res.Outcome))
	metrics.Escalations.WithLabelValues(tierLabel(res.Tier), res.Outcome).Inc()
}

func (c *Coordinator) fail(span trace.Span, res Result, err error) (Result, error) {
	res.Outcome = OutcomeError
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.finish(span, res)
	c.log.With(system.BreachFields(res.BreachID, "")...).Errorw("Escalation failed", "error", err.Error())
	return res, err
}

func tierLabel(t breach.Tier) string {
	return strconv.Itoa(int(t))
}
