// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/telekom/sla-escalation/pkg/breaker"
	"github.com/telekom/sla-escalation/pkg/ledger"
	"github.com/telekom/sla-escalation/pkg/metrics"
	"github.com/telekom/sla-escalation/pkg/notification"
	"github.com/telekom/sla-escalation/pkg/telemetry"
)

var (
	// ErrCircuitOpen is the failure recorded when a channel's circuit is open.
	ErrCircuitOpen = breaker.ErrOpen
	// ErrNoProvider is the failure recorded when no sender is configured for a channel.
	ErrNoProvider = errors.New("no provider configured for channel")
)

// EmailSender delivers an email through an external provider.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender delivers a text message through an external provider.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Dispatcher sends notification requests and records them in a Ledger.
type Dispatcher struct {
	ledger ledger.Ledger
	email  EmailSender
	sms    SMSSender
	cfg    Config
	log    *zap.SugaredLogger
	now    func() time.Time
	// sleep waits between retries and returns early when ctx is done.
	sleep  func(ctx context.Context, d time.Duration) error
	tracer trace.Tracer

	breakers map[notification.Channel]*breaker.Breaker
	limiters map[notification.Channel]*rate.Limiter
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithEmail sets the email provider. Without one, email requests fail.
func WithEmail(s EmailSender) Option {
	return func(d *Dispatcher) {
		d.email = s
	}
}

// WithSMS sets the SMS provider. Without one, SMS requests fail.
func WithSMS(s SMSSender) Option {
	return func(d *Dispatcher) {
		d.sms = s
	}
}

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(d *Dispatcher) {
		d.cfg = cfg
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// WithClock overrides the time source for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// New creates a Dispatcher writing to l.
func New(l ledger.Ledger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		ledger: l,
		cfg:    DefaultConfig(),
		log:    zap.S().Named("dispatch"),
		now:    time.Now,
		sleep:  sleepContext,
		tracer: telemetry.Tracer("dispatch"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}

	if d.cfg.SendTimeout <= 0 {
		d.cfg.SendTimeout = DefaultConfig().SendTimeout
	}
	if d.cfg.Retries < 0 {
		d.cfg.Retries = 0
	}

	bcfg := d.cfg.Breaker
	if bcfg.IsFailure == nil {
		// a caller giving up says nothing about the provider
		bcfg.IsFailure = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	d.breakers = map[notification.Channel]*breaker.Breaker{
		notification.ChannelEmail: breaker.New("dispatch-email", bcfg, d.log.Desugar()),
		notification.ChannelSMS:   breaker.New("dispatch-sms", bcfg, d.log.Desugar()),
	}
	d.limiters = make(map[notification.Channel]*rate.Limiter, len(d.cfg.RateLimits))
	for ch, rl := range d.cfg.RateLimits {
		if rl.RequestsPerSecond <= 0 {
			continue
		}
		burst := rl.Burst
		if burst <= 0 {
			burst = 1
		}
		d.limiters[ch] = rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), burst)
	}
	return d
}

// Breaker returns the circuit breaker guarding ch, or nil for channels
// without an external provider.
func (d *Dispatcher) Breaker(ch notification.Channel) *breaker.Breaker {
	return d.breakers[ch]
}

func validateRequest(req notification.Request) error {
	var errs []error
	if !req.Channel.Valid() {
		errs = append(errs, fmt.Errorf("invalid channel %q", req.Channel))
	}
	if !req.Priority.Valid() {
		errs = append(errs, fmt.Errorf("invalid priority %q", req.Priority))
	}
	if req.Recipient == "" {
		errs = append(errs, errors.New("recipient is required"))
	}
	if req.ClaimID == "" {
		errs = append(errs, errors.New("claimId is required"))
	}
	return errors.Join(errs...)
}

// Dispatch records req as pending, attempts the channel send and records
// the outcome. Send failures are reported in the returned record's status
// and FailureReason; the error is non-nil only when the request is invalid
// or the ledger could not be written.
//
// A request whose idempotency key was already submitted returns the existing
// record without sending, unless that record is still pending after
// StaleAfter, in which case the interrupted send is attempted again.
func (d *Dispatcher) Dispatch(ctx context.Context, req notification.Request) (*notification.Record, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.Dispatch", trace.WithAttributes(
		attribute.String("notification.channel", string(req.Channel)),
		attribute.String("notification.priority", string(req.Priority)),
		attribute.String("claim.id", req.ClaimID),
	))
	defer span.End()

	if err := validateRequest(req); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("invalid notification request: %w", err)
	}

	rec, fresh, err := d.claim(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("notification.id", rec.ID))
	if !fresh {
		span.SetAttributes(attribute.Bool("notification.deduplicated", true))
		return rec, nil
	}

	return d.deliver(ctx, rec)
}

// deliver sends a claimed pending record and records the outcome.
func (d *Dispatcher) deliver(ctx context.Context, rec *notification.Record) (*notification.Record, error) {
	span := trace.SpanFromContext(ctx)
	outcome := d.send(ctx, rec)

	// the outcome must be recorded even if the caller stopped waiting
	final, err := d.ledger.Complete(context.WithoutCancel(ctx), rec.ID, outcome)
	if err != nil {
		if errors.Is(err, notification.ErrInvalidTransition) && final != nil {
			d.log.Infow("Notification completed by a concurrent dispatch",
				"id", rec.ID, "key", rec.IdempotencyKey, "status", final.Status)
			return final, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return rec, fmt.Errorf("recording outcome of notification %s: %w", rec.ID, err)
	}

	metrics.NotificationsDispatched.WithLabelValues(string(final.Channel), string(final.Status)).Inc()
	span.SetAttributes(attribute.String("notification.status", string(final.Status)))
	if final.Status == notification.StatusFailed {
		d.log.Warnw("Notification failed",
			"id", final.ID, "channel", final.Channel, "claimID", final.ClaimID,
			"attempts", final.Attempts, "reason", final.FailureReason)
	} else {
		d.log.Debugw("Notification sent",
			"id", final.ID, "channel", final.Channel, "claimID", final.ClaimID, "attempts", final.Attempts)
	}
	return final, nil
}

// ReclaimStale sends every record that is still pending StaleAfter after it
// was created, independent of the tier state of its breach. It returns the
// number of records reclaimed; failures of single records are joined into
// the error and do not stop the sweep.
func (d *Dispatcher) ReclaimStale(ctx context.Context) (int, error) {
	if d.cfg.StaleAfter <= 0 {
		return 0, nil
	}
	ctx, span := d.tracer.Start(ctx, "dispatch.ReclaimStale")
	defer span.End()

	pending, err := d.ledger.List(ctx, notification.Filter{Status: notification.StatusPending})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("listing pending notifications: %w", err)
	}

	cutoff := d.now().Add(-d.cfg.StaleAfter)
	reclaimed := 0
	var errs []error
	for i := range pending {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		rec := &pending[i]
		if rec.CreatedAt.After(cutoff) {
			continue
		}
		d.log.Infow("Re-sending stale pending notification",
			"id", rec.ID, "key", rec.IdempotencyKey, "createdAt", rec.CreatedAt)
		if _, err := d.deliver(ctx, rec); err != nil {
			errs = append(errs, err)
			continue
		}
		reclaimed++
	}
	span.SetAttributes(attribute.Int("notification.reclaimed", reclaimed))
	return reclaimed, errors.Join(errs...)
}

// claim appends a pending record for req. fresh is false when an earlier
// submission with the same key already owns the notification.
func (d *Dispatcher) claim(ctx context.Context, req notification.Request) (*notification.Record, bool, error) {
	rec := notification.NewPendingRecord(req, d.now().UTC())
	rec.ID = notification.NewID()

	err := d.ledger.Append(ctx, rec)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, notification.ErrDuplicateKey) {
		return nil, false, fmt.Errorf("appending notification for claim %s: %w", req.ClaimID, err)
	}

	existing, err := d.ledger.GetByKey(ctx, rec.IdempotencyKey)
	if err != nil {
		return nil, false, fmt.Errorf("loading notification %s: %w", rec.IdempotencyKey, err)
	}
	if existing.Status == notification.StatusPending && d.cfg.StaleAfter > 0 &&
		d.now().Sub(existing.CreatedAt) >= d.cfg.StaleAfter {
		d.log.Infow("Re-sending stale pending notification",
			"id", existing.ID, "key", existing.IdempotencyKey, "createdAt", existing.CreatedAt)
		return existing, true, nil
	}

	metrics.NotificationsDeduplicated.WithLabelValues(string(existing.Channel)).Inc()
	d.log.Debugw("Notification already submitted",
		"id", existing.ID, "key", existing.IdempotencyKey, "status", existing.Status)
	return existing, false, nil
}

// send performs the channel attempt with retries and returns the outcome.
func (d *Dispatcher) send(ctx context.Context, rec *notification.Record) notification.Outcome {
	if rec.Channel == notification.ChannelPortal {
		// portal messages are the ledger entry itself
		return notification.Outcome{Status: notification.StatusSent, At: d.now().UTC(), Attempts: 1}
	}

	fn, err := d.provider(rec)
	if err != nil {
		return d.failed(0, err)
	}

	cb := d.breakers[rec.Channel]
	limiter := d.limiters[rec.Channel]
	backoff := d.cfg.RetryBackoff

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= d.cfg.Retries; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				lastErr = fmt.Errorf("rate limit wait: %w", err)
				break
			}
		}

		attempts++
		start := time.Now()
		err := cb.Execute(ctx, func(ctx context.Context) error {
			sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
			defer cancel()
			return fn(sendCtx)
		})
		metrics.DispatchLatency.WithLabelValues(string(rec.Channel)).Observe(time.Since(start).Seconds())

		if err == nil {
			return notification.Outcome{Status: notification.StatusSent, At: d.now().UTC(), Attempts: attempts}
		}
		lastErr = err
		if errors.Is(err, breaker.ErrOpen) || ctx.Err() != nil {
			break
		}
		if attempt < d.cfg.Retries {
			metrics.DispatchRetries.WithLabelValues(string(rec.Channel)).Inc()
			d.log.Debugw("Send attempt failed, retrying",
				"id", rec.ID, "channel", rec.Channel, "attempt", attempts, "backoff", backoff, "error", err.Error())
			if err := d.sleep(ctx, backoff); err != nil {
				break
			}
			backoff *= 2
			if d.cfg.MaxBackoff > 0 && backoff > d.cfg.MaxBackoff {
				backoff = d.cfg.MaxBackoff
			}
		}
	}
	return d.failed(attempts, lastErr)
}

func (d *Dispatcher) provider(rec *notification.Record) (func(context.Context) error, error) {
	switch rec.Channel {
	case notification.ChannelEmail:
		if d.email == nil {
			return nil, fmt.Errorf("%w %s", ErrNoProvider, rec.Channel)
		}
		return func(ctx context.Context) error {
			return d.email.SendEmail(ctx, rec.Recipient, rec.Subject, rec.Message)
		}, nil
	case notification.ChannelSMS:
		if d.sms == nil {
			return nil, fmt.Errorf("%w %s", ErrNoProvider, rec.Channel)
		}
		return func(ctx context.Context) error {
			return d.sms.SendSMS(ctx, rec.Recipient, rec.Message)
		}, nil
	default:
		return nil, fmt.Errorf("%w %s", ErrNoProvider, rec.Channel)
	}
}

func (d *Dispatcher) failed(attempts int, err error) notification.Outcome {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	return notification.Outcome{
		Status:        notification.StatusFailed,
		At:            d.now().UTC(),
		Attempts:      attempts,
		FailureReason: reason,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
