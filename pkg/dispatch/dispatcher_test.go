// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/telekom/sla-escalation/pkg/breaker"
	"github.com/telekom/sla-escalation/pkg/config"
	"github.com/telekom/sla-escalation/pkg/ledger"
	"github.com/telekom/sla-escalation/pkg/metrics"
	"github.com/telekom/sla-escalation/pkg/notification"
)

// fakeProvider implements EmailSender and SMSSender. errs are returned in
// order and the last one repeats; a nil entry means success.
type fakeProvider struct {
	mu    sync.Mutex
	errs  []error
	calls atomic.Int32
	block bool
	sent  []string
}

func (p *fakeProvider) next(ctx context.Context, to string) error {
	p.calls.Add(1)
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if len(p.errs) > 0 {
		err = p.errs[0]
		if len(p.errs) > 1 {
			p.errs = p.errs[1:]
		}
	}
	if err != nil {
		return err
	}
	p.sent = append(p.sent, to)
	return nil
}

func (p *fakeProvider) SendEmail(ctx context.Context, to, _, _ string) error {
	return p.next(ctx, to)
}

func (p *fakeProvider) SendSMS(ctx context.Context, to, _ string) error {
	return p.next(ctx, to)
}

type sleeps struct {
	mu sync.Mutex
	d  []time.Duration
}

func (s *sleeps) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.d = append(s.d, d)
	s.mu.Unlock()
	return ctx.Err()
}

var testNow = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func newTestDispatcher(t *testing.T, l ledger.Ledger, opts ...Option) (*Dispatcher, *sleeps) {
	t.Helper()
	s := &sleeps{}
	base := []Option{
		WithLogger(zap.NewNop().Sugar()),
		WithClock(func() time.Time { return testNow }),
	}
	d := New(l, append(base, opts...)...)
	d.sleep = s.sleep
	return d, s
}

func emailRequest(key notification.Key) notification.Request {
	return notification.Request{
		Key:       key,
		ClaimID:   "claim-1",
		Channel:   notification.ChannelEmail,
		Recipient: "counsel@example.com",
		Subject:   "SLA breach",
		Message:   "body",
		Priority:  notification.PriorityHigh,
	}
}

func TestDispatchPortalAlwaysSent(t *testing.T) {
	l := ledger.NewMemory()
	d, _ := newTestDispatcher(t, l)

	rec, err := d.Dispatch(context.Background(), notification.Request{
		ClaimID:   "claim-1",
		Channel:   notification.ChannelPortal,
		Recipient: "worker",
		Message:   "update",
		Priority:  notification.PriorityNormal,
	})
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSent, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	require.NotNil(t, rec.SentAt)

	stored, err := l.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSent, stored.Status)
}

func TestDispatchEmailSuccess(t *testing.T) {
	l := ledger.NewMemory()
	email := &fakeProvider{}
	d, _ := newTestDispatcher(t, l, WithEmail(email))
	before := testutil.ToFloat64(metrics.NotificationsDispatched.WithLabelValues("email", "sent"))

	rec, err := d.Dispatch(context.Background(), emailRequest(notification.Key{}))
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSent, rec.Status)
	assert.Equal(t, testNow, *rec.SentAt)
	assert.Equal(t, testNow, rec.CreatedAt)
	assert.Empty(t, rec.IdempotencyKey)
	assert.Equal(t, []string{"counsel@example.com"}, email.sent)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.NotificationsDispatched.WithLabelValues("email", "sent")))
}

func TestDispatchRetriesWithBackoff(t *testing.T) {
	email := &fakeProvider{errs: []error{errors.New("421 try later"), errors.New("421 try later"), nil}}
	d, s := newTestDispatcher(t, ledger.NewMemory(), WithEmail(email))

	rec, err := d.Dispatch(context.Background(), emailRequest(notification.Key{}))
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSent, rec.Status)
	assert.Equal(t, 3, rec.Attempts)
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, s.d)
}

func TestDispatchFailureIsRecorded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retries = 3
	cfg.RetryBackoff = time.Second
	cfg.MaxBackoff = 1500 * time.Millisecond
	cfg.Breaker.FailureThreshold = 100

	l := ledger.NewMemory()
	email := &fakeProvider{errs: []error{errors.New("550 mailbox unavailable")}}
	d, s := newTestDispatcher(t, l, WithEmail(email), WithConfig(cfg))

	rec, err := d.Dispatch(context.Background(), emailRequest(notification.Key{}))
	require.NoError(t, err, "send failures are not call errors")
	assert.Equal(t, notification.StatusFailed, rec.Status)
	assert.Equal(t, "550 mailbox unavailable", rec.FailureReason)
	assert.Equal(t, 4, rec.Attempts)
	require.NotNil(t, rec.FailedAt)
	assert.Nil(t, rec.SentAt)
	assert.Equal(t, []time.Duration{time.Second, 1500 * time.Millisecond, 1500 * time.Millisecond}, s.d)

	failed, err := l.List(context.Background(), notification.Filter{Status: notification.StatusFailed})
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestDispatchWithoutProvider(t *testing.T) {
	d, _ := newTestDispatcher(t, ledger.NewMemory())

	rec, err := d.Dispatch(context.Background(), notification.Request{
		ClaimID:   "claim-1",
		Channel:   notification.ChannelSMS,
		Recipient: "+4915100000000",
		Message:   "text",
		Priority:  notification.PriorityCritical,
	})
	require.NoError(t, err)
	assert.Equal(t, notification.StatusFailed, rec.Status)
	assert.Equal(t, "no provider configured for channel sms", rec.FailureReason)
	assert.Equal(t, 0, rec.Attempts)
}

func TestDispatchSendTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendTimeout = 20 * time.Millisecond
	cfg.Retries = 0

	email := &fakeProvider{block: true}
	d, _ := newTestDispatcher(t, ledger.NewMemory(), WithEmail(email), WithConfig(cfg))

	start := time.Now()
	rec, err := d.Dispatch(context.Background(), emailRequest(notification.Key{}))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, notification.StatusFailed, rec.Status)
	assert.Contains(t, rec.FailureReason, "deadline exceeded")
}

func TestDispatchCircuitBreakerFailsFast(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retries = 0
	cfg.Breaker.FailureThreshold = 2
	cfg.Breaker.OpenTimeout = time.Hour

	email := &fakeProvider{errs: []error{errors.New("connection refused")}}
	d, _ := newTestDispatcher(t, ledger.NewMemory(), WithEmail(email), WithConfig(cfg))

	for i := 0; i < 2; i++ {
		rec, err := d.Dispatch(context.Background(), emailRequest(notification.Key{}))
		require.NoError(t, err)
		assert.Equal(t, "connection refused", rec.FailureReason)
	}
	assert.Equal(t, breaker.Open, d.Breaker(notification.ChannelEmail).State())

	rec, err := d.Dispatch(context.Background(), emailRequest(notification.Key{}))
	require.NoError(t, err)
	assert.Equal(t, notification.StatusFailed, rec.Status)
	assert.Equal(t, ErrCircuitOpen.Error(), rec.FailureReason)
	assert.Equal(t, int32(2), email.calls.Load(), "an open circuit must not reach the provider")
	assert.Nil(t, d.Breaker(notification.ChannelPortal))
}

func TestDispatchIdempotentPerKey(t *testing.T) {
	l := ledger.NewMemory()
	email := &fakeProvider{}
	d, _ := newTestDispatcher(t, l, WithEmail(email))
	key := notification.Key{BreachID: "br-1", Tier: 1, Role: "attorney", Channel: notification.ChannelEmail}
	before := testutil.ToFloat64(metrics.NotificationsDeduplicated.WithLabelValues("email"))

	first, err := d.Dispatch(context.Background(), emailRequest(key))
	require.NoError(t, err)
	second, err := d.Dispatch(context.Background(), emailRequest(key))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, notification.StatusSent, second.Status)
	assert.Equal(t, "br-1/1/attorney/email", second.IdempotencyKey)
	assert.Equal(t, int32(1), email.calls.Load())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.NotificationsDeduplicated.WithLabelValues("email")))

	all, err := l.List(context.Background(), notification.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDispatchConcurrentSameKeySendsOnce(t *testing.T) {
	l := ledger.NewMemory()
	email := &fakeProvider{}
	d, _ := newTestDispatcher(t, l, WithEmail(email))
	key := notification.Key{BreachID: "br-2", Tier: 2, Role: "employer", Channel: notification.ChannelEmail}

	const n = 10
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := d.Dispatch(context.Background(), emailRequest(key))
			assert.NoError(t, err)
			if rec != nil {
				ids[i] = rec.ID
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), email.calls.Load())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestDispatchStalePending(t *testing.T) {
	key := notification.Key{BreachID: "br-3", Tier: 1, Role: "attorney", Channel: notification.ChannelEmail}

	seed := func(t *testing.T, l ledger.Ledger, age time.Duration) *notification.Record {
		rec := notification.NewPendingRecord(emailRequest(key), testNow.Add(-age))
		rec.ID = notification.NewID()
		require.NoError(t, l.Append(context.Background(), rec))
		return rec
	}

	t.Run("stale pending is sent again", func(t *testing.T) {
		l := ledger.NewMemory()
		stale := seed(t, l, time.Hour)
		email := &fakeProvider{}
		d, _ := newTestDispatcher(t, l, WithEmail(email))

		rec, err := d.Dispatch(context.Background(), emailRequest(key))
		require.NoError(t, err)
		assert.Equal(t, stale.ID, rec.ID)
		assert.Equal(t, notification.StatusSent, rec.Status)
		assert.Equal(t, int32(1), email.calls.Load())
	})

	t.Run("recent pending is left to its owner", func(t *testing.T) {
		l := ledger.NewMemory()
		inFlight := seed(t, l, time.Minute)
		email := &fakeProvider{}
		d, _ := newTestDispatcher(t, l, WithEmail(email))

		rec, err := d.Dispatch(context.Background(), emailRequest(key))
		require.NoError(t, err)
		assert.Equal(t, inFlight.ID, rec.ID)
		assert.Equal(t, notification.StatusPending, rec.Status)
		assert.Equal(t, int32(0), email.calls.Load())
	})
}

func TestReclaimStale(t *testing.T) {
	seed := func(t *testing.T, l ledger.Ledger, role string, age time.Duration) *notification.Record {
		req := emailRequest(notification.Key{BreachID: "br-4", Tier: 2, Role: role, Channel: notification.ChannelEmail})
		req.Recipient = role + "@example.com"
		rec := notification.NewPendingRecord(req, testNow.Add(-age))
		rec.ID = notification.NewID()
		require.NoError(t, l.Append(context.Background(), rec))
		return rec
	}

	t.Run("stale pending records are sent", func(t *testing.T) {
		l := ledger.NewMemory()
		stale := seed(t, l, "employer", time.Hour)
		recent := seed(t, l, "tpa", time.Minute)
		email := &fakeProvider{}
		d, _ := newTestDispatcher(t, l, WithEmail(email))

		n, err := d.ReclaimStale(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []string{"employer@example.com"}, email.sent)

		got, err := l.Get(context.Background(), stale.ID)
		require.NoError(t, err)
		assert.Equal(t, notification.StatusSent, got.Status)
		got, err = l.Get(context.Background(), recent.ID)
		require.NoError(t, err)
		assert.Equal(t, notification.StatusPending, got.Status)

		// a second sweep finds nothing left to do
		n, err = d.ReclaimStale(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, int32(1), email.calls.Load())
	})

	t.Run("failed send is recorded", func(t *testing.T) {
		l := ledger.NewMemory()
		stale := seed(t, l, "employer", time.Hour)
		email := &fakeProvider{errs: []error{errors.New("smtp down")}}
		d, _ := newTestDispatcher(t, l, WithEmail(email), WithConfig(Config{Retries: 0, StaleAfter: 15 * time.Minute}))

		n, err := d.ReclaimStale(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		got, err := l.Get(context.Background(), stale.ID)
		require.NoError(t, err)
		assert.Equal(t, notification.StatusFailed, got.Status)
		assert.Contains(t, got.FailureReason, "smtp down")
	})

	t.Run("disabled without StaleAfter", func(t *testing.T) {
		l := ledger.NewMemory()
		seed(t, l, "employer", 48*time.Hour)
		email := &fakeProvider{}
		d, _ := newTestDispatcher(t, l, WithEmail(email), WithConfig(Config{StaleAfter: 0}))

		n, err := d.ReclaimStale(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Zero(t, email.calls.Load())
	})
}

func TestDispatchInvalidRequest(t *testing.T) {
	d, _ := newTestDispatcher(t, ledger.NewMemory())

	_, err := d.Dispatch(context.Background(), notification.Request{Channel: "fax", Priority: "urgent"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid channel "fax"`)
	assert.Contains(t, err.Error(), `invalid priority "urgent"`)
	assert.Contains(t, err.Error(), "recipient is required")
}

type brokenLedger struct {
	ledger.Ledger
	appendErr   error
	completeErr error
}

func (b *brokenLedger) Append(ctx context.Context, rec *notification.Record) error {
	if b.appendErr != nil {
		return b.appendErr
	}
	return b.Ledger.Append(ctx, rec)
}

func (b *brokenLedger) Complete(ctx context.Context, id string, o notification.Outcome) (*notification.Record, error) {
	if b.completeErr != nil {
		return nil, b.completeErr
	}
	return b.Ledger.Complete(ctx, id, o)
}

func TestDispatchLedgerErrorsAreReturned(t *testing.T) {
	t.Run("append", func(t *testing.T) {
		email := &fakeProvider{}
		d, _ := newTestDispatcher(t, &brokenLedger{Ledger: ledger.NewMemory(), appendErr: errors.New("disk full")}, WithEmail(email))

		rec, err := d.Dispatch(context.Background(), emailRequest(notification.Key{}))
		require.Error(t, err)
		assert.Nil(t, rec)
		assert.Contains(t, err.Error(), "disk full")
		assert.Equal(t, int32(0), email.calls.Load(), "nothing is sent without a ledger entry")
	})

	t.Run("complete", func(t *testing.T) {
		d, _ := newTestDispatcher(t, &brokenLedger{Ledger: ledger.NewMemory(), completeErr: errors.New("db gone")}, WithEmail(&fakeProvider{}))

		rec, err := d.Dispatch(context.Background(), emailRequest(notification.Key{}))
		require.Error(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, notification.StatusPending, rec.Status)
	})
}

func TestDispatchRateLimitHonoursContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimits = map[notification.Channel]RateLimit{
		notification.ChannelSMS: {RequestsPerSecond: 0.001, Burst: 1},
	}
	sms := &fakeProvider{}
	d, _ := newTestDispatcher(t, ledger.NewMemory(), WithSMS(sms), WithConfig(cfg))
	req := notification.Request{
		ClaimID: "claim-1", Channel: notification.ChannelSMS, Recipient: "+491", Message: "m", Priority: notification.PriorityCritical,
	}

	rec, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSent, rec.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	rec, err = d.Dispatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusFailed, rec.Status)
	assert.Contains(t, rec.FailureReason, "rate limit wait")
	assert.Equal(t, int32(1), sms.calls.Load())
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.Dispatch{
		SendTimeout:    "3s",
		RetryBackoff:   "bogus",
		StaleAfter:     "1h",
		CircuitBreaker: config.CircuitBreaker{FailureThreshold: 9, OpenTimeout: "1m"},
		RateLimits:     map[string]config.RateLimit{"sms": {RequestsPerSecond: 2, Burst: 4}},
	})
	assert.Equal(t, 3*time.Second, cfg.SendTimeout)
	assert.Equal(t, 2, cfg.Retries)
	assert.Equal(t, 200*time.Millisecond, cfg.RetryBackoff)
	assert.Equal(t, 5*time.Second, cfg.MaxBackoff)
	assert.Equal(t, time.Hour, cfg.StaleAfter)
	assert.Equal(t, 9, cfg.Breaker.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.Breaker.OpenTimeout)
	assert.Equal(t, RateLimit{RequestsPerSecond: 2, Burst: 4}, cfg.RateLimits[notification.ChannelSMS])

	assert.Equal(t, 0, FromConfig(config.Dispatch{RetryCount: -1}).Retries)
	assert.Equal(t, 5, FromConfig(config.Dispatch{RetryCount: 5}).Retries)
}
