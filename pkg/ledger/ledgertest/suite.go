// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package ledgertest holds a conformance suite shared by all ledger backends.
package ledgertest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/sla-escalation/pkg/ledger"
	"github.com/telekom/sla-escalation/pkg/notification"
)

var base = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

// NewRecord returns a pending record created offset after a fixed base time.
func NewRecord(claimID string, ch notification.Channel, p notification.Priority, offset time.Duration) *notification.Record {
	rec := notification.NewPendingRecord(notification.Request{
		ClaimID:   claimID,
		Channel:   ch,
		Recipient: "someone@example.com",
		Subject:   "Notice",
		Message:   "body",
		Priority:  p,
		Metadata:  map[string]string{"noticeKind": "attorney"},
	}, base.Add(offset))
	rec.ID = notification.NewID()
	return rec
}

func sent(t *testing.T, l ledger.Ledger, rec *notification.Record) {
	t.Helper()
	_, err := l.Complete(context.Background(), rec.ID, notification.Outcome{
		Status: notification.StatusSent, At: rec.CreatedAt.Add(time.Second), Attempts: 1,
	})
	require.NoError(t, err)
}

// Run exercises a Ledger implementation against the shared contract.
func Run(t *testing.T, newLedger func(t *testing.T) ledger.Ledger) {
	ctx := context.Background()

	t.Run("append and get", func(t *testing.T) {
		l := newLedger(t)
		rec := NewRecord("c1", notification.ChannelEmail, notification.PriorityHigh, 0)
		require.NoError(t, l.Append(ctx, rec))

		got, err := l.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, notification.StatusPending, got.Status)
		assert.Equal(t, "c1", got.ClaimID)
		assert.Equal(t, "attorney", got.Metadata["noticeKind"])
		assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))

		_, err = l.Get(ctx, "missing")
		assert.ErrorIs(t, err, notification.ErrNotFound)
	})

	t.Run("duplicate idempotency key", func(t *testing.T) {
		l := newLedger(t)
		key := notification.Key{BreachID: "b1", Tier: 1, Role: "attorney", Channel: notification.ChannelEmail}

		first := NewRecord("c1", notification.ChannelEmail, notification.PriorityHigh, 0)
		first.IdempotencyKey = key.String()
		require.NoError(t, l.Append(ctx, first))

		second := NewRecord("c1", notification.ChannelEmail, notification.PriorityHigh, time.Minute)
		second.IdempotencyKey = key.String()
		assert.ErrorIs(t, l.Append(ctx, second), notification.ErrDuplicateKey)

		got, err := l.GetByKey(ctx, key.String())
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)

		_, err = l.GetByKey(ctx, "b1/2/attorney/email")
		assert.ErrorIs(t, err, notification.ErrNotFound)

		// the losing record was not stored
		all, err := l.List(ctx, notification.Filter{})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("list filters and ordering", func(t *testing.T) {
		l := newLedger(t)
		a := NewRecord("c1", notification.ChannelEmail, notification.PriorityHigh, 0)
		b := NewRecord("c1", notification.ChannelPortal, notification.PriorityNormal, time.Hour)
		c := NewRecord("c2", notification.ChannelSMS, notification.PriorityCritical, 2*time.Hour)
		// same timestamp as c, later id
		d := NewRecord("c1", notification.ChannelEmail, notification.PriorityCritical, 2*time.Hour)
		for _, r := range []*notification.Record{a, b, c, d} {
			require.NoError(t, l.Append(ctx, r))
		}
		sent(t, l, a)
		sent(t, l, d)

		ids := func(f notification.Filter) []string {
			recs, err := l.List(ctx, f)
			require.NoError(t, err)
			out := make([]string, len(recs))
			for i := range recs {
				out[i] = recs[i].ID
			}
			return out
		}

		assert.Equal(t, []string{d.ID, c.ID, b.ID, a.ID}, ids(notification.Filter{}))
		assert.Equal(t, []string{d.ID, b.ID, a.ID}, ids(notification.Filter{ClaimID: "c1"}))
		assert.Equal(t, []string{d.ID, a.ID}, ids(notification.Filter{ClaimID: "c1", Channel: notification.ChannelEmail}))
		assert.Equal(t, []string{d.ID, a.ID}, ids(notification.Filter{Status: notification.StatusSent}))
		assert.Equal(t, []string{d.ID}, ids(notification.Filter{Status: notification.StatusSent, Priority: notification.PriorityCritical}))
		assert.Equal(t, []string{d.ID, c.ID}, ids(notification.Filter{Limit: 2}))
		assert.Empty(t, ids(notification.Filter{ClaimID: "c3"}))

		// repeated calls return the same order
		assert.Equal(t, ids(notification.Filter{}), ids(notification.Filter{}))
	})

	t.Run("complete only from pending", func(t *testing.T) {
		l := newLedger(t)
		rec := NewRecord("c1", notification.ChannelSMS, notification.PriorityCritical, 0)
		require.NoError(t, l.Append(ctx, rec))

		got, err := l.Complete(ctx, rec.ID, notification.Outcome{
			Status: notification.StatusFailed, At: base.Add(time.Minute), Attempts: 3, FailureReason: "gateway timeout",
		})
		require.NoError(t, err)
		assert.Equal(t, notification.StatusFailed, got.Status)
		assert.Equal(t, 3, got.Attempts)
		assert.Equal(t, "gateway timeout", got.FailureReason)
		require.NotNil(t, got.FailedAt)

		cur, err := l.Complete(ctx, rec.ID, notification.Outcome{Status: notification.StatusSent, At: base})
		assert.ErrorIs(t, err, notification.ErrInvalidTransition)
		require.NotNil(t, cur)
		assert.Equal(t, notification.StatusFailed, cur.Status)

		_, err = l.Complete(ctx, "missing", notification.Outcome{Status: notification.StatusSent, At: base})
		assert.ErrorIs(t, err, notification.ErrNotFound)
	})

	t.Run("update status legality", func(t *testing.T) {
		l := newLedger(t)
		pending := NewRecord("c1", notification.ChannelEmail, notification.PriorityHigh, 0)
		require.NoError(t, l.Append(ctx, pending))

		_, err := l.UpdateStatus(ctx, pending.ID, notification.StatusUpdate{Status: notification.StatusDelivered, At: base})
		assert.ErrorIs(t, err, notification.ErrInvalidTransition)

		sent(t, l, pending)
		deliveredAt := base.Add(10 * time.Minute)
		got, err := l.UpdateStatus(ctx, pending.ID, notification.StatusUpdate{
			Status: notification.StatusDelivered, At: deliveredAt, Metadata: map[string]string{"providerMessageId": "m-1"},
		})
		require.NoError(t, err)
		assert.Equal(t, notification.StatusDelivered, got.Status)
		assert.Equal(t, "m-1", got.Metadata["providerMessageId"])
		assert.Equal(t, "attorney", got.Metadata["noticeKind"])

		// a second confirmation does not change state
		cur, err := l.UpdateStatus(ctx, pending.ID, notification.StatusUpdate{Status: notification.StatusDelivered, At: deliveredAt.Add(time.Hour)})
		assert.ErrorIs(t, err, notification.ErrInvalidTransition)
		require.NotNil(t, cur)
		require.NotNil(t, cur.DeliveredAt)
		assert.True(t, deliveredAt.Equal(*cur.DeliveredAt))

		// delivered is terminal
		_, err = l.UpdateStatus(ctx, pending.ID, notification.StatusUpdate{Status: notification.StatusFailed, At: base})
		assert.ErrorIs(t, err, notification.ErrInvalidTransition)

		bounced := NewRecord("c1", notification.ChannelEmail, notification.PriorityHigh, time.Minute)
		require.NoError(t, l.Append(ctx, bounced))
		sent(t, l, bounced)
		got, err = l.UpdateStatus(ctx, bounced.ID, notification.StatusUpdate{Status: notification.StatusFailed, At: base, FailureReason: "mailbox full"})
		require.NoError(t, err)
		assert.Equal(t, "mailbox full", got.FailureReason)

		_, err = l.UpdateStatus(ctx, "missing", notification.StatusUpdate{Status: notification.StatusDelivered, At: base})
		assert.ErrorIs(t, err, notification.ErrNotFound)
	})

	t.Run("concurrent updates apply once", func(t *testing.T) {
		l := newLedger(t)
		rec := NewRecord("c1", notification.ChannelEmail, notification.PriorityHigh, 0)
		require.NoError(t, l.Append(ctx, rec))
		sent(t, l, rec)

		var applied atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				status := notification.StatusDelivered
				if i%2 == 1 {
					status = notification.StatusFailed
				}
				if _, err := l.UpdateStatus(ctx, rec.ID, notification.StatusUpdate{Status: status, At: base, FailureReason: fmt.Sprint(i)}); err == nil {
					applied.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), applied.Load())
	})

	t.Run("rejects invalid records", func(t *testing.T) {
		l := newLedger(t)
		rec := NewRecord("c1", notification.Channel("fax"), notification.PriorityHigh, 0)
		assert.Error(t, l.Append(ctx, rec))
	})
}
