// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"errors"

	"github.com/telekom/sla-escalation/pkg/audit"
	"github.com/telekom/sla-escalation/pkg/metrics"
	"github.com/telekom/sla-escalation/pkg/notification"
)

// Audited decorates a Ledger with audit events and metrics for every write.
// Reads pass through unchanged.
type Audited struct {
	Ledger
	audit *audit.Manager
}

// NewAudited wraps l. A nil manager only records metrics.
func NewAudited(l Ledger, m *audit.Manager) *Audited {
	return &Audited{Ledger: l, audit: m}
}

func (a *Audited) Append(ctx context.Context, rec *notification.Record) error {
	if err := a.Ledger.Append(ctx, rec); err != nil {
		if !errors.Is(err, notification.ErrDuplicateKey) {
			metrics.LedgerErrors.WithLabelValues("append").Inc()
		}
		return err
	}
	a.audit.NotificationCreated(ctx, rec)
	return nil
}

func (a *Audited) Complete(ctx context.Context, id string, o notification.Outcome) (*notification.Record, error) {
	rec, err := a.Ledger.Complete(ctx, id, o)
	switch {
	case err == nil:
		a.audit.NotificationTransitioned(ctx, audit.ActorDispatcher, rec)
	case errors.Is(err, notification.ErrInvalidTransition):
		a.audit.NotificationRejected(ctx, audit.ActorDispatcher, id, o.Status, err)
	case !errors.Is(err, notification.ErrNotFound):
		metrics.LedgerErrors.WithLabelValues("complete").Inc()
	}
	return rec, err
}

func (a *Audited) UpdateStatus(ctx context.Context, id string, u notification.StatusUpdate) (*notification.Record, error) {
	rec, err := a.Ledger.UpdateStatus(ctx, id, u)
	switch {
	case err == nil:
		metrics.StatusUpdates.WithLabelValues(string(u.Status), "applied").Inc()
		a.audit.NotificationTransitioned(ctx, audit.ActorWebhook, rec)
	case errors.Is(err, notification.ErrInvalidTransition):
		metrics.StatusUpdates.WithLabelValues(string(u.Status), "rejected").Inc()
		a.audit.NotificationRejected(ctx, audit.ActorWebhook, id, u.Status, err)
	case errors.Is(err, notification.ErrNotFound):
		metrics.StatusUpdates.WithLabelValues(string(u.Status), "not_found").Inc()
	default:
		metrics.StatusUpdates.WithLabelValues(string(u.Status), "error").Inc()
		metrics.LedgerErrors.WithLabelValues("update_status").Inc()
	}
	return rec, err
}
