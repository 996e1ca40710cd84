// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"

	"github.com/telekom/sla-escalation/pkg/notification"
)

// Ledger is the durable record of every notification attempt.
//
// Records are appended once and afterwards only move forward through the
// notification lifecycle. Each transition is a compare-and-set on the
// record's current status, so concurrent writers never need to coordinate
// across records.
type Ledger interface {
	// Append stores rec. If rec carries an idempotency key that is already
	// taken, notification.ErrDuplicateKey is returned and nothing is written.
	Append(ctx context.Context, rec *notification.Record) error
	Get(ctx context.Context, id string) (*notification.Record, error)
	GetByKey(ctx context.Context, key string) (*notification.Record, error)
	// List returns the records matching f, newest first.
	List(ctx context.Context, f notification.Filter) ([]notification.Record, error)
	// Complete resolves a pending record to sent or failed.
	Complete(ctx context.Context, id string, o notification.Outcome) (*notification.Record, error)
	// UpdateStatus applies an asynchronous delivery status change to a sent record.
	//
	// Complete and UpdateStatus return the current record alongside
	// notification.ErrInvalidTransition when the change is rejected.
	UpdateStatus(ctx context.Context, id string, u notification.StatusUpdate) (*notification.Record, error)
}

