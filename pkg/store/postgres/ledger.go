// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/telekom/sla-escalation/pkg/ledger"
	"github.com/telekom/sla-escalation/pkg/notification"
)

// Ledger implements ledger.Ledger on PostgreSQL.
type Ledger struct {
	db *gorm.DB
}

var _ ledger.Ledger = (*Ledger)(nil)

func (l *Ledger) Append(ctx context.Context, rec *notification.Record) error {
	if err := ledger.Validate(rec); err != nil {
		return err
	}
	row, err := toNotificationRow(rec)
	if err != nil {
		return err
	}
	res := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idempotency_key"}}, DoNothing: true}).
		Create(row)
	if res.Error != nil {
		return fmt.Errorf("failed to insert notification %s: %w", rec.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", notification.ErrDuplicateKey, rec.IdempotencyKey)
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*notification.Record, error) {
	return l.first(l.db.WithContext(ctx), "id = ?", id)
}

func (l *Ledger) GetByKey(ctx context.Context, key string) (*notification.Record, error) {
	return l.first(l.db.WithContext(ctx), "idempotency_key = ?", key)
}

func (l *Ledger) first(tx *gorm.DB, cond, value string) (*notification.Record, error) {
	var row notificationRow
	if err := tx.Where(cond, value).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", notification.ErrNotFound, value)
		}
		return nil, fmt.Errorf("failed to read notification %s: %w", value, err)
	}
	return row.record()
}

func (l *Ledger) List(ctx context.Context, f notification.Filter) ([]notification.Record, error) {
	q := l.db.WithContext(ctx).Model(&notificationRow{})
	if f.ClaimID != "" {
		q = q.Where("claim_id = ?", f.ClaimID)
	}
	if f.BreachID != "" {
		q = q.Where("breach_id = ?", f.BreachID)
	}
	if f.Channel != "" {
		q = q.Where("channel = ?", string(f.Channel))
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.Priority != "" {
		q = q.Where("priority = ?", string(f.Priority))
	}
	q = q.Order("created_at DESC").Order("id DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []notificationRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	out := make([]notification.Record, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].record()
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (l *Ledger) Complete(ctx context.Context, id string, o notification.Outcome) (*notification.Record, error) {
	return l.transition(ctx, id, func(rec *notification.Record) error { return rec.ApplyOutcome(o) })
}

func (l *Ledger) UpdateStatus(ctx context.Context, id string, u notification.StatusUpdate) (*notification.Record, error) {
	return l.transition(ctx, id, func(rec *notification.Record) error { return rec.ApplyUpdate(u) })
}

// transition locks the row, applies fn and writes the result guarded by the
// status fn saw.
func (l *Ledger) transition(ctx context.Context, id string, fn func(*notification.Record) error) (*notification.Record, error) {
	var result *notification.Record
	var rejected error

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := l.first(tx.Clauses(clause.Locking{Strength: "UPDATE"}), "id = ?", id)
		if err != nil {
			return err
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			result, rejected = cur, err
			return nil
		}
		row, err := toNotificationRow(next)
		if err != nil {
			return err
		}
		res := tx.Model(&notificationRow{}).
			Where("id = ? AND status = ?", id, string(cur.Status)).
			Updates(map[string]any{
				"status":         row.Status,
				"attempts":       row.Attempts,
				"metadata":       row.Metadata,
				"sent_at":        row.SentAt,
				"delivered_at":   row.DeliveredAt,
				"failed_at":      row.FailedAt,
				"failure_reason": row.FailureReason,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update notification %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			result = cur
			rejected = fmt.Errorf("%w: %s changed concurrently", notification.ErrInvalidTransition, id)
			return nil
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, rejected
}
