// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/telekom/sla-escalation/pkg/ledger"
	"github.com/telekom/sla-escalation/pkg/notification"
)

const notificationColumns = `id, idempotency_key, breach_id, tier, recipient_role, claim_id, channel,
    recipient, subject, message, priority, metadata_json, status, attempts,
    created_at, sent_at, delivered_at, failed_at, failure_reason`

// Ledger implements ledger.Ledger on SQLite.
type Ledger struct {
	conn *sql.DB
}

var _ ledger.Ledger = (*Ledger)(nil)

func (l *Ledger) Append(ctx context.Context, rec *notification.Record) error {
	if err := ledger.Validate(rec); err != nil {
		return err
	}
	meta, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	res, err := l.conn.ExecContext(ctx, `
INSERT INTO notifications (`+notificationColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(idempotency_key) DO NOTHING`,
		rec.ID, nullString(rec.IdempotencyKey), nullString(rec.BreachID), rec.Tier, nullString(rec.RecipientRole),
		rec.ClaimID, string(rec.Channel), rec.Recipient, nullString(rec.Subject), rec.Message,
		string(rec.Priority), meta, string(rec.Status), rec.Attempts,
		toNanos(rec.CreatedAt), toNullNanos(rec.SentAt), toNullNanos(rec.DeliveredAt), toNullNanos(rec.FailedAt),
		nullString(rec.FailureReason))
	if err != nil {
		return fmt.Errorf("failed to insert notification %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert notification %s: %w", rec.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", notification.ErrDuplicateKey, rec.IdempotencyKey)
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*notification.Record, error) {
	return l.getOne(ctx, l.conn, "id", id)
}

func (l *Ledger) GetByKey(ctx context.Context, key string) (*notification.Record, error) {
	return l.getOne(ctx, l.conn, "idempotency_key", key)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (l *Ledger) getOne(ctx context.Context, q querier, column, value string) (*notification.Record, error) {
	row := q.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE `+column+` = ?`, value)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", notification.ErrNotFound, value)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read notification %s: %w", value, err)
	}
	return rec, nil
}

func (l *Ledger) List(ctx context.Context, f notification.Filter) ([]notification.Record, error) {
	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if value != "" {
			where = append(where, column+" = ?")
			args = append(args, value)
		}
	}
	add("claim_id", f.ClaimID)
	add("breach_id", f.BreachID)
	add("channel", string(f.Channel))
	add("status", string(f.Status))
	add("priority", string(f.Priority))

	query := `SELECT ` + notificationColumns + ` FROM notifications`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := l.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	out := []notification.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (l *Ledger) Complete(ctx context.Context, id string, o notification.Outcome) (*notification.Record, error) {
	return l.transition(ctx, id, func(rec *notification.Record) error { return rec.ApplyOutcome(o) })
}

func (l *Ledger) UpdateStatus(ctx context.Context, id string, u notification.StatusUpdate) (*notification.Record, error) {
	return l.transition(ctx, id, func(rec *notification.Record) error { return rec.ApplyUpdate(u) })
}

// transition reads the record, applies fn and writes the result back only if
// the stored status is still the one fn saw.
func (l *Ledger) transition(ctx context.Context, id string, fn func(*notification.Record) error) (*notification.Record, error) {
	tx, err := l.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := l.getOne(ctx, tx, "id", id)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return cur, err
	}
	meta, err := marshalMetadata(next.Metadata)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, `
UPDATE notifications
SET status = ?, attempts = ?, metadata_json = ?, sent_at = ?, delivered_at = ?, failed_at = ?, failure_reason = ?
WHERE id = ? AND status = ?`,
		string(next.Status), next.Attempts, meta,
		toNullNanos(next.SentAt), toNullNanos(next.DeliveredAt), toNullNanos(next.FailedAt), nullString(next.FailureReason),
		id, string(cur.Status))
	if err != nil {
		return nil, fmt.Errorf("failed to update notification %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to update notification %s: %w", id, err)
	} else if n == 0 {
		return cur, fmt.Errorf("%w: %s changed concurrently", notification.ErrInvalidTransition, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit notification %s: %w", id, err)
	}
	return next, nil
}

func scanRecord(s scanner) (*notification.Record, error) {
	var (
		rec                                        notification.Record
		key, breachID, role, subject, meta, reason sql.NullString
		channel, priority, status                  string
		createdAt                                  int64
		sentAt, deliveredAt, failedAt              sql.NullInt64
	)
	if err := s.Scan(&rec.ID, &key, &breachID, &rec.Tier, &role, &rec.ClaimID, &channel,
		&rec.Recipient, &subject, &rec.Message, &priority, &meta, &status, &rec.Attempts,
		&createdAt, &sentAt, &deliveredAt, &failedAt, &reason); err != nil {
		return nil, err
	}
	rec.IdempotencyKey = key.String
	rec.BreachID = breachID.String
	rec.RecipientRole = role.String
	rec.Subject = subject.String
	rec.FailureReason = reason.String
	rec.Channel = notification.Channel(channel)
	rec.Priority = notification.Priority(priority)
	rec.Status = notification.Status(status)
	rec.CreatedAt = fromNanos(createdAt)
	rec.SentAt = fromNullNanos(sentAt)
	rec.DeliveredAt = fromNullNanos(deliveredAt)
	rec.FailedAt = fromNullNanos(failedAt)
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata of %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

func marshalMetadata(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
