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
	"time"

	"github.com/telekom/sla-escalation/pkg/breach"
)

const breachColumns = `id, claim_id, claim_reference, severity, responsible_party_type, responsible_party_name,
    delay_days, created_at, last_escalated_tier, last_escalated_at, resolved, resolved_at, recipients_json`

// Breaches implements breach.Store on SQLite.
type Breaches struct {
	conn *sql.DB
}

var _ breach.Store = (*Breaches)(nil)

func (b *Breaches) Create(ctx context.Context, e *breach.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	var recipients sql.NullString
	if len(e.Recipients) > 0 {
		raw, err := json.Marshal(e.Recipients)
		if err != nil {
			return fmt.Errorf("encoding recipients: %w", err)
		}
		recipients = sql.NullString{String: string(raw), Valid: true}
	}
	res, err := b.conn.ExecContext(ctx, `
INSERT INTO breaches (`+breachColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`,
		e.ID, e.ClaimID, nullString(e.ClaimReference), string(e.Severity),
		nullString(e.ResponsiblePartyType), nullString(e.ResponsiblePartyName),
		e.DelayDays, toNanos(e.CreatedAt), int(e.LastEscalatedTier), toNullNanos(e.LastEscalatedAt),
		e.Resolved, toNullNanos(e.ResolvedAt), recipients)
	if err != nil {
		return fmt.Errorf("failed to insert breach %s: %w", e.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to insert breach %s: %w", e.ID, err)
	} else if n == 0 {
		return fmt.Errorf("%w: %s", breach.ErrExists, e.ID)
	}
	return nil
}

func (b *Breaches) Get(ctx context.Context, id string) (*breach.Event, error) {
	row := b.conn.QueryRowContext(ctx, `SELECT `+breachColumns+` FROM breaches WHERE id = ?`, id)
	e, err := scanBreach(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", breach.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read breach %s: %w", id, err)
	}
	return e, nil
}

func (b *Breaches) List(ctx context.Context, opts breach.ListOptions) ([]*breach.Event, error) {
	var (
		where []string
		args  []any
	)
	if opts.OpenOnly {
		where = append(where, "resolved = 0")
	}
	if opts.ClaimID != "" {
		where = append(where, "claim_id = ?")
		args = append(args, opts.ClaimID)
	}
	query := `SELECT ` + breachColumns + ` FROM breaches`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := b.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list breaches: %w", err)
	}
	defer rows.Close()

	out := []*breach.Event{}
	for rows.Next() {
		e, err := scanBreach(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan breach: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (b *Breaches) AdvanceTier(ctx context.Context, id string, from, to breach.Tier, at time.Time) error {
	if err := breach.CheckAdvance(from, to); err != nil {
		return err
	}
	res, err := b.conn.ExecContext(ctx, `
UPDATE breaches SET last_escalated_tier = ?, last_escalated_at = ?
WHERE id = ? AND last_escalated_tier = ?`,
		int(to), toNanos(at), id, int(from))
	if err != nil {
		return fmt.Errorf("failed to advance breach %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to advance breach %s: %w", id, err)
	}
	if n == 1 {
		return nil
	}
	cur, err := b.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is at tier %d, expected %d", breach.ErrTierConflict, id, cur.LastEscalatedTier, from)
}

func (b *Breaches) Resolve(ctx context.Context, id string, at time.Time) error {
	res, err := b.conn.ExecContext(ctx,
		`UPDATE breaches SET resolved = 1, resolved_at = ? WHERE id = ? AND resolved = 0`, toNanos(at), id)
	if err != nil {
		return fmt.Errorf("failed to resolve breach %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to resolve breach %s: %w", id, err)
	} else if n == 1 {
		return nil
	}
	// already resolved, or unknown
	_, err = b.Get(ctx, id)
	return err
}

func scanBreach(s scanner) (*breach.Event, error) {
	var (
		e                               breach.Event
		reference, partyType, partyName sql.NullString
		recipients                      sql.NullString
		severity                        string
		createdAt                       int64
		tier                            int
		lastEscalatedAt, resolvedAt     sql.NullInt64
	)
	if err := s.Scan(&e.ID, &e.ClaimID, &reference, &severity, &partyType, &partyName,
		&e.DelayDays, &createdAt, &tier, &lastEscalatedAt, &e.Resolved, &resolvedAt, &recipients); err != nil {
		return nil, err
	}
	e.ClaimReference = reference.String
	e.ResponsiblePartyType = partyType.String
	e.ResponsiblePartyName = partyName.String
	e.Severity = breach.Severity(severity)
	e.CreatedAt = fromNanos(createdAt)
	e.LastEscalatedTier = breach.Tier(tier)
	e.LastEscalatedAt = fromNullNanos(lastEscalatedAt)
	e.ResolvedAt = fromNullNanos(resolvedAt)
	if recipients.Valid && recipients.String != "" {
		if err := json.Unmarshal([]byte(recipients.String), &e.Recipients); err != nil {
			return nil, fmt.Errorf("decoding recipients of %s: %w", e.ID, err)
		}
	}
	return &e, nil
}
