// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/telekom/sla-escalation/pkg/breach"
)

// Breaches implements breach.Store on PostgreSQL.
type Breaches struct {
	db *gorm.DB
}

var _ breach.Store = (*Breaches)(nil)

func (b *Breaches) Create(ctx context.Context, e *breach.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	row, err := toBreachRow(e)
	if err != nil {
		return err
	}
	res := b.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return fmt.Errorf("failed to insert breach %s: %w", e.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", breach.ErrExists, e.ID)
	}
	return nil
}

func (b *Breaches) Get(ctx context.Context, id string) (*breach.Event, error) {
	var row breachRow
	if err := b.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", breach.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read breach %s: %w", id, err)
	}
	return row.event()
}

func (b *Breaches) List(ctx context.Context, opts breach.ListOptions) ([]*breach.Event, error) {
	q := b.db.WithContext(ctx).Model(&breachRow{})
	if opts.OpenOnly {
		q = q.Where("resolved = ?", false)
	}
	if opts.ClaimID != "" {
		q = q.Where("claim_id = ?", opts.ClaimID)
	}
	var rows []breachRow
	if err := q.Order("created_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list breaches: %w", err)
	}
	out := make([]*breach.Event, 0, len(rows))
	for i := range rows {
		e, err := rows[i].event()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (b *Breaches) AdvanceTier(ctx context.Context, id string, from, to breach.Tier, at time.Time) error {
	if err := breach.CheckAdvance(from, to); err != nil {
		return err
	}
	res := b.db.WithContext(ctx).Model(&breachRow{}).
		Where("id = ? AND last_escalated_tier = ?", id, int(from)).
		Updates(map[string]any{
			"last_escalated_tier": int(to),
			"last_escalated_at":   at.UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to advance breach %s: %w", id, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	cur, err := b.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is at tier %d, expected %d", breach.ErrTierConflict, id, cur.LastEscalatedTier, from)
}

func (b *Breaches) Resolve(ctx context.Context, id string, at time.Time) error {
	res := b.db.WithContext(ctx).Model(&breachRow{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]any{"resolved": true, "resolved_at": at.UTC()})
	if res.Error != nil {
		return fmt.Errorf("failed to resolve breach %s: %w", id, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	_, err := b.Get(ctx, id)
	return err
}
