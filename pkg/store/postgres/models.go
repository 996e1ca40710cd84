// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/telekom/sla-escalation/pkg/breach"
	"github.com/telekom/sla-escalation/pkg/notification"
)

type notificationRow struct {
	ID             string  `gorm:"column:id;primaryKey"`
	IdempotencyKey *string `gorm:"column:idempotency_key;uniqueIndex"`
	BreachID       string  `gorm:"column:breach_id;index"`
	Tier           int     `gorm:"column:tier;not null;default:0"`
	RecipientRole  string  `gorm:"column:recipient_role"`
	ClaimID        string  `gorm:"column:claim_id;not null;index"`
	Channel        string  `gorm:"column:channel;not null"`
	Recipient      string  `gorm:"column:recipient;not null"`
	Subject        string  `gorm:"column:subject"`
	Message        string  `gorm:"column:message;not null"`
	Priority       string  `gorm:"column:priority;not null"`
	Metadata       datatypes.JSON
	Status         string     `gorm:"column:status;not null"`
	Attempts       int        `gorm:"column:attempts;not null;default:0"`
	CreatedAt      time.Time  `gorm:"column:created_at;not null;index:idx_notifications_created,sort:desc"`
	SentAt         *time.Time `gorm:"column:sent_at"`
	DeliveredAt    *time.Time `gorm:"column:delivered_at"`
	FailedAt       *time.Time `gorm:"column:failed_at"`
	FailureReason  string     `gorm:"column:failure_reason"`
}

func (notificationRow) TableName() string { return "notifications" }

type breachRow struct {
	ID                   string     `gorm:"column:id;primaryKey"`
	ClaimID              string     `gorm:"column:claim_id;not null;index"`
	ClaimReference       string     `gorm:"column:claim_reference"`
	Severity             string     `gorm:"column:severity;not null"`
	ResponsiblePartyType string     `gorm:"column:responsible_party_type"`
	ResponsiblePartyName string     `gorm:"column:responsible_party_name"`
	DelayDays            int        `gorm:"column:delay_days;not null;default:0"`
	CreatedAt            time.Time  `gorm:"column:created_at;not null"`
	LastEscalatedTier    int        `gorm:"column:last_escalated_tier;not null;default:0"`
	LastEscalatedAt      *time.Time `gorm:"column:last_escalated_at"`
	Resolved             bool       `gorm:"column:resolved;not null;default:false;index"`
	ResolvedAt           *time.Time `gorm:"column:resolved_at"`
	Recipients           datatypes.JSON
}

func (breachRow) TableName() string { return "breaches" }

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func toNotificationRow(rec *notification.Record) (*notificationRow, error) {
	row := &notificationRow{
		ID:            rec.ID,
		BreachID:      rec.BreachID,
		Tier:          rec.Tier,
		RecipientRole: rec.RecipientRole,
		ClaimID:       rec.ClaimID,
		Channel:       string(rec.Channel),
		Recipient:     rec.Recipient,
		Subject:       rec.Subject,
		Message:       rec.Message,
		Priority:      string(rec.Priority),
		Status:        string(rec.Status),
		Attempts:      rec.Attempts,
		CreatedAt:     rec.CreatedAt.UTC(),
		SentAt:        utcPtr(rec.SentAt),
		DeliveredAt:   utcPtr(rec.DeliveredAt),
		FailedAt:      utcPtr(rec.FailedAt),
		FailureReason: rec.FailureReason,
	}
	if rec.IdempotencyKey != "" {
		key := rec.IdempotencyKey
		row.IdempotencyKey = &key
	}
	if len(rec.Metadata) > 0 {
		raw, err := json.Marshal(rec.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encoding metadata: %w", err)
		}
		row.Metadata = datatypes.JSON(raw)
	}
	return row, nil
}

func (r *notificationRow) record() (*notification.Record, error) {
	rec := &notification.Record{
		ID:            r.ID,
		BreachID:      r.BreachID,
		Tier:          r.Tier,
		RecipientRole: r.RecipientRole,
		ClaimID:       r.ClaimID,
		Channel:       notification.Channel(r.Channel),
		Recipient:     r.Recipient,
		Subject:       r.Subject,
		Message:       r.Message,
		Priority:      notification.Priority(r.Priority),
		Status:        notification.Status(r.Status),
		Attempts:      r.Attempts,
		CreatedAt:     r.CreatedAt.UTC(),
		SentAt:        utcPtr(r.SentAt),
		DeliveredAt:   utcPtr(r.DeliveredAt),
		FailedAt:      utcPtr(r.FailedAt),
		FailureReason: r.FailureReason,
	}
	if r.IdempotencyKey != nil {
		rec.IdempotencyKey = *r.IdempotencyKey
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata of %s: %w", r.ID, err)
		}
	}
	return rec, nil
}

func toBreachRow(e *breach.Event) (*breachRow, error) {
	row := &breachRow{
		ID:                   e.ID,
		ClaimID:              e.ClaimID,
		ClaimReference:       e.ClaimReference,
		Severity:             string(e.Severity),
		ResponsiblePartyType: e.ResponsiblePartyType,
		ResponsiblePartyName: e.ResponsiblePartyName,
		DelayDays:            e.DelayDays,
		CreatedAt:            e.CreatedAt.UTC(),
		LastEscalatedTier:    int(e.LastEscalatedTier),
		LastEscalatedAt:      utcPtr(e.LastEscalatedAt),
		Resolved:             e.Resolved,
		ResolvedAt:           utcPtr(e.ResolvedAt),
	}
	if len(e.Recipients) > 0 {
		raw, err := json.Marshal(e.Recipients)
		if err != nil {
			return nil, fmt.Errorf("encoding recipients: %w", err)
		}
		row.Recipients = datatypes.JSON(raw)
	}
	return row, nil
}

func (r *breachRow) event() (*breach.Event, error) {
	e := &breach.Event{
		ID:                   r.ID,
		ClaimID:              r.ClaimID,
		ClaimReference:       r.ClaimReference,
		Severity:             breach.Severity(r.Severity),
		ResponsiblePartyType: r.ResponsiblePartyType,
		ResponsiblePartyName: r.ResponsiblePartyName,
		DelayDays:            r.DelayDays,
		CreatedAt:            r.CreatedAt.UTC(),
		LastEscalatedTier:    breach.Tier(r.LastEscalatedTier),
		LastEscalatedAt:      utcPtr(r.LastEscalatedAt),
		Resolved:             r.Resolved,
		ResolvedAt:           utcPtr(r.ResolvedAt),
	}
	if len(r.Recipients) > 0 {
		if err := json.Unmarshal(r.Recipients, &e.Recipients); err != nil {
			return nil, fmt.Errorf("decoding recipients of %s: %w", r.ID, err)
		}
	}
	return e, nil
}
