// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package notification

import (
	"errors"
	"fmt"
	"time"
)

// Channel is the transport a notification is delivered through.
type Channel string

const (
	ChannelEmail  Channel = "email"
	ChannelSMS    Channel = "sms"
	ChannelPortal Channel = "portal"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPortal:
		return true
	}
	return false
}

// Priority expresses how urgent a notification is for the recipient.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Status is the delivery state of a Record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

var (
	// ErrNotFound is returned when no record matches the given id or key.
	ErrNotFound = errors.New("notification record not found")
	// ErrInvalidTransition is returned for status changes outside the lifecycle.
	ErrInvalidTransition = errors.New("invalid notification status transition")
	// ErrDuplicateKey is returned when a record with the same idempotency key exists.
	ErrDuplicateKey = errors.New("notification already submitted for idempotency key")
)

// CanComplete reports whether the dispatcher may move a record from -> to.
// Only the in-flight dispatch call resolves a pending record.
func CanComplete(from, to Status) bool {
	return from == StatusPending && (to == StatusSent || to == StatusFailed)
}

// CanUpdate reports whether a delivery callback may move a record from -> to.
func CanUpdate(from, to Status) bool {
	return from == StatusSent && (to == StatusDelivered || to == StatusFailed)
}

// Key identifies one (breach, tier, recipient role, channel) submission.
// Two requests with the same key are the same notification.
type Key struct {
	BreachID string
	Tier     int
	Role     string
	Channel  Channel
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%s/%s", k.BreachID, k.Tier, k.Role, k.Channel)
}

// IsZero reports whether the key carries no breach id.
func (k Key) IsZero() bool {
	return k.BreachID == ""
}

// Request is the intent to notify one recipient through one channel.
// Requests are never mutated after creation.
type Request struct {
	Key       Key               `json:"-"`
	ClaimID   string            `json:"claimId"`
	Channel   Channel           `json:"channel"`
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject,omitempty"`
	Message   string            `json:"message"`
	Priority  Priority          `json:"priority"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Record is the durable result of dispatching a Request.
type Record struct {
	ID             string            `json:"id"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	BreachID       string            `json:"breachId,omitempty"`
	Tier           int               `json:"tier,omitempty"`
	RecipientRole  string            `json:"recipientRole,omitempty"`
	ClaimID        string            `json:"claimId"`
	Channel        Channel           `json:"channel"`
	Recipient      string            `json:"recipient"`
	Subject        string            `json:"subject,omitempty"`
	Message        string            `json:"message"`
	Priority       Priority          `json:"priority"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Status         Status            `json:"status"`
	Attempts       int               `json:"attempts"`
	CreatedAt      time.Time         `json:"createdAt"`
	SentAt         *time.Time        `json:"sentAt,omitempty"`
	DeliveredAt    *time.Time        `json:"deliveredAt,omitempty"`
	FailedAt       *time.Time        `json:"failedAt,omitempty"`
	FailureReason  string            `json:"failureReason,omitempty"`
}

// NewPendingRecord builds a pending record for req. The caller assigns the ID.
func NewPendingRecord(req Request, now time.Time) *Record {
	rec := &Record{
		ClaimID:   req.ClaimID,
		Channel:   req.Channel,
		Recipient: req.Recipient,
		Subject:   req.Subject,
		Message:   req.Message,
		Priority:  req.Priority,
		Metadata:  copyMetadata(req.Metadata),
		Status:    StatusPending,
		CreatedAt: now,
	}
	if !req.Key.IsZero() {
		rec.IdempotencyKey = req.Key.String()
		rec.BreachID = req.Key.BreachID
		rec.Tier = req.Key.Tier
		rec.RecipientRole = req.Key.Role
	}
	return rec
}

// Clone returns a deep copy so callers never share mutable state with a ledger.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Metadata = copyMetadata(r.Metadata)
	c.SentAt = copyTime(r.SentAt)
	c.DeliveredAt = copyTime(r.DeliveredAt)
	c.FailedAt = copyTime(r.FailedAt)
	return &c
}

// Outcome is the result of a dispatch attempt, applied to a pending record.
type Outcome struct {
	Status        Status
	At            time.Time
	Attempts      int
	FailureReason string
}

// StatusUpdate is an asynchronous delivery-status change, e.g. from a provider webhook.
type StatusUpdate struct {
	Status        Status
	At            time.Time
	FailureReason string
	Metadata      map[string]string
}

// ApplyOutcome moves a pending record to sent or failed.
func (r *Record) ApplyOutcome(o Outcome) error {
	if !CanComplete(r.Status, o.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, o.Status)
	}
	at := o.At
	r.Status = o.Status
	r.Attempts = o.Attempts
	switch o.Status {
	case StatusSent:
		r.SentAt = &at
	case StatusFailed:
		r.FailedAt = &at
		r.FailureReason = o.FailureReason
	}
	return nil
}

// ApplyUpdate moves a sent record to delivered or failed.
func (r *Record) ApplyUpdate(u StatusUpdate) error {
	if !CanUpdate(r.Status, u.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, u.Status)
	}
	at := u.At
	r.Status = u.Status
	switch u.Status {
	case StatusDelivered:
		r.DeliveredAt = &at
	case StatusFailed:
		r.FailedAt = &at
		r.FailureReason = u.FailureReason
	}
	if len(u.Metadata) > 0 {
		if r.Metadata == nil {
			r.Metadata = make(map[string]string, len(u.Metadata))
		}
		for k, v := range u.Metadata {
			r.Metadata[k] = v
		}
	}
	return nil
}

// Filter selects records for List. Zero-valued fields match everything.
type Filter struct {
	ClaimID  string
	BreachID string
	Channel  Channel
	Status   Status
	Priority Priority
	// Limit caps the number of returned records; 0 means no limit.
	Limit int
}

// Matches reports whether r satisfies every set field of f.
func (f Filter) Matches(r *Record) bool {
	if f.ClaimID != "" && r.ClaimID != f.ClaimID {
		return false
	}
	if f.BreachID != "" && r.BreachID != f.BreachID {
		return false
	}
	if f.Channel != "" && r.Channel != f.Channel {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Priority != "" && r.Priority != f.Priority {
		return false
	}
	return true
}

// Less orders records newest first; ties on CreatedAt fall back to the id,
// which is a ULID and therefore monotonic within a process.
func Less(a, b *Record) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
