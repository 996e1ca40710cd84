// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"time"
)

// EventType represents the type of audit event.
type EventType string

const (
	// === Notification lifecycle events ===
	EventNotificationCreated   EventType = "notification.created"
	EventNotificationSent      EventType = "notification.sent"
	EventNotificationFailed    EventType = "notification.failed"
	EventNotificationDelivered EventType = "notification.delivered"
	// EventNotificationRejected records a status update the ledger refused.
	EventNotificationRejected EventType = "notification.rejected"

	// === Escalation events ===
	EventEscalationAdvanced EventType = "escalation.advanced"
	EventEscalationSkipped  EventType = "escalation.skipped"

	// === Breach registry events ===
	EventBreachRegistered EventType = "breach.registered"
	EventBreachResolved   EventType = "breach.resolved"

	// === Audit meta events ===
	EventAuditDropped EventType = "audit.dropped"
)

// Severity represents the severity level of an audit event
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event represents a single audit event
type Event struct {
	// ID is a unique identifier for this event
	ID string `json:"id"`

	// Type is the type of event
	Type EventType `json:"type"`

	// Severity indicates the importance of the event
	Severity Severity `json:"severity"`

	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// Actor is who triggered the event
	Actor Actor `json:"actor"`

	// Target is what was affected by the event
	Target Target `json:"target"`

	// Details contains event-specific information
	Details map[string]interface{} `json:"details,omitempty"`

	// CorrelationID ties together the events of one escalation run.
	CorrelationID string `json:"correlationId,omitempty"`
}

// Actor represents who triggered an audit event
type Actor struct {
	// User is a service component ("escalator", "dispatcher") or an API caller
	User string `json:"user"`

	// SourceIP is the IP address of the request origin
	SourceIP string `json:"sourceIP,omitempty"`
}

// Target represents what was affected by an audit event
type Target struct {
	// Kind is "notification" or "breach"
	Kind string `json:"kind"`

	// ID of the notification record or breach
	ID string `json:"id"`

	// ClaimID the target belongs to
	ClaimID string `json:"claimId,omitempty"`
}

// SeverityForEventType returns the default severity for an event type
func SeverityForEventType(eventType EventType) Severity {
	switch eventType {
	case EventAuditDropped:
		return SeverityCritical

	case EventNotificationFailed, EventNotificationRejected:
		return SeverityWarning

	default:
		return SeverityInfo
	}
}
