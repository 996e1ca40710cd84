/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/sla-escalation/pkg/breach"
	"github.com/telekom/sla-escalation/pkg/notification"
)

// Actors used by the service itself.
const (
	ActorDispatcher = "dispatcher"
	ActorEscalator  = "escalator"
	ActorWebhook    = "delivery-webhook"
)

// Manager stamps audit events and hands them to a sink. A nil *Manager is
// valid and discards everything, so components can run without auditing.
type Manager struct {
	sink   Sink
	logger *zap.Logger
	now    func() time.Time
}

// NewManager creates a Manager writing to sink. Queued sinks make Emit
// non-blocking; a plain sink is written inline.
func NewManager(sink Sink, logger *zap.Logger) *Manager {
	return &Manager{
		sink:   sink,
		logger: logger.Named("audit-manager"),
		now:    time.Now,
	}
}

// Emit fills ID, timestamp and severity when unset and writes event.
// Sink errors are logged, never returned.
func (m *Manager) Emit(ctx context.Context, event *Event) {
	if m == nil || m.sink == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = m.now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityForEventType(event.Type)
	}
	if err := m.sink.Write(ctx, event); err != nil {
		m.logger.Warn("audit event not written",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.String("error", err.Error()))
	}
}

// Close closes the underlying sink.
func (m *Manager) Close() error {
	if m == nil || m.sink == nil {
		return nil
	}
	return m.sink.Close()
}

// Health reports the state of every queued sink. It is nil when auditing
// is disabled.
func (m *Manager) Health() []SinkHealth {
	if m == nil || m.sink == nil {
		return nil
	}
	sinks := []Sink{m.sink}
	if multi, ok := m.sink.(*MultiSink); ok {
		sinks = multi.sinks
	}
	out := make([]SinkHealth, 0, len(sinks))
	for _, s := range sinks {
		if hr, ok := s.(healthReporter); ok {
			out = append(out, hr.Health())
		}
	}
	return out
}

// --- Helper methods for common events ---

func notificationTarget(rec *notification.Record) Target {
	return Target{Kind: "notification", ID: rec.ID, ClaimID: rec.ClaimID}
}

func notificationDetails(rec *notification.Record) map[string]interface{} {
	d := map[string]interface{}{
		"channel":  string(rec.Channel),
		"priority": string(rec.Priority),
		"status":   string(rec.Status),
	}
	if rec.IdempotencyKey != "" {
		d["idempotencyKey"] = rec.IdempotencyKey
		d["breachId"] = rec.BreachID
		d["tier"] = rec.Tier
		d["recipientRole"] = rec.RecipientRole
	}
	if rec.Attempts > 0 {
		d["attempts"] = rec.Attempts
	}
	if rec.FailureReason != "" {
		d["failureReason"] = rec.FailureReason
	}
	return d
}

// NotificationCreated records a new pending ledger entry.
func (m *Manager) NotificationCreated(ctx context.Context, rec *notification.Record) {
	m.Emit(ctx, &Event{
		Type:    EventNotificationCreated,
		Actor:   Actor{User: ActorDispatcher},
		Target:  notificationTarget(rec),
		Details: notificationDetails(rec),
	})
}

// NotificationTransitioned records a status change of a ledger entry.
func (m *Manager) NotificationTransitioned(ctx context.Context, actor string, rec *notification.Record) {
	var t EventType
	switch rec.Status {
	case notification.StatusSent:
		t = EventNotificationSent
	case notification.StatusDelivered:
		t = EventNotificationDelivered
	case notification.StatusFailed:
		t = EventNotificationFailed
	default:
		return
	}
	m.Emit(ctx, &Event{
		Type:    t,
		Actor:   Actor{User: actor},
		Target:  notificationTarget(rec),
		Details: notificationDetails(rec),
	})
}

// NotificationRejected records a status change the ledger refused.
func (m *Manager) NotificationRejected(ctx context.Context, actor, id string, requested notification.Status, reason error) {
	m.Emit(ctx, &Event{
		Type:   EventNotificationRejected,
		Actor:  Actor{User: actor},
		Target: Target{Kind: "notification", ID: id},
		Details: map[string]interface{}{
			"requestedStatus": string(requested),
			"reason":          reason.Error(),
		},
	})
}

// EscalationAdvanced records a completed tier transition.
func (m *Manager) EscalationAdvanced(ctx context.Context, e *breach.Event, from, to breach.Tier, records []*notification.Record) {
	ids := make([]string, 0, len(records))
	failed := 0
	for _, r := range records {
		ids = append(ids, r.ID)
		if r.Status == notification.StatusFailed {
			failed++
		}
	}
	severity := SeverityInfo
	if to == breach.TierInstitutional {
		severity = SeverityCritical
	}
	m.Emit(ctx, &Event{
		Type:          EventEscalationAdvanced,
		Severity:      severity,
		Actor:         Actor{User: ActorEscalator},
		Target:        Target{Kind: "breach", ID: e.ID, ClaimID: e.ClaimID},
		CorrelationID: fmt.Sprintf("%s/%d", e.ID, int(to)),
		Details: map[string]interface{}{
			"fromTier":         int(from),
			"toTier":           int(to),
			"tierName":         to.String(),
			"breachSeverity":   string(e.Severity),
			"notifications":    ids,
			"failedDispatches": failed,
		},
	})
}

// EscalationSkipped records why a breach was not escalated.
func (m *Manager) EscalationSkipped(ctx context.Context, e *breach.Event, reason string) {
	m.Emit(ctx, &Event{
		Type:   EventEscalationSkipped,
		Actor:  Actor{User: ActorEscalator},
		Target: Target{Kind: "breach", ID: e.ID, ClaimID: e.ClaimID},
		Details: map[string]interface{}{
			"reason":            reason,
			"lastEscalatedTier": int(e.LastEscalatedTier),
		},
	})
}

// BreachRegistered records a breach entering the registry.
func (m *Manager) BreachRegistered(ctx context.Context, actor Actor, e *breach.Event) {
	m.Emit(ctx, &Event{
		Type:   EventBreachRegistered,
		Actor:  actor,
		Target: Target{Kind: "breach", ID: e.ID, ClaimID: e.ClaimID},
		Details: map[string]interface{}{
			"severity":             string(e.Severity),
			"responsiblePartyType": e.ResponsiblePartyType,
			"delayDays":            e.DelayDays,
		},
	})
}

// BreachResolved records a breach leaving the escalation protocol.
func (m *Manager) BreachResolved(ctx context.Context, actor Actor, e *breach.Event) {
	m.Emit(ctx, &Event{
		Type:   EventBreachResolved,
		Actor:  actor,
		Target: Target{Kind: "breach", ID: e.ID, ClaimID: e.ClaimID},
		Details: map[string]interface{}{
			"lastEscalatedTier": int(e.LastEscalatedTier),
		},
	})
}
