// Package audit provides the audit trail for notifications and escalations,
// capturing and forwarding audit events to configurable sinks (Kafka,
// webhook, log) with circuit breaker protection and queued delivery.
package audit
