// Package metrics defines Prometheus metrics for the escalation service,
// covering escalations, notification dispatch, the ledger, audit sinks
// and mail/SMS delivery.
package metrics
