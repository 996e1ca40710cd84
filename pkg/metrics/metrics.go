package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Escalation metrics
	Escalations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_escalations_total",
		Help: "Total number of escalation evaluations grouped by target tier and outcome",
	}, []string{"tier", "outcome"})
	EscalationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sla_escalation_duration_seconds",
		Help:    "Time spent escalating a single breach to a new tier",
		Buckets: prometheus.DefBuckets,
	}, []string{"tier"})
	OpenBreaches = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sla_open_breaches",
		Help: "Number of open breaches seen by the last evaluation scan",
	})
	Scans = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_scans_total",
		Help: "Total number of evaluation scans grouped by result",
	}, []string{"result"})

	// Dispatch metrics
	NotificationsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_notifications_dispatched_total",
		Help: "Total number of dispatched notifications grouped by channel and resulting status",
	}, []string{"channel", "status"})
	NotificationsDeduplicated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_notifications_deduplicated_total",
		Help: "Total number of submissions answered from an existing ledger record",
	}, []string{"channel"})
	DispatchRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_dispatch_retries_total",
		Help: "Total number of provider send retries",
	}, []string{"channel"})
	DispatchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sla_dispatch_send_duration_seconds",
		Help:    "Provider send latency including retries",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"channel"})
	CircuitBreakerRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_circuit_breaker_rejections_total",
		Help: "Total number of calls rejected by an open circuit breaker",
	}, []string{"name"})
	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sla_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})

	// Ledger metrics
	StatusUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_status_updates_total",
		Help: "Total number of delivery status updates grouped by result",
	}, []string{"status", "result"})
	LedgerErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_ledger_errors_total",
		Help: "Total number of ledger operations that failed for infrastructure reasons",
	}, []string{"operation"})

	// Audit metrics
	AuditEventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_audit_events_processed_total",
		Help: "Total number of audit events written by a sink",
	}, []string{"sink"})
	AuditEventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_audit_events_dropped_total",
		Help: "Total number of audit events dropped before reaching a sink",
	}, []string{"sink", "reason"})
	AuditSinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_audit_sink_errors_total",
		Help: "Total number of audit sink write errors",
	}, []string{"sink", "error_type"})
	AuditSinkLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sla_audit_sink_write_duration_seconds",
		Help:    "Audit sink write latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"sink"})
	AuditSinkConnected = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sla_audit_sink_connected",
		Help: "Whether an audit sink is currently connected (1) or not (0)",
	}, []string{"sink"})
	AuditKafkaBatchesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_audit_kafka_batches_sent_total",
		Help: "Total number of audit batches written to Kafka",
	}, []string{"sink"})

	// Provider metrics
	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_mail_send_success_total",
		Help: "Total number of successful mail sends",
	}, []string{"host"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_mail_send_failure_total",
		Help: "Total number of failed mail sends",
	}, []string{"host"})
	SMSSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_sms_send_success_total",
		Help: "Total number of successful SMS gateway calls",
	}, []string{"gateway"})
	SMSSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_sms_send_failure_total",
		Help: "Total number of failed SMS gateway calls",
	}, []string{"gateway"})

	// API metrics
	APIRateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sla_api_rate_limited_total",
		Help: "Total number of API requests rejected by the rate limiter",
	}, []string{"path"})
)

func init() {
	prometheus.MustRegister(Escalations)
	prometheus.MustRegister(EscalationDuration)
	prometheus.MustRegister(OpenBreaches)
	prometheus.MustRegister(Scans)
	prometheus.MustRegister(NotificationsDispatched)
	prometheus.MustRegister(NotificationsDeduplicated)
	prometheus.MustRegister(DispatchRetries)
	prometheus.MustRegister(DispatchLatency)
	prometheus.MustRegister(CircuitBreakerRejections)
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(StatusUpdates)
	prometheus.MustRegister(LedgerErrors)
	prometheus.MustRegister(AuditEventsProcessed)
	prometheus.MustRegister(AuditEventsDropped)
	prometheus.MustRegister(AuditSinkErrors)
	prometheus.MustRegister(AuditSinkLatency)
	prometheus.MustRegister(AuditSinkConnected)
	prometheus.MustRegister(AuditKafkaBatchesSent)
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(SMSSendSuccess)
	prometheus.MustRegister(SMSSendFailure)
	prometheus.MustRegister(APIRateLimited)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
