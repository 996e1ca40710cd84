// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/sla-escalation/pkg/breaker"
	"github.com/telekom/sla-escalation/pkg/config"
)

// FromConfig builds a Manager from the audit configuration section.
//
// Every configured sink is wrapped in a circuit breaker and gets its own
// queue, so a slow or failing destination never blocks escalations or
// starves the other sinks. Disabled auditing yields a nil Manager.
func FromConfig(cfg config.Audit, logger *zap.Logger) (*Manager, error) {
	if !cfg.Enabled {
		logger.Info("audit trail disabled")
		return nil, nil
	}

	specs := cfg.Sinks
	if len(specs) == 0 {
		specs = []config.AuditSink{{Type: "log"}}
	}

	qcfg := QueuedSinkConfig{QueueSize: cfg.QueueSize, WorkerCount: cfg.WorkerCount}
	sinks := make([]Sink, 0, len(specs))
	for i, spec := range specs {
		raw, err := buildSink(spec, logger)
		if err != nil {
			for _, s := range sinks {
				_ = s.Close()
			}
			return nil, fmt.Errorf("audit sink %d (%s): %w", i, spec.Type, err)
		}
		protected := NewCircuitBreakerSink(raw, breaker.DefaultConfig(), logger)
		sinks = append(sinks, NewQueuedSink(protected, qcfg, logger))
	}

	return NewManager(NewMultiSink(sinks, logger.Named("audit")), logger), nil
}

func buildSink(spec config.AuditSink, logger *zap.Logger) (Sink, error) {
	switch spec.Type {
	case "log":
		return NewLogSink(logger), nil
	case "webhook":
		return NewWebhookSink(WebhookSinkConfig{
			Name:    spec.Name,
			URL:     spec.URL,
			Headers: spec.Headers,
			Timeout: config.Duration(spec.Timeout, 5*time.Second),
		}, logger), nil
	case "kafka":
		return buildKafkaSink(spec, logger)
	default:
		return nil, fmt.Errorf("unknown sink type %q", spec.Type)
	}
}

func buildKafkaSink(spec config.AuditSink, logger *zap.Logger) (Sink, error) {
	if spec.Kafka == nil {
		return nil, fmt.Errorf("kafka settings are required")
	}
	kcfg := KafkaSinkConfig{
		Name:             spec.Name,
		Brokers:          spec.Kafka.Brokers,
		Topic:            spec.Kafka.Topic,
		CompressionCodec: spec.Kafka.Compression,
		WriteTimeout:     config.Duration(spec.Timeout, 10*time.Second),
	}
	if t := spec.Kafka.TLS; t != nil && t.Enabled {
		tlsCfg := &KafkaTLSConfig{Enabled: true, InsecureSkipVerify: t.InsecureSkipVerify}
		var err error
		if tlsCfg.CACert, err = readOptional(t.CAFile); err != nil {
			return nil, err
		}
		if tlsCfg.ClientCert, err = readOptional(t.CertFile); err != nil {
			return nil, err
		}
		if tlsCfg.ClientKey, err = readOptional(t.KeyFile); err != nil {
			return nil, err
		}
		kcfg.TLS = tlsCfg
	}
	if s := spec.Kafka.SASL; s != nil {
		kcfg.SASL = &KafkaSASLConfig{Mechanism: s.Mechanism, Username: s.Username, Password: s.Password}
	}
	return NewKafkaSink(kcfg, logger)
}

func readOptional(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return b, nil
}
