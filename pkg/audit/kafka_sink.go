/*
Copyright 2024.

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
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
	"go.uber.org/zap"

	"github.com/telekom/sla-escalation/pkg/metrics"
)

// KafkaSinkConfig configures a KafkaSink. Zero values take the defaults
// noted per field.
type KafkaSinkConfig struct {
	// Name labels the sink in logs and metrics; "kafka".
	Name    string
	Brokers []string
	Topic   string

	TLS  *KafkaTLSConfig
	SASL *KafkaSASLConfig

	// BatchSize 100, BatchTimeout 1s, WriteTimeout 10s.
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration

	// RequiredAcks is -1 (all in-sync replicas) unless set; 1 waits for the leader only.
	RequiredAcks int

	// CompressionCodec is none, gzip, snappy (default), lz4 or zstd.
	CompressionCodec string
}

func (c KafkaSinkConfig) withDefaults() KafkaSinkConfig {
	if c.Name == "" {
		c.Name = "kafka"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.RequiredAcks == 0 {
		c.RequiredAcks = int(kafka.RequireAll)
	}
	return c
}

// KafkaTLSConfig holds PEM encoded TLS material.
type KafkaTLSConfig struct {
	Enabled            bool
	CACert             []byte
	ClientCert         []byte
	ClientKey          []byte
	InsecureSkipVerify bool
}

// KafkaSASLConfig selects PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512.
type KafkaSASLConfig struct {
	Mechanism string
	Username  string
	Password  string
}

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each audit event as one message. Messages are keyed by
// claim so the trail of a claim stays ordered within one partition.
type KafkaSink struct {
	name   string
	writer messageWriter
	logger *zap.Logger

	mu     sync.Mutex
	closed bool

	written   atomic.Int64
	failed    atomic.Int64
	connected atomic.Bool
}

// NewKafkaSink validates cfg and builds the writer. Brokers are dialed on
// the first write.
func NewKafkaSink(cfg KafkaSinkConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka sink needs at least one broker")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka sink needs a topic")
	}
	cfg = cfg.withDefaults()

	transport := &kafka.Transport{}
	if cfg.TLS != nil && cfg.TLS.Enabled {
		tlsCfg, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("kafka TLS: %w", err)
		}
		transport.TLS = tlsCfg
	}
	if cfg.SASL != nil && cfg.SASL.Mechanism != "" {
		mech, err := buildSASLMechanism(cfg.SASL)
		if err != nil {
			return nil, fmt.Errorf("kafka SASL: %w", err)
		}
		transport.SASL = mech
	}
	compression, err := compressionCodec(cfg.CompressionCodec)
	if err != nil {
		return nil, err
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  compression,
		Transport:    transport,
	}

	logger.Info("Kafka audit sink configured",
		zap.String("sink", cfg.Name),
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.Bool("tls", transport.TLS != nil),
		zap.Bool("sasl", transport.SASL != nil))

	return newKafkaSink(cfg.Name, w, logger), nil
}

func newKafkaSink(name string, w messageWriter, logger *zap.Logger) *KafkaSink {
	s := &KafkaSink{name: name, writer: w, logger: logger.Named("audit-kafka").With(zap.String("sink", name))}
	s.setConnected(true)
	return s
}

var codecs = map[string]kafka.Compression{
	"":       kafka.Snappy,
	"snappy": kafka.Snappy,
	"none":   0,
	"gzip":   kafka.Gzip,
	"lz4":    kafka.Lz4,
	"zstd":   kafka.Zstd,
}

func compressionCodec(name string) (kafka.Compression, error) {
	c, ok := codecs[name]
	if !ok {
		return 0, fmt.Errorf("unsupported kafka compression codec %q", name)
	}
	return c, nil
}

// errorMarkers map broker error text onto metric labels, first match wins.
var errorMarkers = []struct {
	class   string
	markers []string
}{
	{"auth", []string{"SASL", "authentication"}},
	{"authorization", []string{"authorization", "ACL"}},
	{"timeout", []string{"timeout", "timed out"}},
	{"network", []string{"connection refused", "no such host"}},
	{"tls", []string{"TLS", "certificate"}},
	{"broker", []string{"broker", "leader"}},
	{"topic", []string{"topic"}},
}

// classifyKafkaError reduces err to a low-cardinality label.
func classifyKafkaError(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "network"
	}
	msg := err.Error()
	for _, m := range errorMarkers {
		for _, marker := range m.markers {
			if strings.Contains(msg, marker) {
				return m.class
			}
		}
	}
	return "other"
}

// messageKey prefers the claim, then the target, then the event itself.
func messageKey(event *Event) string {
	switch {
	case event.Target.ClaimID != "":
		return event.Target.ClaimID
	case event.Target.ID != "":
		return event.Target.ID
	default:
		return event.ID
	}
}

func eventMessage(event *Event) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	headers := []kafka.Header{
		{Key: "event-id", Value: []byte(event.ID)},
		{Key: "event-type", Value: []byte(event.Type)},
		{Key: "severity", Value: []byte(event.Severity)},
		{Key: "timestamp", Value: []byte(event.Timestamp.Format(time.RFC3339))},
	}
	for _, h := range []struct{ key, val string }{
		{"target-kind", event.Target.Kind},
		{"claim-id", event.Target.ClaimID},
		{"correlation-id", event.CorrelationID},
	} {
		if h.val != "" {
			headers = append(headers, kafka.Header{Key: h.key, Value: []byte(h.val)})
		}
	}
	return kafka.Message{Key: []byte(messageKey(event)), Value: value, Headers: headers}, nil
}

func (s *KafkaSink) Write(ctx context.Context, event *Event) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		metrics.AuditSinkErrors.WithLabelValues(s.name, "closed").Inc()
		return fmt.Errorf("kafka sink %s is closed", s.name)
	}

	msg, err := eventMessage(event)
	if err != nil {
		s.failed.Add(1)
		metrics.AuditSinkErrors.WithLabelValues(s.name, "serialization").Inc()
		return fmt.Errorf("encoding audit event: %w", err)
	}

	start := time.Now()
	err = s.writer.WriteMessages(ctx, msg)
	took := time.Since(start)
	metrics.AuditSinkLatency.WithLabelValues(s.name).Observe(took.Seconds())

	if err != nil {
		s.failed.Add(1)
		class := classifyKafkaError(err)
		metrics.AuditSinkErrors.WithLabelValues(s.name, class).Inc()
		s.setConnected(false)

		fields := []zap.Field{
			zap.String("errorClass", class),
			zap.Duration("took", took),
			zap.String("eventID", event.ID),
			zap.String("eventType", string(event.Type)),
			zap.String("error", err.Error()),
		}
		if class == "network" || class == "dns" || class == "timeout" {
			s.logger.Warn("Kafka unavailable, audit event not published", fields...)
		} else {
			s.logger.Error("Kafka rejected audit event", fields...)
		}
		return fmt.Errorf("publishing to kafka (%s): %w", class, err)
	}

	s.written.Add(1)
	metrics.AuditKafkaBatchesSent.WithLabelValues(s.name).Inc()
	if s.setConnected(true) {
		s.logger.Info("Kafka audit sink reconnected")
	}
	return nil
}

// setConnected updates the gauge and reports whether the state changed.
func (s *KafkaSink) setConnected(up bool) bool {
	if s.connected.Swap(up) == up {
		return false
	}
	v := 0.0
	if up {
		v = 1
	}
	metrics.AuditSinkConnected.WithLabelValues(s.name).Set(v)
	return true
}

// Close flushes pending batches. Later calls are no-ops.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.connected.Store(false)
	metrics.AuditSinkConnected.WithLabelValues(s.name).Set(0)

	written, failed := s.MessageStats()
	s.logger.Info("Closing Kafka audit sink", zap.Int64("written", written), zap.Int64("failed", failed))
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("closing kafka writer: %w", err)
	}
	return nil
}

func (s *KafkaSink) Name() string { return s.name }

// IsConnected reports whether the most recent write succeeded.
func (s *KafkaSink) IsConnected() bool { return s.connected.Load() }

func (s *KafkaSink) MessageStats() (written, failed int64) {
	return s.written.Load(), s.failed.Load()
}

func buildTLSConfig(cfg *KafkaTLSConfig) (*tls.Config, error) {
	out := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for test clusters
	}
	if len(cfg.CACert) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(cfg.CACert) {
			return nil, errors.New("CA bundle contains no PEM certificates")
		}
		out.RootCAs = pool
	}
	if len(cfg.ClientCert) > 0 && len(cfg.ClientKey) > 0 {
		pair, err := tls.X509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("client key pair: %w", err)
		}
		out.Certificates = []tls.Certificate{pair}
	}
	return out, nil
}

func buildSASLMechanism(cfg *KafkaSASLConfig) (sasl.Mechanism, error) {
	switch cfg.Mechanism {
	case "PLAIN":
		return plain.Mechanism{Username: cfg.Username, Password: cfg.Password}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, cfg.Username, cfg.Password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, cfg.Username, cfg.Password)
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism %q", cfg.Mechanism)
	}
}
