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
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/telekom/sla-escalation/pkg/breaker"
	"github.com/telekom/sla-escalation/pkg/version"
)

// Sink is one audit destination.
type Sink interface {
	Write(ctx context.Context, event *Event) error
	Close() error
	Name() string
}

// LogSink writes every event as one structured log line.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

func (s *LogSink) Write(_ context.Context, event *Event) error {
	fields := make([]zap.Field, 0, 12)
	fields = append(fields,
		zap.String("eventID", event.ID),
		zap.String("eventType", string(event.Type)),
		zap.String("severity", string(event.Severity)),
		zap.Time("occurredAt", event.Timestamp),
		zap.String("actor", event.Actor.User),
		zap.String(event.Target.Kind+"ID", event.Target.ID),
	)
	optional := []struct{ key, val string }{
		{"sourceIP", event.Actor.SourceIP},
		{"claimID", event.Target.ClaimID},
		{"correlationID", event.CorrelationID},
	}
	for _, o := range optional {
		if o.val != "" {
			fields = append(fields, zap.String(o.key, o.val))
		}
	}
	if len(event.Details) > 0 {
		fields = append(fields, zap.Any("details", event.Details))
	}

	s.logger.Info("Audit event", fields...)
	return nil
}

func (s *LogSink) Close() error { return nil }

func (s *LogSink) Name() string { return "log" }

// WebhookSinkConfig configures a WebhookSink.
type WebhookSinkConfig struct {
	Name    string
	URL     string
	Headers map[string]string
	// Timeout bounds one POST; zero means 5s.
	Timeout time.Duration
}

// WebhookSink POSTs each event as JSON to an external collector. Any status
// of 400 or above counts as a failed write.
type WebhookSink struct {
	name    string
	url     string
	http    *resty.Client
	logger  *zap.Logger
	written atomic.Int64
	failed  atomic.Int64
}

func NewWebhookSink(cfg WebhookSinkConfig, logger *zap.Logger) *WebhookSink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	name := cfg.Name
	if name == "" {
		name = "webhook"
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", version.UserAgent("sla-escalation-audit")).
		SetHeaders(cfg.Headers)

	s := &WebhookSink{
		name:   name,
		url:    cfg.URL,
		http:   client,
		logger: logger.Named("audit-webhook").With(zap.String("sink", name)),
	}
	s.logger.Info("Webhook audit sink ready", zap.String("url", cfg.URL), zap.Duration("timeout", timeout))
	return s
}

func (s *WebhookSink) Write(ctx context.Context, event *Event) error {
	resp, err := s.http.R().SetContext(ctx).SetBody(event).Post(s.url)
	if err != nil {
		s.failed.Add(1)
		s.logger.Debug("Audit webhook unreachable", zap.String("eventID", event.ID), zap.String("error", err.Error()))
		return fmt.Errorf("posting audit event to %s: %w", s.url, err)
	}
	if resp.IsError() {
		s.failed.Add(1)
		s.logger.Debug("Audit webhook rejected event", zap.String("eventID", event.ID), zap.Int("status", resp.StatusCode()))
		return fmt.Errorf("audit webhook %s answered %d", s.url, resp.StatusCode())
	}
	s.written.Add(1)
	return nil
}

// Stats reports delivered and failed writes since creation.
func (s *WebhookSink) Stats() (written, failed int64) {
	return s.written.Load(), s.failed.Load()
}

func (s *WebhookSink) Close() error {
	written, failed := s.Stats()
	s.logger.Info("Webhook audit sink closed", zap.Int64("written", written), zap.Int64("failed", failed))
	return nil
}

func (s *WebhookSink) Name() string { return s.name }

// MultiSink fans each event out to every sink in order. One failing sink
// does not keep the event from the others; all failures are joined.
type MultiSink struct {
	sinks  []Sink
	logger *zap.Logger
}

func NewMultiSink(sinks []Sink, logger *zap.Logger) *MultiSink {
	return &MultiSink{sinks: sinks, logger: logger}
}

func (s *MultiSink) Write(ctx context.Context, event *Event) error {
	var errs []error
	for _, sink := range s.sinks {
		err := sink.Write(ctx, event)
		if err == nil {
			continue
		}
		s.logger.Warn("Audit sink write failed", zap.String("sink", sink.Name()), zap.String("error", err.Error()))
		errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
	}
	return errors.Join(errs...)
}

func (s *MultiSink) Close() error {
	errs := make([]error, 0, len(s.sinks))
	for _, sink := range s.sinks {
		errs = append(errs, sink.Close())
	}
	return errors.Join(errs...)
}

func (s *MultiSink) Name() string { return "multi" }

// CircuitBreakerSink stops calling a sink after repeated failures and fails
// fast with breaker.ErrOpen until the breaker lets a probe through.
type CircuitBreakerSink struct {
	sink    Sink
	breaker *breaker.Breaker
	logger  *zap.Logger
}

func NewCircuitBreakerSink(sink Sink, cfg breaker.Config, logger *zap.Logger) *CircuitBreakerSink {
	return &CircuitBreakerSink{
		sink:    sink,
		breaker: breaker.New("audit-"+sink.Name(), cfg, logger),
		logger:  logger.Named("audit-breaker").With(zap.String("sink", sink.Name())),
	}
}

func (s *CircuitBreakerSink) Write(ctx context.Context, event *Event) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.sink.Write(ctx, event)
	})
}

func (s *CircuitBreakerSink) Close() error {
	s.logger.Info("Closing audit sink", zap.String("breaker", s.breaker.State().String()))
	return s.sink.Close()
}

func (s *CircuitBreakerSink) Name() string { return s.sink.Name() }

// IsHealthy reports whether the breaker is closed.
func (s *CircuitBreakerSink) IsHealthy() bool {
	return s.breaker.IsHealthy()
}
