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
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/sla-escalation/pkg/breaker"
	"github.com/telekom/sla-escalation/pkg/metrics"
)

const (
	defaultQueueSize    = 10000
	defaultQueueWorkers = 2
	defaultWriteTimeout = 5 * time.Second

	// A sink is reported unhealthy once its queue is this full or its last
	// success is older than healthWindow while errors occur.
	queueHighWater = 0.8
	healthWindow   = time.Minute
)

// QueuedSinkConfig sizes the buffer and worker pool of a QueuedSink.
type QueuedSinkConfig struct {
	QueueSize    int
	WorkerCount  int
	WriteTimeout time.Duration
}

func DefaultQueuedSinkConfig() QueuedSinkConfig {
	return QueuedSinkConfig{
		QueueSize:    defaultQueueSize,
		WorkerCount:  defaultQueueWorkers,
		WriteTimeout: defaultWriteTimeout,
	}
}

func (c QueuedSinkConfig) withDefaults() QueuedSinkConfig {
	d := DefaultQueuedSinkConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = d.WorkerCount
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	return c
}

// SinkHealth is the state of one queued audit sink as reported on /healthz.
type SinkHealth struct {
	Name            string    `json:"name"`
	Healthy         bool      `json:"healthy"`
	QueueLength     int       `json:"queueLength"`
	QueueCapacity   int       `json:"queueCapacity"`
	DroppedEvents   int64     `json:"droppedEvents"`
	ProcessedEvents int64     `json:"processedEvents"`
	FailedEvents    int64     `json:"failedEvents"`
	LastError       string    `json:"lastError,omitempty"`
	LastErrorTime   time.Time `json:"lastErrorTime,omitempty"`
	LastSuccessTime time.Time `json:"lastSuccessTime,omitempty"`
}

type healthReporter interface {
	Health() SinkHealth
}

// QueuedSink decouples Emit from a slow destination. Write never blocks: a
// full queue drops the event and counts it. Workers write with their own
// timeout, detached from the caller's context.
type QueuedSink struct {
	sink   Sink
	cfg    QueuedSinkConfig
	queue  chan *Event
	logger *zap.Logger
	now    func() time.Time

	dropped   atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64

	mu          sync.RWMutex
	lastErr     string
	lastErrAt   time.Time
	lastSuccess time.Time

	// sendMu makes Close wait for in-flight enqueues before closing queue.
	sendMu  sync.RWMutex
	closed  bool
	workers sync.WaitGroup
}

func NewQueuedSink(sink Sink, cfg QueuedSinkConfig, logger *zap.Logger) *QueuedSink {
	cfg = cfg.withDefaults()
	qs := &QueuedSink{
		sink:   sink,
		cfg:    cfg,
		queue:  make(chan *Event, cfg.QueueSize),
		logger: logger.Named("audit-queue").With(zap.String("sink", sink.Name())),
		now:    time.Now,
	}
	qs.workers.Add(cfg.WorkerCount)
	for i := 0; i < cfg.WorkerCount; i++ {
		go qs.run(i)
	}
	qs.logger.Info("Audit queue started", zap.Int("capacity", cfg.QueueSize), zap.Int("workers", cfg.WorkerCount))
	return qs
}

func (qs *QueuedSink) Write(_ context.Context, event *Event) error {
	qs.sendMu.RLock()
	defer qs.sendMu.RUnlock()
	if qs.closed {
		return fmt.Errorf("audit queue for %s is closed", qs.sink.Name())
	}
	select {
	case qs.queue <- event:
	default:
		qs.drop("queue_full")
		qs.logger.Warn("Audit queue full, event dropped",
			zap.String("eventID", event.ID), zap.String("eventType", string(event.Type)))
	}
	return nil
}

func (qs *QueuedSink) run(worker int) {
	defer qs.workers.Done()
	for event := range qs.queue {
		qs.deliver(worker, event)
	}
}

func (qs *QueuedSink) deliver(worker int, event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), qs.cfg.WriteTimeout)
	err := qs.sink.Write(ctx, event)
	cancel()

	switch {
	case err == nil:
		qs.processed.Add(1)
		metrics.AuditEventsProcessed.WithLabelValues(qs.sink.Name()).Inc()
		qs.mu.Lock()
		qs.lastSuccess = qs.now()
		qs.mu.Unlock()
	case errors.Is(err, breaker.ErrOpen):
		qs.drop("circuit_open")
	default:
		qs.failed.Add(1)
		metrics.AuditSinkErrors.WithLabelValues(qs.sink.Name(), "write").Inc()
		qs.mu.Lock()
		qs.lastErr, qs.lastErrAt = err.Error(), qs.now()
		qs.mu.Unlock()
		qs.logger.Error("Audit event write failed",
			zap.Int("worker", worker),
			zap.String("eventID", event.ID),
			zap.String("eventType", string(event.Type)),
			zap.String("error", err.Error()))
	}
}

func (qs *QueuedSink) drop(reason string) {
	qs.dropped.Add(1)
	metrics.AuditEventsDropped.WithLabelValues(qs.sink.Name(), reason).Inc()
}

func (qs *QueuedSink) Health() SinkHealth {
	qs.mu.RLock()
	h := SinkHealth{
		Name:            qs.sink.Name(),
		LastError:       qs.lastErr,
		LastErrorTime:   qs.lastErrAt,
		LastSuccessTime: qs.lastSuccess,
	}
	qs.mu.RUnlock()

	h.QueueLength, h.QueueCapacity = len(qs.queue), cap(qs.queue)
	h.DroppedEvents = qs.dropped.Load()
	h.ProcessedEvents = qs.processed.Load()
	h.FailedEvents = qs.failed.Load()

	headroom := float64(h.QueueLength) < float64(h.QueueCapacity)*queueHighWater
	recent := h.LastErrorTime.IsZero() || h.LastSuccessTime.After(qs.now().Add(-healthWindow))
	h.Healthy = headroom && recent
	return h
}

// Close stops accepting events, waits for the queue to drain and closes
// the wrapped sink. Repeated calls return nil.
func (qs *QueuedSink) Close() error {
	qs.sendMu.Lock()
	if qs.closed {
		qs.sendMu.Unlock()
		return nil
	}
	qs.closed = true
	close(qs.queue)
	qs.sendMu.Unlock()

	qs.workers.Wait()
	return qs.sink.Close()
}

func (qs *QueuedSink) Name() string { return qs.sink.Name() }
