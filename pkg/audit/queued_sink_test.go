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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/telekom/sla-escalation/pkg/breaker"
)

// gatedSink counts writes and can hold workers on a gate or fail every write.
type gatedSink struct {
	name   string
	gate   chan struct{}
	err    error
	mu     sync.Mutex
	ids    []string
	writes atomic.Int64
	closed atomic.Bool
}

func (s *gatedSink) Write(_ context.Context, event *Event) error {
	if s.gate != nil {
		<-s.gate
	}
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.ids = append(s.ids, event.ID)
	s.mu.Unlock()
	s.writes.Add(1)
	return nil
}

func (s *gatedSink) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *gatedSink) Name() string { return s.name }

func (s *gatedSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

func enqueue(t *testing.T, qs *QueuedSink, prefix string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, qs.Write(context.Background(), &Event{ID: fmt.Sprintf("%s-%d", prefix, i), Type: EventNotificationSent}))
	}
}

func TestQueuedSinkDeliversInBackground(t *testing.T) {
	inner := &gatedSink{name: "kafka"}
	qs := NewQueuedSink(inner, QueuedSinkConfig{QueueSize: 100, WorkerCount: 2}, zap.NewNop())

	enqueue(t, qs, "sent", 10)
	require.Eventually(t, func() bool { return qs.Health().ProcessedEvents == 10 }, 2*time.Second, 10*time.Millisecond)

	h := qs.Health()
	assert.Equal(t, SinkHealth{
		Name:            "kafka",
		Healthy:         true,
		QueueCapacity:   100,
		ProcessedEvents: 10,
		LastSuccessTime: h.LastSuccessTime,
	}, h)
	assert.False(t, h.LastSuccessTime.IsZero())

	require.NoError(t, qs.Close())
	assert.True(t, inner.closed.Load())
}

func TestQueuedSinkConfigDefaults(t *testing.T) {
	qs := NewQueuedSink(&gatedSink{name: "log"}, QueuedSinkConfig{WorkerCount: -1}, zap.NewNop())
	defer func() { _ = qs.Close() }()

	assert.Equal(t, DefaultQueuedSinkConfig(), qs.cfg)
	assert.Equal(t, defaultQueueSize, qs.Health().QueueCapacity)
}

func TestQueuedSinkDropsWhenFull(t *testing.T) {
	inner := &gatedSink{name: "webhook", gate: make(chan struct{})}
	qs := NewQueuedSink(inner, QueuedSinkConfig{QueueSize: 2, WorkerCount: 1}, zap.NewNop())

	// the single worker takes the first event and blocks on the gate
	enqueue(t, qs, "held", 1)
	require.Eventually(t, func() bool { return len(qs.queue) == 0 }, time.Second, 5*time.Millisecond)
	enqueue(t, qs, "queued", 2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			_ = qs.Write(context.Background(), &Event{ID: fmt.Sprintf("overflow-%d", i)})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Write blocked on a full queue")
	}

	h := qs.Health()
	assert.Equal(t, int64(5), h.DroppedEvents)
	assert.False(t, h.Healthy, "a full queue is unhealthy")

	close(inner.gate)
	require.NoError(t, qs.Close())
	assert.Equal(t, 3, inner.count())
}

func TestQueuedSinkRecordsFailures(t *testing.T) {
	inner := &gatedSink{name: "webhook", err: errors.New("connection refused")}
	qs := NewQueuedSink(inner, QueuedSinkConfig{QueueSize: 10, WorkerCount: 1}, zap.NewNop())
	defer func() { _ = qs.Close() }()

	enqueue(t, qs, "failed", 1)
	require.Eventually(t, func() bool { return qs.Health().FailedEvents == 1 }, time.Second, 5*time.Millisecond)

	h := qs.Health()
	assert.Equal(t, "connection refused", h.LastError)
	assert.False(t, h.LastErrorTime.IsZero())
	assert.False(t, h.Healthy)
}

func TestQueuedSinkHealthRecoversAfterSuccess(t *testing.T) {
	qs := NewQueuedSink(&gatedSink{name: "log"}, QueuedSinkConfig{QueueSize: 10, WorkerCount: 1}, zap.NewNop())
	defer func() { _ = qs.Close() }()

	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	qs.now = func() time.Time { return now }
	qs.mu.Lock()
	qs.lastErr, qs.lastErrAt = "timeout", now.Add(-2*time.Minute)
	qs.lastSuccess = now.Add(-90 * time.Second)
	qs.mu.Unlock()
	assert.False(t, qs.Health().Healthy)

	qs.mu.Lock()
	qs.lastSuccess = now.Add(-10 * time.Second)
	qs.mu.Unlock()
	assert.True(t, qs.Health().Healthy)
}

func TestQueuedSinkOpenCircuitIsDropNotFailure(t *testing.T) {
	inner := &gatedSink{name: "kafka", err: fmt.Errorf("audit-kafka: %w", breaker.ErrOpen)}
	qs := NewQueuedSink(inner, QueuedSinkConfig{QueueSize: 10, WorkerCount: 1}, zap.NewNop())
	defer func() { _ = qs.Close() }()

	enqueue(t, qs, "skipped", 1)
	require.Eventually(t, func() bool { return qs.Health().DroppedEvents == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, qs.Health().FailedEvents)
}

func TestQueuedSinkCloseDrains(t *testing.T) {
	inner := &gatedSink{name: "log"}
	qs := NewQueuedSink(inner, QueuedSinkConfig{QueueSize: 50, WorkerCount: 1}, zap.NewNop())

	enqueue(t, qs, "pending", 20)
	require.NoError(t, qs.Close())
	assert.Equal(t, 20, inner.count())

	assert.ErrorContains(t, qs.Write(context.Background(), &Event{ID: "late"}), "closed")
	assert.NoError(t, qs.Close())
}

func TestQueuedSinkConcurrentWritesAndClose(t *testing.T) {
	inner := &gatedSink{name: "multi"}
	qs := NewQueuedSink(inner, QueuedSinkConfig{QueueSize: 1000, WorkerCount: 4}, zap.NewNop())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = qs.Write(context.Background(), &Event{ID: fmt.Sprintf("%d-%d", g, i)})
			}
		}(g)
	}
	closed := make(chan error, 1)
	go func() { closed <- qs.Close() }()
	wg.Wait()
	require.NoError(t, <-closed)

	assert.Equal(t, inner.writes.Load(), qs.Health().ProcessedEvents)
}
