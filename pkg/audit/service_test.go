// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/telekom/sla-escalation/pkg/config"
	"github.com/telekom/sla-escalation/pkg/system"
)

func TestFromConfigDisabled(t *testing.T) {
	m, err := FromConfig(config.Audit{Enabled: false}, system.NewTestZapLogger(t))
	require.NoError(t, err)
	assert.Nil(t, m)

	// a disabled manager is still safe to use
	assert.Nil(t, m.Health())
	m.Emit(context.Background(), &Event{Type: EventBreachRegistered})
	assert.NoError(t, m.Close())
}

func TestFromConfigDefaultsToLogSink(t *testing.T) {
	m, err := FromConfig(config.Audit{Enabled: true}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, m)

	multi, ok := m.sink.(*MultiSink)
	require.True(t, ok)
	require.Len(t, multi.sinks, 1)
	assert.Equal(t, "log", multi.sinks[0].Name())
	assert.IsType(t, &QueuedSink{}, multi.sinks[0])

	health := m.Health()
	require.Len(t, health, 1)
	assert.Equal(t, "log", health[0].Name)
	assert.True(t, health[0].Healthy)

	assert.NoError(t, m.Close())
}

func TestFromConfigWebhookDelivers(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Audit-Token"))
		hits.Add(1)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	m, err := FromConfig(config.Audit{
		Enabled:     true,
		QueueSize:   10,
		WorkerCount: 1,
		Sinks: []config.AuditSink{{
			Name:    "siem",
			Type:    "webhook",
			URL:     server.URL,
			Headers: map[string]string{"X-Audit-Token": "secret"},
			Timeout: "2s",
		}},
	}, zap.NewNop())
	require.NoError(t, err)

	m.Emit(context.Background(), &Event{Type: EventEscalationAdvanced})
	require.NoError(t, m.Close())
	assert.Equal(t, int32(1), hits.Load())
}

func TestFromConfigKafka(t *testing.T) {
	m, err := FromConfig(config.Audit{
		Enabled: true,
		Sinks: []config.AuditSink{{
			Name:  "bus",
			Type:  "kafka",
			Kafka: &config.Kafka{Brokers: []string{"localhost:9092"}, Topic: "sla-audit", Compression: "gzip"},
		}},
	}, zap.NewNop())
	require.NoError(t, err)
	multi := m.sink.(*MultiSink)
	assert.Equal(t, "bus", multi.sinks[0].Name())
	assert.NoError(t, m.Close())
}

func TestFromConfigErrors(t *testing.T) {
	dir := t.TempDir()
	badCA := filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(badCA, []byte("not pem"), 0o600))

	tests := []struct {
		name   string
		sink   config.AuditSink
		errMsg string
	}{
		{"unknown type", config.AuditSink{Type: "syslog"}, `unknown sink type "syslog"`},
		{"kafka without settings", config.AuditSink{Type: "kafka"}, "kafka settings are required"},
		{"kafka without topic", config.AuditSink{Type: "kafka", Kafka: &config.Kafka{Brokers: []string{"b:9092"}}}, "kafka sink needs a topic"},
		{
			"missing CA file",
			config.AuditSink{Type: "kafka", Kafka: &config.Kafka{
				Brokers: []string{"b:9093"}, Topic: "t",
				TLS: &config.KafkaTLS{Enabled: true, CAFile: filepath.Join(dir, "missing.pem")},
			}},
			"missing.pem",
		},
		{
			"unparsable CA file",
			config.AuditSink{Type: "kafka", Kafka: &config.Kafka{
				Brokers: []string{"b:9093"}, Topic: "t",
				TLS: &config.KafkaTLS{Enabled: true, CAFile: badCA},
			}},
			"CA bundle contains no PEM certificates",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := FromConfig(config.Audit{
				Enabled: true,
				Sinks:   []config.AuditSink{{Type: "log"}, tt.sink},
			}, zap.NewNop())
			require.Error(t, err)
			assert.Nil(t, m)
			assert.Contains(t, err.Error(), "audit sink 1")
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestReadOptional(t *testing.T) {
	b, err := readOptional("")
	require.NoError(t, err)
	assert.Nil(t, b)

	path := filepath.Join(t.TempDir(), "cert.pem")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))
	b, err = readOptional(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), b)
}
