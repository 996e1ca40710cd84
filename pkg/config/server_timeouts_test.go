package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestServerTimeoutGetters(t *testing.T) {
	tests := []struct {
		name     string
		timeouts *ServerTimeouts
		read     time.Duration
		header   time.Duration
		write    time.Duration
		idle     time.Duration
		maxBytes int
	}{
		{
			name:     "nil receiver",
			timeouts: nil,
			read:     DefaultReadTimeout,
			header:   DefaultReadHeaderTimeout,
			write:    DefaultWriteTimeout,
			idle:     DefaultIdleTimeout,
			maxBytes: DefaultMaxHeaderBytes,
		},
		{
			name:     "empty",
			timeouts: &ServerTimeouts{},
			read:     DefaultReadTimeout,
			header:   DefaultReadHeaderTimeout,
			write:    DefaultWriteTimeout,
			idle:     DefaultIdleTimeout,
			maxBytes: DefaultMaxHeaderBytes,
		},
		{
			name:     "custom",
			timeouts: &ServerTimeouts{ReadTimeout: "45s", ReadHeaderTimeout: "5s", WriteTimeout: "90s", IdleTimeout: "3m", MaxHeaderBytes: 2 << 20},
			read:     45 * time.Second,
			header:   5 * time.Second,
			write:    90 * time.Second,
			idle:     3 * time.Minute,
			maxBytes: 2 << 20,
		},
		{
			name:     "invalid values fall back",
			timeouts: &ServerTimeouts{ReadTimeout: "bad", ReadHeaderTimeout: "-1s", WriteTimeout: "0s", IdleTimeout: "soon", MaxHeaderBytes: -1},
			read:     DefaultReadTimeout,
			header:   DefaultReadHeaderTimeout,
			write:    DefaultWriteTimeout,
			idle:     DefaultIdleTimeout,
			maxBytes: DefaultMaxHeaderBytes,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.read, tt.timeouts.GetReadTimeout())
			assert.Equal(t, tt.header, tt.timeouts.GetReadHeaderTimeout())
			assert.Equal(t, tt.write, tt.timeouts.GetWriteTimeout())
			assert.Equal(t, tt.idle, tt.timeouts.GetIdleTimeout())
			assert.Equal(t, tt.maxBytes, tt.timeouts.GetMaxHeaderBytes())
		})
	}
}

func TestServerGetServerTimeouts(t *testing.T) {
	got := Server{}.GetServerTimeouts()
	require.NotNil(t, got)
	assert.Equal(t, DefaultReadTimeout, got.GetReadTimeout())

	custom := &ServerTimeouts{ReadTimeout: "5s"}
	assert.Same(t, custom, Server{Timeouts: custom}.GetServerTimeouts())
}

func TestServerGetShutdownTimeout(t *testing.T) {
	assert.Equal(t, DefaultShutdownTimeout, Server{}.GetShutdownTimeout())
	assert.Equal(t, time.Minute, Server{ShutdownTimeout: "60s"}.GetShutdownTimeout())
	assert.Equal(t, DefaultShutdownTimeout, Server{ShutdownTimeout: "invalid"}.GetShutdownTimeout())
}

func TestServerTimeoutsFromYAML(t *testing.T) {
	raw := `
server:
  listenAddress: ":8080"
  timeouts:
    readTimeout: "45s"
    writeTimeout: "90s"
    idleTimeout: "3m"
    readHeaderTimeout: "15s"
    maxHeaderBytes: 2097152
  shutdownTimeout: "60s"
`
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(raw), &cfg))
	require.NotNil(t, cfg.Server.Timeouts)

	assert.Equal(t, 45*time.Second, cfg.Server.Timeouts.GetReadTimeout())
	assert.Equal(t, 90*time.Second, cfg.Server.Timeouts.GetWriteTimeout())
	assert.Equal(t, 3*time.Minute, cfg.Server.Timeouts.GetIdleTimeout())
	assert.Equal(t, 15*time.Second, cfg.Server.Timeouts.GetReadHeaderTimeout())
	assert.Equal(t, 2097152, cfg.Server.Timeouts.GetMaxHeaderBytes())
	assert.Equal(t, time.Minute, cfg.Server.GetShutdownTimeout())
}

func TestValidateRejectsBadShutdownTimeout(t *testing.T) {
	cfg := Config{}
	cfg.Defaults()
	cfg.Server.ShutdownTimeout = "forever"
	assert.ErrorContains(t, cfg.Validate(), "server.shutdownTimeout")
}
