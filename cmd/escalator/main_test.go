package main

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/telekom/sla-escalation/pkg/breach"
	"github.com/telekom/sla-escalation/pkg/cli"
	"github.com/telekom/sla-escalation/pkg/config"
	"github.com/telekom/sla-escalation/pkg/notification"
)

func TestSetupLogger_DebugMode(t *testing.T) {
	logger := setupLogger(true)
	if logger == nil {
		t.Fatalf("expected non-nil logger for debug mode")
	}
	_ = logger.Sync()
}

func TestSetupLogger_ProductionMode(t *testing.T) {
	logger := setupLogger(false)
	if logger == nil {
		t.Fatalf("expected non-nil logger for production mode")
	}
	_ = logger.Sync()
}

func TestOpenStorage(t *testing.T) {
	log := zap.NewNop().Sugar()
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		st, err := openStorage(config.Storage{Driver: config.DriverMemory}, log)
		require.NoError(t, err)
		assert.NoError(t, st.close())
	})

	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sla.db")
		st, err := openStorage(config.Storage{Driver: config.DriverSQLite, DSN: path}, log)
		require.NoError(t, err)
		defer func() { assert.NoError(t, st.close()) }()

		e := &breach.Event{
			ID:        "br-1",
			ClaimID:   "claim-1",
			Severity:  breach.SeverityMajor,
			CreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		}
		require.NoError(t, st.breaches.Create(ctx, e))
		got, err := st.breaches.Get(ctx, "br-1")
		require.NoError(t, err)
		assert.Equal(t, "claim-1", got.ClaimID)

		recs, err := st.ledger.List(ctx, notification.Filter{})
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := openStorage(config.Storage{Driver: "mongo"}, log)
		assert.ErrorContains(t, err, "unknown storage driver")
	})
}

func TestDispatchOptions(t *testing.T) {
	log := zap.NewNop().Sugar()

	cfg := config.Config{
		Mail: config.Mail{Host: "smtp.example.com", Port: 587},
		SMS:  config.SMS{Enabled: true, GatewayURL: "https://sms.example.com/send"},
	}
	// config and logger options plus one sender per channel
	assert.Len(t, dispatchOptions(&cli.Config{}, cfg, log), 4)
	assert.Len(t, dispatchOptions(&cli.Config{DisableEmail: true, DisableSMS: true}, cfg, log), 2)

	cfg.SMS.GatewayURL = "not a url"
	assert.Len(t, dispatchOptions(&cli.Config{}, cfg, log), 3)

	assert.Len(t, dispatchOptions(&cli.Config{}, config.Config{}, log), 2)
}

func TestRunOnceWithMemoryStorage(t *testing.T) {
	cfg := config.Config{}
	cfg.Defaults()
	flags := &cli.Config{RunOnce: true, DisableEmail: true, DisableSMS: true}

	err := run(context.Background(), flags, cfg, zap.NewNop())
	assert.NoError(t, err)
}

func TestRunServesUntilCancelled(t *testing.T) {
	cfg := config.Config{}
	cfg.Defaults()
	cfg.Server.ListenAddress = freeAddr(t)
	flags := &cli.Config{DisableScanner: true, DisableEmail: true, DisableSMS: true, MetricsAddr: freeAddr(t)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, flags, cfg, zap.NewNop()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestServeMetricsBindError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	err = serveMetrics(context.Background(), l.Addr().String(), zap.NewNop().Sugar())
	assert.ErrorContains(t, err, "metrics server")
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}
