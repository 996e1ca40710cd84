package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/telekom/sla-escalation/pkg/api"
	"github.com/telekom/sla-escalation/pkg/audit"
	"github.com/telekom/sla-escalation/pkg/breach"
	"github.com/telekom/sla-escalation/pkg/cli"
	"github.com/telekom/sla-escalation/pkg/config"
	"github.com/telekom/sla-escalation/pkg/dispatch"
	"github.com/telekom/sla-escalation/pkg/escalation"
	"github.com/telekom/sla-escalation/pkg/ledger"
	"github.com/telekom/sla-escalation/pkg/mail"
	"github.com/telekom/sla-escalation/pkg/metrics"
	"github.com/telekom/sla-escalation/pkg/notice"
	"github.com/telekom/sla-escalation/pkg/scanner"
	"github.com/telekom/sla-escalation/pkg/sms"
	"github.com/telekom/sla-escalation/pkg/store/postgres"
	"github.com/telekom/sla-escalation/pkg/store/sqlite"
	"github.com/telekom/sla-escalation/pkg/telemetry"
	"github.com/telekom/sla-escalation/pkg/version"
)

func main() {
	flags := cli.Parse()

	zl := setupLogger(flags.Debug)
	defer func() { _ = zl.Sync() }()
	log := zl.Sugar()
	log.With("version", version.Version).Info("Starting SLA escalation service")
	flags.Print(log)

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		log.Fatalf("Error loading config for SLA escalation service: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, flags, cfg, zl)
	stop()
	if err != nil {
		log.Errorw("SLA escalation service stopped with error", "error", err.Error())
		_ = zl.Sync()
		os.Exit(1)
	}
	log.Info("SLA escalation service stopped")
}

// run wires every component and blocks until ctx is cancelled or a
// component fails. With RunOnce set it performs a single scan instead.
func run(ctx context.Context, flags *cli.Config, cfg config.Config, zl *zap.Logger) error {
	log := zl.Sugar()

	_, shutdownTracing, err := telemetry.Init(ctx, telemetry.FromConfig(cfg.Telemetry, log))
	if err != nil {
		return fmt.Errorf("failed to initialise tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warnw("Failed to flush traces", "error", err.Error())
		}
	}()

	am, err := audit.FromConfig(cfg.Audit, zl)
	if err != nil {
		return fmt.Errorf("failed to set up audit trail: %w", err)
	}
	defer func() {
		if err := am.Close(); err != nil {
			log.Warnw("Failed to close audit sinks", "error", err.Error())
		}
	}()

	st, err := openStorage(cfg.Storage, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			log.Warnw("Failed to close storage", "driver", cfg.Storage.Driver, "error", err.Error())
		}
	}()

	notifications := ledger.NewAudited(st.ledger, am)
	dispatcher := dispatch.New(notifications, dispatchOptions(flags, cfg, log)...)
	renderer := notice.NewTemplateRenderer(
		notice.WithBranding(cfg.Notice.BrandingName),
		notice.WithPortalURL(cfg.Notice.PortalURL),
	)
	coordinator := escalation.NewCoordinator(st.breaches, dispatcher, renderer,
		escalation.WithAudit(am),
		escalation.WithLogger(log),
	)

	sc := scanner.Scanner{
		Log:         log,
		Store:       st.breaches,
		Escalator:   coordinator,
		Reclaimer:   dispatcher,
		Interval:    cli.ParseScanInterval(flags.ScanInterval, cfg.Escalation.ScanInterval, log),
		Concurrency: cfg.Escalation.Concurrency,
	}

	if flags.RunOnce {
		summary, err := sc.RunOnce(ctx)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
		log.Infow("Scan finished",
			"reclaimed", summary.Reclaimed,
			"evaluated", summary.Evaluated,
			"advanced", summary.Advanced,
			"noop", summary.Noop,
			"conflicts", summary.Conflicts,
			"resolved", summary.Resolved,
			"errors", summary.Errors)
		return nil
	}

	var auth *api.AuthHandler
	if cfg.Auth.Enabled {
		auth, err = api.NewAuth(log, cfg.Auth)
		if err != nil {
			return fmt.Errorf("failed to set up API authentication: %w", err)
		}
		defer auth.Close()
	} else {
		log.Warn("API authentication disabled; breach and notification endpoints are open")
	}

	server := api.NewServer(zl, cfg, flags.Debug, auth)
	defer server.Close()
	if am != nil {
		server.SetAuditHealth(am.Health)
	}
	mw := server.AuthMiddleware()
	err = server.RegisterAll([]api.APIController{
		api.NewNotificationController(notifications, log, mw...),
		api.NewBreachController(st.breaches, coordinator, am, log, mw...),
		api.NewWebhookController(notifications, cfg.Webhook.Token, log),
	})
	if err != nil {
		return fmt.Errorf("error registering API controllers: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if flags.DisableScanner {
		log.Info("Breach scanner disabled")
	} else {
		g.Go(func() error {
			sc.Start(gctx)
			return nil
		})
	}
	if flags.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, flags.MetricsAddr, log) })
	}
	g.Go(func() error { return server.Listen(gctx) })
	return g.Wait()
}

func dispatchOptions(flags *cli.Config, cfg config.Config, log *zap.SugaredLogger) []dispatch.Option {
	opts := []dispatch.Option{
		dispatch.WithConfig(dispatch.FromConfig(cfg.Dispatch)),
		dispatch.WithLogger(log),
	}

	switch {
	case flags.DisableEmail:
		log.Info("Email delivery disabled by flag")
	case cfg.Mail.Host == "":
		log.Warn("No SMTP host configured; email notifications will be recorded as failed")
	default:
		opts = append(opts, dispatch.WithEmail(mail.NewSender(cfg.Mail, mail.WithLogger(log))))
	}

	switch {
	case flags.DisableSMS:
		log.Info("SMS delivery disabled by flag")
	case !cfg.SMS.Enabled:
		log.Info("SMS gateway not enabled; SMS notifications will be recorded as failed")
	default:
		gw, err := sms.NewGateway(cfg.SMS, sms.WithLogger(log))
		if err != nil {
			log.Errorw("Invalid SMS gateway configuration; SMS notifications will be recorded as failed", "error", err.Error())
			break
		}
		opts = append(opts, dispatch.WithSMS(gw))
	}
	return opts
}

type storage struct {
	ledger   ledger.Ledger
	breaches breach.Store
	close    func() error
}

func openStorage(cfg config.Storage, log *zap.SugaredLogger) (*storage, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		log.Warn("Using in-memory storage; notification history is lost on restart")
		return &storage{
			ledger:   ledger.NewMemory(),
			breaches: breach.NewMemory(),
			close:    func() error { return nil },
		}, nil
	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		log.Infow("Using sqlite storage", "path", cfg.DSN)
		return &storage{ledger: db.Ledger(), breaches: db.Breaches(), close: db.Close}, nil
	case config.DriverPostgres:
		db, err := postgres.Open(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		log.Info("Using postgres storage")
		return &storage{ledger: db.Ledger(), breaches: db.Breaches(), close: db.Close}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// serveMetrics exposes /metrics on a dedicated address.
func serveMetrics(ctx context.Context, addr string, log *zap.SugaredLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("Metrics server listening", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func setupLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	// Disable automatic stacktraces for non-fatal levels to avoid noisy traces in WARN/INFO logs
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		stdlog.Fatalf("failed to set up logger: %v", err)
	}
	return logger
}
