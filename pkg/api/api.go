package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/sla-escalation/pkg/audit"
	"github.com/telekom/sla-escalation/pkg/config"
	"github.com/telekom/sla-escalation/pkg/metrics"
	"github.com/telekom/sla-escalation/pkg/ratelimit"
	"github.com/telekom/sla-escalation/pkg/system"
	"github.com/telekom/sla-escalation/pkg/version"
)

// RequestIDHeader carries the request id echoed back to the caller.
const RequestIDHeader = "X-Request-ID"

type APIController interface {
	BasePath() string
	Register(rg *gin.RouterGroup) error
	Handlers() []gin.HandlerFunc
}

type Server struct {
	gin         *gin.Engine
	config      config.Config
	auth        *AuthHandler
	limiter     *ratelimit.Limiter
	auditHealth func() []audit.SinkHealth
	log         *zap.SugaredLogger
}

// NewServer builds the Gin engine with logging, recovery, request ids and the
// health, version and metrics routes. auth may be nil when authentication is
// disabled.
func NewServer(log *zap.Logger, cfg config.Config, debug bool, auth *AuthHandler) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
		requestLogger(log.Sugar()),
	)
	if len(cfg.Server.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
			log.Sugar().Warnw("Ignoring invalid trusted proxies", "proxies", cfg.Server.TrustedProxies, "error", err)
		}
	} else {
		_ = engine.SetTrustedProxies(nil)
	}

	if debug || cfg.Server.EnableCORS {
		engine.Use(
			cors.New(cors.Config{
				AllowAllOrigins: true,
				AllowMethods:    []string{"GET", "POST", "OPTIONS"},
				AllowHeaders:    []string{"Origin", "Authorization", "Content-Type", RequestIDHeader},
				MaxAge:          12 * time.Hour,
			}),
		)
	}

	s := &Server{
		gin:     engine,
		config:  cfg,
		auth:    auth,
		limiter: ratelimit.New(ratelimit.FromServerConfig(cfg.Server.RateLimit)),
		log:     log.Sugar(),
	}

	engine.GET("healthz", s.healthz)
	engine.GET("metrics", gin.WrapH(metrics.MetricsHandler()))
	engine.GET("api/version", s.version)

	return s
}

// AuthMiddleware returns the bearer token middleware, or nil when
// authentication is disabled.
func (s *Server) AuthMiddleware() []gin.HandlerFunc {
	if s.auth == nil {
		return nil
	}
	return []gin.HandlerFunc{s.auth.Middleware()}
}

// RegisterAll mounts every controller below /api behind the rate limiter.
func (s *Server) RegisterAll(controllers []APIController) error {
	r := s.gin.Group("api", s.limiter.Middleware())
	for _, c := range controllers {
		if err := c.Register(r.Group(c.BasePath(), c.Handlers()...)); err != nil {
			return err
		}
	}
	return nil
}

// Handler exposes the engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Listen serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Listen(ctx context.Context) error {
	timeouts := s.config.Server.GetServerTimeouts()
	srv := &http.Server{
		Addr:              s.config.Server.ListenAddress,
		Handler:           s.gin,
		ReadTimeout:       timeouts.GetReadTimeout(),
		ReadHeaderTimeout: timeouts.GetReadHeaderTimeout(),
		WriteTimeout:      timeouts.GetWriteTimeout(),
		IdleTimeout:       timeouts.GetIdleTimeout(),
		MaxHeaderBytes:    timeouts.GetMaxHeaderBytes(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("API server listening", "address", srv.Addr, "tls", s.tlsEnabled())
		if s.tlsEnabled() {
			errCh <- srv.ListenAndServeTLS(s.config.Server.TLSCertFile, s.config.Server.TLSKeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.log.Info("Shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.GetShutdownTimeout())
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.Close()
		return err
	}
}

// Close releases background resources. It does not stop a running listener.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

func (s *Server) tlsEnabled() bool {
	return s.config.Server.TLSCertFile != "" && s.config.Server.TLSKeyFile != ""
}

// SetAuditHealth makes /healthz report the audit sinks. A degraded sink
// changes the status but not the HTTP code.
func (s *Server) SetAuditHealth(fn func() []audit.SinkHealth) {
	s.auditHealth = fn
}

func (s *Server) healthz(c *gin.Context) {
	if s.auditHealth == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	sinks := s.auditHealth()
	status := "ok"
	for _, h := range sinks {
		if !h.Healthy {
			status = "degraded"
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "audit": sinks})
}

func (s *Server) version(c *gin.Context) {
	c.JSON(http.StatusOK, version.GetBuildInfo())
}

// requestLogger stores a request-scoped logger carrying the request id.
func requestLogger(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		c.Set(system.ReqLoggerKey, log.With("requestId", id, "path", c.Request.URL.Path))
		c.Next()
	}
}
