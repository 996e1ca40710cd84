package ratelimit

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/telekom/sla-escalation/pkg/apiresponses"
	"github.com/telekom/sla-escalation/pkg/config"
	"github.com/telekom/sla-escalation/pkg/metrics"
)

const (
	defaultRate     = 20
	defaultBurst    = 50
	defaultSweep    = time.Minute
	defaultIdleTTL  = 5 * time.Minute
	unmatchedRoute  = "unmatched"
	rejectedMessage = "rate limit exceeded, retry later"
)

// Config sizes the per-client token buckets.
type Config struct {
	Rate  float64
	Burst int
	// CleanupInterval is how often idle buckets are swept.
	CleanupInterval time.Duration
	// MaxAge is how long a bucket survives without requests.
	MaxAge time.Duration
}

// DefaultAPIConfig allows 20 requests per second with bursts of 50 per client.
func DefaultAPIConfig() Config {
	return Config{
		Rate:            defaultRate,
		Burst:           defaultBurst,
		CleanupInterval: defaultSweep,
		MaxAge:          defaultIdleTTL,
	}
}

// FromServerConfig applies the server.rateLimit section over DefaultAPIConfig.
func FromServerConfig(rl config.RateLimit) Config {
	cfg := DefaultAPIConfig()
	if rl.RequestsPerSecond > 0 {
		cfg.Rate = rl.RequestsPerSecond
	}
	if rl.Burst > 0 {
		cfg.Burst = rl.Burst
	}
	return cfg
}

// KeyFunc selects the bucket a request is charged to.
type KeyFunc func(c *gin.Context) string

// ClientIP charges requests to gin's resolved client address.
func ClientIP(c *gin.Context) string {
	return c.ClientIP()
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per key and sweeps idle buckets in the
// background until Stop is called.
type Limiter struct {
	cfg  Config
	key  KeyFunc
	now  func() time.Time
	mu   sync.Mutex
	seen map[string]*bucket

	stop     chan struct{}
	stopOnce sync.Once
}

// New starts a Limiter keyed by ClientIP.
func New(cfg Config) *Limiter {
	return NewKeyed(cfg, ClientIP)
}

// NewKeyed starts a Limiter charging requests to key(c).
func NewKeyed(cfg Config, key KeyFunc) *Limiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultSweep
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultIdleTTL
	}
	l := &Limiter{
		cfg:  cfg,
		key:  key,
		now:  time.Now,
		seen: make(map[string]*bucket),
		stop: make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Allow takes one token from key's bucket.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.seen[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(l.cfg.Rate), l.cfg.Burst)}
		l.seen[key] = b
	}
	b.lastSeen = l.now()
	return b.limiter.Allow()
}

// Middleware rejects over-limit requests with 429 and counts them per route.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.Allow(l.key(c)) {
			c.Next()
			return
		}
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		metrics.APIRateLimited.WithLabelValues(route).Inc()
		apiresponses.RespondTooManyRequests(c, rejectedMessage)
		c.Abort()
	}
}

// Stop ends the sweeper. Later calls are no-ops.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Len is the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

func (l *Limiter) Config() Config {
	return l.cfg
}

func (l *Limiter) sweepLoop() {
	t := time.NewTicker(l.cfg.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-t.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	cutoff := l.now().Add(-l.cfg.MaxAge)
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, b := range l.seen {
		if b.lastSeen.Before(cutoff) {
			delete(l.seen, k)
		}
	}
}
