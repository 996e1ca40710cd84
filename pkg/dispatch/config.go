// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"time"

	"github.com/telekom/sla-escalation/pkg/breaker"
	"github.com/telekom/sla-escalation/pkg/config"
	"github.com/telekom/sla-escalation/pkg/notification"
)

// RateLimit bounds the send rate of one channel.
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

// Config tunes the resilience behaviour of a Dispatcher.
type Config struct {
	// SendTimeout bounds a single provider call.
	SendTimeout time.Duration
	// Retries is the number of additional attempts after the first one.
	Retries      int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
	// StaleAfter is the age after which a pending record left behind by an
	// interrupted dispatch is sent again. Zero never re-sends.
	StaleAfter time.Duration
	Breaker    breaker.Config
	RateLimits map[notification.Channel]RateLimit
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		SendTimeout:  10 * time.Second,
		Retries:      2,
		RetryBackoff: 200 * time.Millisecond,
		MaxBackoff:   5 * time.Second,
		StaleAfter:   15 * time.Minute,
		Breaker:      breaker.DefaultConfig(),
	}
}

// FromConfig converts the dispatch section of the service configuration.
func FromConfig(c config.Dispatch) Config {
	def := DefaultConfig()
	cfg := Config{
		SendTimeout:  config.Duration(c.SendTimeout, def.SendTimeout),
		Retries:      c.RetryCount,
		RetryBackoff: config.Duration(c.RetryBackoff, def.RetryBackoff),
		MaxBackoff:   config.Duration(c.MaxBackoff, def.MaxBackoff),
		StaleAfter:   config.Duration(c.StaleAfter, def.StaleAfter),
		Breaker:      def.Breaker,
	}
	switch {
	case c.RetryCount == 0:
		cfg.Retries = def.Retries
	case c.RetryCount < 0:
		cfg.Retries = 0
	}
	if c.CircuitBreaker.FailureThreshold > 0 {
		cfg.Breaker.FailureThreshold = c.CircuitBreaker.FailureThreshold
	}
	cfg.Breaker.OpenTimeout = config.Duration(c.CircuitBreaker.OpenTimeout, def.Breaker.OpenTimeout)

	if len(c.RateLimits) > 0 {
		cfg.RateLimits = make(map[notification.Channel]RateLimit, len(c.RateLimits))
		for ch, rl := range c.RateLimits {
			cfg.RateLimits[notification.Channel(ch)] = RateLimit{RequestsPerSecond: rl.RequestsPerSecond, Burst: rl.Burst}
		}
	}
	return cfg
}
