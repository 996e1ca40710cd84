// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package sms

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/telekom/sla-escalation/pkg/config"
	"github.com/telekom/sla-escalation/pkg/metrics"
	"github.com/telekom/sla-escalation/pkg/version"
)

// APIKeyHeader carries the gateway API key.
const APIKeyHeader = "X-API-Key"

// maxErrorBody bounds how much of a gateway error response ends up in errors.
const maxErrorBody = 256

// Message is the JSON payload posted to the gateway.
type Message struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Text string `json:"text"`
}

// Response is the optional JSON answer of the gateway.
type Response struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// Gateway posts messages to the configured gateway URL.
type Gateway struct {
	client *resty.Client
	url    string
	host   string
	sender string
	log    *zap.SugaredLogger
}

type Option func(*Gateway)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(g *Gateway) {
		if log != nil {
			g.log = log
		}
	}
}

// WithHTTPClient replaces the underlying resty client, e.g. for tests.
func WithHTTPClient(c *resty.Client) Option {
	return func(g *Gateway) { g.client = c }
}

func NewGateway(cfg config.SMS, opts ...Option) (*Gateway, error) {
	u, err := url.Parse(cfg.GatewayURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid sms gateway url %q", cfg.GatewayURL)
	}
	g := &Gateway{
		client: resty.New(),
		url:    cfg.GatewayURL,
		host:   u.Host,
		sender: cfg.Sender,
		log:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.client.
		SetTimeout(config.Duration(cfg.Timeout, 5*time.Second)).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", version.UserAgent("sla-escalation"))
	if cfg.APIKey != "" {
		g.client.SetHeader(APIKeyHeader, cfg.APIKey)
	}
	g.log = g.log.Named("sms")
	g.log.Infow("Initialized SMS gateway", "host", g.host, "sender", g.sender)
	return g, nil
}

// SendSMS posts one message. Any non-2xx answer is an error.
func (g *Gateway) SendSMS(ctx context.Context, to, body string) error {
	if to == "" {
		return errors.New("sms recipient is empty")
	}
	var result Response
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(Message{To: to, From: g.sender, Text: body}).
		SetResult(&result).
		Post(g.url)
	if err != nil {
		metrics.SMSSendFailure.WithLabelValues(g.host).Inc()
		return fmt.Errorf("sms gateway request: %w", err)
	}
	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		metrics.SMSSendFailure.WithLabelValues(g.host).Inc()
		return fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode(), truncate(resp.String(), maxErrorBody))
	}

	metrics.SMSSendSuccess.WithLabelValues(g.host).Inc()
	g.log.Debugw("SMS accepted by gateway", "to", to, "messageId", result.MessageID, "status", result.Status)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
