package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/telekom/sla-escalation/pkg/apiresponses"
	"github.com/telekom/sla-escalation/pkg/version"
)

const defaultTimeout = 30 * time.Second

// Client talks to the SLA escalation API.
type Client struct {
	baseURL   *url.URL
	token     string
	timeout   time.Duration
	tlsConfig *tls.Config
	userAgent string
	http      *resty.Client
}

type Option func(*Client) error

func New(opts ...Option) (*Client, error) {
	c := &Client{
		timeout:   defaultTimeout,
		userAgent: version.UserAgent("slactl"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.baseURL == nil {
		return nil, errors.New("server is required")
	}

	c.http = resty.New().
		SetBaseURL(strings.TrimRight(c.baseURL.String(), "/")).
		SetTimeout(c.timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", c.userAgent)
	if c.token != "" {
		c.http.SetAuthToken(c.token)
	}
	if c.tlsConfig != nil {
		c.http.SetTLSClientConfig(c.tlsConfig)
	}
	return c, nil
}

func WithServer(server string) Option {
	return func(c *Client) error {
		if server == "" {
			return errors.New("server is required")
		}
		parsed, err := url.Parse(server)
		if err != nil {
			return fmt.Errorf("invalid server: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("invalid server %q: scheme and host are required", server)
		}
		c.baseURL = parsed
		return nil
	}
}

func WithToken(token string) Option {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

func WithUserAgent(userAgent string) Option {
	return func(c *Client) error {
		if userAgent != "" {
			c.userAgent = userAgent
		}
		return nil
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) error {
		if timeout > 0 {
			c.timeout = timeout
		}
		return nil
	}
}

func WithTLSConfig(caFile string, insecureSkipTLSVerify bool) Option {
	return func(c *Client) error {
		tlsConfig, err := loadTLSConfig(caFile, insecureSkipTLSVerify)
		if err != nil {
			return err
		}
		c.tlsConfig = tlsConfig
		return nil
	}
}

func loadTLSConfig(caFile string, insecure bool) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: insecure} //nolint:gosec // opt-in via flag
	if caFile == "" {
		return tlsConfig, nil
	}
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(data); !ok {
		return nil, errors.New("failed to parse CA file")
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

// do sends one request below /api and decodes a JSON answer into out.
func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body any, out any) error {
	req := c.http.R().SetContext(ctx)
	if query != nil {
		req.SetQueryParamsFromValues(query)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, "/api/"+strings.TrimLeft(endpoint, "/"))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *resty.Response) error {
	var apiErr apiresponses.APIError
	body := resp.Body()
	if len(body) > 0 {
		_ = json.Unmarshal(body, &apiErr)
	}
	msg := strings.TrimSpace(apiErr.Error)
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = resp.Status()
	}
	return &HTTPError{StatusCode: resp.StatusCode(), Code: apiErr.Code, Message: msg}
}

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
}

// ServerVersion returns the build information reported by the server.
func (c *Client) ServerVersion(ctx context.Context) (*version.BuildInfo, error) {
	var info version.BuildInfo
	if err := c.do(ctx, http.MethodGet, "version", nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
