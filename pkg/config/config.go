package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Environment variables consulted by Load.
const (
	EnvConfigPath   = "SLA_CONFIG_PATH"
	EnvMailPassword = "SLA_MAIL_PASSWORD"
	EnvSMSAPIKey    = "SLA_SMS_API_KEY"
	EnvDatabaseDSN  = "SLA_DATABASE_DSN"
	EnvWebhookToken = "SLA_WEBHOOK_TOKEN"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Server struct {
	ListenAddress  string   `yaml:"listenAddress"`
	TLSCertFile    string   `yaml:"tlsCertFile"`
	TLSKeyFile     string   `yaml:"tlsKeyFile"`
	TrustedProxies []string `yaml:"trustedProxies"` // IPs/CIDRS to trust for X-Forwarded-For headers
	// EnableCORS allows any origin; intended for local development only.
	EnableCORS bool            `yaml:"enableCORS"`
	RateLimit  RateLimit       `yaml:"rateLimit"`
	Timeouts   *ServerTimeouts `yaml:"timeouts"`
	// ShutdownTimeout bounds graceful shutdown (e.g. "30s").
	ShutdownTimeout string `yaml:"shutdownTimeout"`
}

// RateLimit is a token bucket: RequestsPerSecond refill rate with Burst capacity.
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

type Storage struct {
	// Driver is one of memory, sqlite or postgres.
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite and a connection string for postgres.
	DSN string `yaml:"dsn"`
}

type Escalation struct {
	// ScanInterval controls how often open breaches are evaluated (e.g. "5m").
	ScanInterval string `yaml:"scanInterval"`
	// Concurrency bounds how many breaches are escalated in parallel per scan.
	Concurrency int `yaml:"concurrency"`
}

type CircuitBreaker struct {
	FailureThreshold int    `yaml:"failureThreshold"`
	OpenTimeout      string `yaml:"openTimeout"`
}

type Dispatch struct {
	SendTimeout string `yaml:"sendTimeout"`
	// RetryCount of 0 selects the default; a negative value disables retries.
	RetryCount     int                  `yaml:"retryCount"`
	RetryBackoff   string               `yaml:"retryBackoff"`
	MaxBackoff     string               `yaml:"maxBackoff"`
	StaleAfter     string               `yaml:"staleAfter"`
	CircuitBreaker CircuitBreaker       `yaml:"circuitBreaker"`
	RateLimits     map[string]RateLimit `yaml:"rateLimits"` // keyed by channel
}

type Mail struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
	SenderAddress      string `yaml:"senderAddress"`
	SenderName         string `yaml:"senderName"`
	// RetryCount is the number of SMTP retries inside one dispatch attempt.
	RetryCount     int `yaml:"retryCount"`
	RetryBackoffMs int `yaml:"retryBackoffMs"`
}

type SMS struct {
	Enabled    bool   `yaml:"enabled"`
	GatewayURL string `yaml:"gatewayURL"`
	APIKey     string `yaml:"apiKey"`
	Sender     string `yaml:"sender"`
	Timeout    string `yaml:"timeout"`
}

type KafkaTLS struct {
	Enabled            bool   `yaml:"enabled"`
	CAFile             string `yaml:"caFile"`
	CertFile           string `yaml:"certFile"`
	KeyFile            string `yaml:"keyFile"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
}

type KafkaSASL struct {
	Mechanism string `yaml:"mechanism"` // PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

type Kafka struct {
	Brokers     []string   `yaml:"brokers"`
	Topic       string     `yaml:"topic"`
	Compression string     `yaml:"compression"`
	TLS         *KafkaTLS  `yaml:"tls"`
	SASL        *KafkaSASL `yaml:"sasl"`
}

type AuditSink struct {
	Name    string            `yaml:"name"`
	Type    string            `yaml:"type"` // log, webhook or kafka
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout string            `yaml:"timeout"`
	Kafka   *Kafka            `yaml:"kafka"`
}

type Audit struct {
	Enabled     bool        `yaml:"enabled"`
	QueueSize   int         `yaml:"queueSize"`
	WorkerCount int         `yaml:"workerCount"`
	Sinks       []AuditSink `yaml:"sinks"`
}

type Auth struct {
	Enabled  bool   `yaml:"enabled"`
	JWKSURL  string `yaml:"jwksURL"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

type Webhook struct {
	// Token is the shared secret expected in the X-Webhook-Token header.
	Token string `yaml:"token"`
}

// Notice configures the rendered notification content.
type Notice struct {
	BrandingName string `yaml:"brandingName"`
	PortalURL    string `yaml:"portalURL"`
}

type Telemetry struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"samplingRate"`
}

type Config struct {
	Server     Server     `yaml:"server"`
	Storage    Storage    `yaml:"storage"`
	Escalation Escalation `yaml:"escalation"`
	Dispatch   Dispatch   `yaml:"dispatch"`
	Mail       Mail       `yaml:"mail"`
	SMS        SMS        `yaml:"sms"`
	Audit      Audit      `yaml:"audit"`
	Auth       Auth       `yaml:"auth"`
	Webhook    Webhook    `yaml:"webhook"`
	Notice     Notice     `yaml:"notice"`
	Telemetry  Telemetry  `yaml:"telemetry"`
}

// Load loads the service configuration from a file path.
// If configPath is empty, SLA_CONFIG_PATH is consulted before falling back
// to "./config.yaml". A .env file in the working directory is loaded first
// when present; variables already set in the environment win.
func Load(configPath ...string) (Config, error) {
	_ = godotenv.Load()

	path := "./config.yaml"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	} else if env := os.Getenv(EnvConfigPath); env != "" {
		path = env
	}

	var config Config

	content, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("trying to open config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(content, &config); err != nil {
		return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
	}

	config.ApplyEnv()
	config.Defaults()
	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

// ApplyEnv overrides secrets with their environment variables when set.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv(EnvMailPassword); ok {
		c.Mail.Password = v
	}
	if v, ok := os.LookupEnv(EnvSMSAPIKey); ok {
		c.SMS.APIKey = v
	}
	if v, ok := os.LookupEnv(EnvDatabaseDSN); ok {
		c.Storage.DSN = v
	}
	if v, ok := os.LookupEnv(EnvWebhookToken); ok {
		c.Webhook.Token = v
	}
}

// Defaults fills unset fields with their default values.
func (c *Config) Defaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":8080"
	}
	if c.Server.RateLimit.RequestsPerSecond == 0 {
		c.Server.RateLimit.RequestsPerSecond = 20
	}
	if c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = 50
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverMemory
	}
	if c.Escalation.ScanInterval == "" {
		c.Escalation.ScanInterval = "5m"
	}
	if c.Escalation.Concurrency <= 0 {
		c.Escalation.Concurrency = 8
	}
	if c.Dispatch.SendTimeout == "" {
		c.Dispatch.SendTimeout = "10s"
	}
	if c.Dispatch.RetryCount == 0 {
		c.Dispatch.RetryCount = 2
	}
	if c.Dispatch.RetryBackoff == "" {
		c.Dispatch.RetryBackoff = "200ms"
	}
	if c.Dispatch.MaxBackoff == "" {
		c.Dispatch.MaxBackoff = "5s"
	}
	if c.Dispatch.StaleAfter == "" {
		c.Dispatch.StaleAfter = "15m"
	}
	if c.Dispatch.CircuitBreaker.FailureThreshold == 0 {
		c.Dispatch.CircuitBreaker.FailureThreshold = 5
	}
	if c.Dispatch.CircuitBreaker.OpenTimeout == "" {
		c.Dispatch.CircuitBreaker.OpenTimeout = "30s"
	}
	if c.Mail.Port == 0 {
		c.Mail.Port = 587
	}
	if c.Mail.SenderAddress == "" {
		c.Mail.SenderAddress = "noreply@sla-escalation.local"
	}
	if c.Mail.SenderName == "" {
		c.Mail.SenderName = "SLA Escalation"
	}
	if c.SMS.Timeout == "" {
		c.SMS.Timeout = "5s"
	}
	if c.Audit.QueueSize == 0 {
		c.Audit.QueueSize = 10000
	}
	if c.Audit.WorkerCount == 0 {
		c.Audit.WorkerCount = 2
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = "otlp"
	}
	if c.Telemetry.SamplingRate == 0 {
		c.Telemetry.SamplingRate = 1.0
	}
}

// Validate reports every configuration problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for driver %q", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}

	durations := map[string]string{
		"escalation.scanInterval":             c.Escalation.ScanInterval,
		"dispatch.sendTimeout":                c.Dispatch.SendTimeout,
		"dispatch.retryBackoff":               c.Dispatch.RetryBackoff,
		"dispatch.maxBackoff":                 c.Dispatch.MaxBackoff,
		"dispatch.staleAfter":                 c.Dispatch.StaleAfter,
		"dispatch.circuitBreaker.openTimeout": c.Dispatch.CircuitBreaker.OpenTimeout,
		"sms.timeout":                         c.SMS.Timeout,
		"server.shutdownTimeout":              c.Server.ShutdownTimeout,
	}
	for name, value := range durations {
		if value == "" {
			continue
		}
		if d, err := time.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, value))
		}
	}
	if c.SMS.Enabled && c.SMS.GatewayURL == "" {
		errs = append(errs, errors.New("sms.gatewayURL is required when sms is enabled"))
	}
	if c.Auth.Enabled && c.Auth.JWKSURL == "" {
		errs = append(errs, errors.New("auth.jwksURL is required when auth is enabled"))
	}

	for i, s := range c.Audit.Sinks {
		switch s.Type {
		case "log":
		case "webhook":
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("audit.sinks[%d]: url is required for webhook sinks", i))
			}
		case "kafka":
			if s.Kafka == nil || len(s.Kafka.Brokers) == 0 || s.Kafka.Topic == "" {
				errs = append(errs, fmt.Errorf("audit.sinks[%d]: kafka brokers and topic are required", i))
			}
		default:
			errs = append(errs, fmt.Errorf("audit.sinks[%d]: unknown sink type %q", i, s.Type))
		}
	}

	switch c.Telemetry.Exporter {
	case "", "otlp", "stdout", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown telemetry exporter %q", c.Telemetry.Exporter))
	}

	return errors.Join(errs...)
}

// Duration parses value, falling back to def when value is empty or invalid.
// Validate has already rejected invalid values for loaded configs.
func Duration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
