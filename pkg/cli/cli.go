package cli

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/sla-escalation/pkg/scanner"
)

type Config struct {
	// Application flags
	Debug bool

	// Metrics server flags; empty serves metrics on the API listener only
	MetricsAddr string

	// Configuration flags
	ConfigPath string

	// Component switches
	DisableScanner bool
	DisableEmail   bool
	DisableSMS     bool
	// RunOnce performs a single scan and exits without serving the API.
	RunOnce bool

	// Interval flags; empty keeps the value from the config file
	ScanInterval string
}

// Parse parses the process arguments.
func Parse() *Config {
	config, err := ParseArgs(os.Args[1:])
	if err != nil {
		// flag.ExitOnError already reported the problem
		os.Exit(2)
	}
	return config
}

// ParseArgs parses args into a Config. Every flag falls back to an
// environment variable before its built-in default.
func ParseArgs(args []string) (*Config, error) {
	config := &Config{}
	fs := flag.NewFlagSet("escalator", flag.ContinueOnError)

	fs.BoolVar(&config.Debug, "debug", getEnvBool("SLA_DEBUG", false), "Enable debug level logging")

	fs.StringVar(&config.MetricsAddr, "metrics-bind-address", getEnvString("METRICS_BIND_ADDRESS", ""),
		"The address a dedicated metrics endpoint binds to (e.g. :8081). "+
			"If empty, metrics are only served on the API listener at /metrics")

	fs.StringVar(&config.ConfigPath, "config-path", getEnvString("SLA_CONFIG_PATH", "./config.yaml"),
		"Path to the service configuration file")

	fs.BoolVar(&config.DisableScanner, "disable-scanner", getEnvBool("SLA_DISABLE_SCANNER", false),
		"Disable the periodic escalation scan; breaches are then only escalated through the API")
	fs.BoolVar(&config.DisableEmail, "disable-email", getEnvBool("SLA_DISABLE_EMAIL", false),
		"Disable the SMTP provider; email notifications are recorded as failed")
	fs.BoolVar(&config.DisableSMS, "disable-sms", getEnvBool("SLA_DISABLE_SMS", false),
		"Disable the SMS gateway even when it is configured")
	fs.BoolVar(&config.RunOnce, "run-once", getEnvBool("SLA_RUN_ONCE", false),
		"Evaluate all open breaches once and exit (e.g. from a cron job)")

	fs.StringVar(&config.ScanInterval, "scan-interval", getEnvString("SLA_SCAN_INTERVAL", ""),
		"Override escalation.scanInterval from the config file (e.g. '5m', '1h')")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return config, nil
}

func (c *Config) Print(log *zap.SugaredLogger) {
	log.Infow("CLI Configuration",
		"debug", c.Debug,
		"metrics_bind_address", c.MetricsAddr,
		"config_path", c.ConfigPath,
		"disable_scanner", c.DisableScanner,
		"disable_email", c.DisableEmail,
		"disable_sms", c.DisableSMS,
		"run_once", c.RunOnce,
		"scan_interval", c.ScanInterval,
	)
}

// ParseScanInterval resolves the scan interval: the flag wins over the
// config value, and invalid values fall back to the scanner default.
func ParseScanInterval(flagValue, configValue string, log *zap.SugaredLogger) time.Duration {
	value := configValue
	if flagValue != "" {
		value = flagValue
	}
	interval, err := parseDuration("scan-interval", value, scanner.DefaultInterval)
	if err != nil {
		log.Warn(err)
	}
	return interval
}

func parseDuration(name, value string, def time.Duration) (time.Duration, error) {
	duration := def
	if value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			duration = d
		} else {
			if err == nil {
				err = fmt.Errorf("must be positive")
			}
			return duration, fmt.Errorf("invalid %s %q; using default %s: %w", name, value, def.String(), err)
		}
	}

	return duration, nil
}

// getEnvString returns the value of an environment variable, or the provided default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool returns the value of an environment variable as a bool, or the provided default if not set.
// Valid true values are "true", "1", "yes" (case-insensitive).
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}
