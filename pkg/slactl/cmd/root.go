package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Environment variables consulted when the matching flag is not set.
const (
	EnvServer   = "SLACTL_SERVER"
	EnvToken    = "SLACTL_TOKEN"
	EnvOutput   = "SLACTL_OUTPUT"
	EnvCAFile   = "SLACTL_CA_FILE"
	EnvInsecure = "SLACTL_INSECURE_SKIP_TLS_VERIFY"
	EnvTimeout  = "SLACTL_TIMEOUT"
)

type Config struct {
	OutputWriter io.Writer
}

type runtimeState struct {
	server       string
	token        string
	outputFormat string
	caFile       string
	insecure     bool
	timeout      time.Duration
	writer       io.Writer
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{OutputWriter: os.Stdout}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{writer: cfg.OutputWriter}

	root := &cobra.Command{
		Use:           "slactl",
		Short:         "SLA escalation CLI",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.server == "" {
				rt.server = os.Getenv(EnvServer)
			}
			if rt.token == "" {
				rt.token = os.Getenv(EnvToken)
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv(EnvOutput)
			}
			if rt.caFile == "" {
				rt.caFile = os.Getenv(EnvCAFile)
			}
			if !rt.insecure {
				rt.insecure = strings.EqualFold(os.Getenv(EnvInsecure), "true")
			}
			if rt.timeout == 0 {
				if raw := os.Getenv(EnvTimeout); raw != "" {
					d, err := time.ParseDuration(raw)
					if err != nil {
						return errors.New(EnvTimeout + " must be a duration such as 30s")
					}
					rt.timeout = d
				}
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&rt.server, "server", "", "API server URL (env "+EnvServer+")")
	root.PersistentFlags().StringVar(&rt.token, "token", "", "Bearer token (env "+EnvToken+")")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, wide, json, yaml (env "+EnvOutput+")")
	root.PersistentFlags().StringVar(&rt.caFile, "ca-file", "", "CA bundle used to verify the server certificate")
	root.PersistentFlags().BoolVar(&rt.insecure, "insecure-skip-tls-verify", false, "Skip TLS certificate verification")
	root.PersistentFlags().DurationVar(&rt.timeout, "timeout", 0, "Request timeout (default 30s)")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewNotificationCommand(),
		NewBreachCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) OutputFormat() string {
	if rt.outputFormat != "" {
		return rt.outputFormat
	}
	return "table"
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}
