// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package telemetry installs the OpenTelemetry tracer provider. Escalation
// runs and notification dispatches are recorded as spans under tracers
// obtained from Tracer.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/telekom/sla-escalation/pkg/config"
	"github.com/telekom/sla-escalation/pkg/version"
)

const (
	// DefaultServiceName is reported as service.name when Options leaves it empty.
	DefaultServiceName = "sla-escalation"

	// InstrumentationPrefix is prepended to component names passed to Tracer.
	InstrumentationPrefix = "github.com/telekom/sla-escalation/pkg/"

	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	ExporterNone   = "none"

	flushTimeout = 5 * time.Second
)

// Options selects the exporter and sampling of the tracer provider.
type Options struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// Exporter is one of ExporterOTLP (the default), ExporterStdout or ExporterNone.
	Exporter string
	// Endpoint is the OTLP gRPC collector address; only read for ExporterOTLP.
	Endpoint string
	Insecure bool
	// SamplingRate is the parent-based trace id ratio. Values outside [0,1]
	// are replaced by 1.
	SamplingRate float64
	Logger       *zap.SugaredLogger
}

// FromConfig maps the telemetry config section onto Options.
func FromConfig(cfg config.Telemetry, log *zap.SugaredLogger) Options {
	return Options{
		Enabled:        cfg.Enabled,
		ServiceName:    DefaultServiceName,
		ServiceVersion: version.Version,
		Exporter:       cfg.Exporter,
		Endpoint:       cfg.Endpoint,
		Insecure:       cfg.Insecure,
		SamplingRate:   cfg.SamplingRate,
		Logger:         log,
	}
}

// ShutdownFunc flushes buffered spans and stops the provider.
type ShutdownFunc func(ctx context.Context) error

// Tracer returns the named tracer for one service component, e.g. "dispatch".
// Components call it after Init so they bind to the configured provider.
func Tracer(component string) trace.Tracer {
	return otel.Tracer(InstrumentationPrefix + component)
}

// Init installs the global tracer provider and W3C propagators. With tracing
// disabled a noop provider is installed and the returned ShutdownFunc does nothing.
func Init(ctx context.Context, opts Options) (trace.TracerProvider, ShutdownFunc, error) {
	if !opts.Enabled {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, func(context.Context) error { return nil }, nil
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.Named("telemetry")
	if opts.ServiceName == "" {
		opts.ServiceName = DefaultServiceName
	}
	opts.SamplingRate = samplingRate(opts.SamplingRate, log)

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", opts.ServiceName),
		attribute.String("service.version", opts.ServiceVersion),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("building trace resource: %w", err)
	}

	exporter, err := newExporter(ctx, opts)
	if err != nil {
		return nil, nil, err
	}

	providerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SamplingRate))),
	}
	if exporter != nil {
		providerOpts = append(providerOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(providerOpts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Warnw("Trace export error", "error", err)
	}))

	log.Infow("Tracing enabled",
		"service", opts.ServiceName,
		"exporter", exporterName(opts.Exporter),
		"endpoint", opts.Endpoint,
		"samplingRate", opts.SamplingRate)

	return tp, func(ctx context.Context) error {
		flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
		defer cancel()
		return tp.Shutdown(flushCtx)
	}, nil
}

// newExporter returns nil for ExporterNone; spans are then sampled and
// recorded but never leave the process.
func newExporter(ctx context.Context, opts Options) (sdktrace.SpanExporter, error) {
	switch exporterName(opts.Exporter) {
	case ExporterOTLP:
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.Endpoint)}
		if opts.Insecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		return exp, nil
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("stdout trace exporter: %w", err)
		}
		return exp, nil
	case ExporterNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q (want %s, %s or %s)",
			opts.Exporter, ExporterOTLP, ExporterStdout, ExporterNone)
	}
}

func exporterName(name string) string {
	if name == "" {
		return ExporterOTLP
	}
	return name
}

func samplingRate(rate float64, log *zap.SugaredLogger) float64 {
	if rate < 0 || rate > 1 {
		log.Warnw("Sampling rate out of range, sampling every trace", "configured", rate)
		return 1
	}
	return rate
}
