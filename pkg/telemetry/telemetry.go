// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	serrors "github.com/jllopis/soundscape/pkg/errors"
)

// Resource attribute keys describing a soundscape process.
const (
	AttrProcessRole   = "soundscape.process.role"
	AttrProcessAgents = "soundscape.process.agents"
)

// Process roles.
const (
	RoleServe = "serve"
	RoleAgent = "agent"
)

// DefaultMetricInterval is how often metrics are pushed to the exporter.
const DefaultMetricInterval = time.Minute

// ShutdownFunc flushes and stops the telemetry providers.
type ShutdownFunc func(context.Context) error

// Config selects the exporter and describes the process being observed.
type Config struct {
	// Exporter is "stdout", "otlp" or "none".
	Exporter           string
	OTLPEndpoint       string
	OTLPInsecure       bool
	OTLPTimeoutSeconds int

	// Role is RoleServe for a full node or RoleAgent for a standalone
	// capability process.
	Role string
	// Agents names the agents this process hosts.
	Agents []string
	// SampleRatio is the share of cycles traced. Zero traces every cycle.
	SampleRatio float64
	// MetricInterval defaults to DefaultMetricInterval.
	MetricInterval time.Duration
}

// Init traces and meters to stdout for a full node.
func Init(serviceName, version string) (ShutdownFunc, error) {
	return InitWithConfig(serviceName, version, Config{Exporter: "stdout", Role: RoleServe})
}

// InitWithConfig installs global tracer and meter providers for the
// configured exporter and the W3C propagators the gRPC bus relies on.
func InitWithConfig(serviceName, version string, cfg Config) (ShutdownFunc, error) {
	res, err := Resource(serviceName, version, cfg)
	if err != nil {
		return nil, err
	}
	spans, metricExp, err := exporters(cfg)
	if err != nil {
		return nil, err
	}

	tpOpts := []trace.TracerProviderOption{trace.WithResource(res), trace.WithSampler(sampler(cfg.SampleRatio))}
	if spans != nil {
		tpOpts = append(tpOpts, trace.WithBatcher(spans, trace.WithBatchTimeout(time.Second)))
	}
	tp := trace.NewTracerProvider(tpOpts...)

	mpOpts := []metric.Option{metric.WithResource(res)}
	if metricExp != nil {
		interval := cfg.MetricInterval
		if interval <= 0 {
			interval = DefaultMetricInterval
		}
		mpOpts = append(mpOpts, metric.WithReader(metric.NewPeriodicReader(metricExp, metric.WithInterval(interval))))
	}
	mp := metric.NewMeterProvider(mpOpts...)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// Resource describes the process: service identity, its role and the agents
// it hosts.
func Resource(serviceName, version string, cfg Config) (*resource.Resource, error) {
	role := cfg.Role
	if role == "" {
		role = RoleServe
	}
	agents := slices.Clone(cfg.Agents)
	slices.Sort(agents)

	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
		attribute.String(AttrProcessRole, role),
	}
	if len(agents) > 0 {
		attrs = append(attrs, attribute.StringSlice(AttrProcessAgents, agents))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		return nil, serrors.New(serrors.CodeStartupFailure, "telemetry resource", err)
	}
	return res, nil
}

// exporters returns the span exporter and metric exporter for cfg. Both are
// nil for "none": spans and metrics stay in process.
func exporters(cfg Config) (trace.SpanExporter, metric.Exporter, error) {
	switch cfg.Exporter {
	case "none":
		return nil, nil, nil
	case "", "stdout":
		spans, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, nil, serrors.New(serrors.CodeStartupFailure, "stdout trace exporter", err)
		}
		metrics, err := stdoutmetric.New()
		if err != nil {
			return nil, nil, serrors.New(serrors.CodeStartupFailure, "stdout metric exporter", err)
		}
		return spans, metrics, nil
	case "otlp":
		return otlpExporters(cfg)
	default:
		return nil, nil, serrors.Newf(serrors.CodeInvalidInput, "unknown telemetry exporter %q", cfg.Exporter)
	}
}

func otlpExporters(cfg Config) (trace.SpanExporter, metric.Exporter, error) {
	if cfg.OTLPEndpoint == "" {
		return nil, nil, serrors.New(serrors.CodeInvalidInput, "otlp endpoint is required", nil)
	}
	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}
	if cfg.OTLPTimeoutSeconds > 0 {
		timeout := time.Duration(cfg.OTLPTimeoutSeconds) * time.Second
		traceOpts = append(traceOpts, otlptracegrpc.WithTimeout(timeout))
		metricOpts = append(metricOpts, otlpmetricgrpc.WithTimeout(timeout))
	}

	spans, err := otlptracegrpc.New(context.Background(), traceOpts...)
	if err != nil {
		return nil, nil, serrors.New(serrors.CodeStartupFailure, "otlp trace exporter", err).
			WithContext("endpoint", cfg.OTLPEndpoint)
	}
	metrics, err := otlpmetricgrpc.New(context.Background(), metricOpts...)
	if err != nil {
		_ = spans.Shutdown(context.Background())
		return nil, nil, serrors.New(serrors.CodeStartupFailure, "otlp metric exporter", err).
			WithContext("endpoint", cfg.OTLPEndpoint)
	}
	return spans, metrics, nil
}

// sampler keeps a remote parent's decision, so a capability process traces
// exactly the cycles the orchestrator traced.
func sampler(ratio float64) trace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return trace.ParentBased(trace.AlwaysSample())
	}
	return trace.ParentBased(trace.TraceIDRatioBased(ratio))
}
