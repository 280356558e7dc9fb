// Package observability wires OpenTelemetry tracing for the engine.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DefaultServiceName is the service name reported on spans.
const DefaultServiceName = "codevault"

// Config holds tracing configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	// ExporterType is "otlp", "stdout" or "none".
	ExporterType string
	// Endpoint is the OTLP/HTTP collector host:port.
	Endpoint string
	Insecure bool
	// SampleRatio is the parent-based trace id ratio (1 = sample everything).
	SampleRatio float64
	// Writer receives stdout exporter output (default os.Stdout).
	Writer io.Writer
}

// Provider owns the tracer provider and hands out tracers.
type Provider struct {
	tp       trace.TracerProvider
	shutdown func(context.Context) error
}

// Init builds a tracer provider and installs it as the global provider.
// "none" returns a no-op provider and installs nothing.
func Init(ctx context.Context, cfg Config, logger zerolog.Logger) (*Provider, error) {
	logger = logger.With().Str("component", "observability").Logger()
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}

	if cfg.ExporterType == "" || cfg.ExporterType == "none" {
		logger.Debug().Msg("tracing disabled")
		return &Provider{tp: noop.NewTracerProvider(), shutdown: func(context.Context) error { return nil }}, nil
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.ExporterType {
	case "otlp":
		opts := []otlptracehttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	case "stdout":
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(w))
	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s exporter: %w", cfg.ExporterType, err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)

	logger.Info().Str("exporter", cfg.ExporterType).Str("endpoint", cfg.Endpoint).Msg("tracing initialized")
	return &Provider{tp: tp, shutdown: tp.Shutdown}, nil
}

// NewProvider wraps an existing tracer provider, typically an in-memory one in tests.
func NewProvider(tp trace.TracerProvider) *Provider {
	return &Provider{tp: tp, shutdown: func(context.Context) error { return nil }}
}

// Tracer returns a named tracer.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// Shutdown flushes pending spans. A context without deadline gets five seconds.
func (p *Provider) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return p.shutdown(ctx)
}

// EndSpan records err on the span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ProjectAttr tags a span with a project id.
func ProjectAttr(id string) attribute.KeyValue {
	return attribute.String("codevault.project_id", id)
}

// SessionAttr tags a span with a session id.
func SessionAttr(id string) attribute.KeyValue {
	return attribute.String("codevault.session_id", id)
}
