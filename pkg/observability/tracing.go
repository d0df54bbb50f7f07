// Package observability provides OpenTelemetry tracing for tool
// invocations. The client opens one span per invocation attempt when a
// TracingProvider is configured.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// ExporterType defines the type of trace exporter.
type ExporterType string

const (
	// ExporterTypeOTLPGRPC exports traces via OTLP over gRPC
	ExporterTypeOTLPGRPC ExporterType = "otlp-grpc"
	// ExporterTypeOTLPHTTP exports traces via OTLP over HTTP
	ExporterTypeOTLPHTTP ExporterType = "otlp-http"
	// ExporterTypeNoop disables trace export (for testing)
	ExporterTypeNoop ExporterType = "noop"
)

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	ExporterType ExporterType
	Endpoint     string
	Insecure     bool

	// SampleRate in [0,1]; 0 defaults to always-on.
	SampleRate float64

	// AlwaysSample and NeverSample force the sampling decision for the
	// named tools regardless of SampleRate.
	AlwaysSample []string
	NeverSample  []string
}

// TracingProvider manages the tracer used for invocation spans.
type TracingProvider struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

// NewTracingProvider creates a tracing provider and installs it as the
// global OTel tracer provider.
func NewTracingProvider(cfg TracingConfig) (*TracingProvider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "toolmesh"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := newToolListSampler(cfg, sdktrace.TraceIDRatioBased(cfg.SampleRate))
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	}

	if cfg.ExporterType != ExporterTypeNoop {
		exporter, err := createExporter(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	return &TracingProvider{
		tracer:   tp.Tracer("toolmesh"),
		shutdown: tp.Shutdown,
	}, nil
}

func createExporter(cfg TracingConfig) (*otlptrace.Exporter, error) {
	ctx := context.Background()
	switch cfg.ExporterType {
	case ExporterTypeOTLPHTTP:
		opts := []otlptracehttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	case ExporterTypeOTLPGRPC, "":
		opts := []otlptracegrpc.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}
}

// toolListSampler forces sampling decisions for named tools, delegating
// every other span to the base sampler.
type toolListSampler struct {
	always map[string]struct{}
	never  map[string]struct{}
	base   sdktrace.Sampler
}

func newToolListSampler(cfg TracingConfig, base sdktrace.Sampler) sdktrace.Sampler {
	if len(cfg.AlwaysSample) == 0 && len(cfg.NeverSample) == 0 {
		return base
	}
	s := toolListSampler{
		always: make(map[string]struct{}, len(cfg.AlwaysSample)),
		never:  make(map[string]struct{}, len(cfg.NeverSample)),
		base:   base,
	}
	for _, name := range cfg.AlwaysSample {
		s.always[name] = struct{}{}
	}
	for _, name := range cfg.NeverSample {
		s.never[name] = struct{}{}
	}
	return s
}

func (s toolListSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	name := p.Name
	for _, kv := range p.Attributes {
		if kv.Key == "tool.name" {
			name = kv.Value.AsString()
		}
	}
	if _, ok := s.never[name]; ok {
		return sdktrace.NeverSample().ShouldSample(p)
	}
	if _, ok := s.always[name]; ok {
		return sdktrace.AlwaysSample().ShouldSample(p)
	}
	return s.base.ShouldSample(p)
}

func (s toolListSampler) Description() string {
	return "ToolListSampler"
}

// StartInvocation opens a span for one tool invocation attempt.
func (t *TracingProvider) StartInvocation(ctx context.Context, server, tool string, attempt int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "tool.invoke",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("tool.server", server),
			attribute.String("tool.name", tool),
			attribute.Int("tool.attempt", attempt),
		),
	)
}

// EndInvocation closes an invocation span, recording the error if any.
func EndInvocation(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Shutdown flushes and stops the tracer provider.
func (t *TracingProvider) Shutdown(ctx context.Context) error {
	if t.shutdown != nil {
		return t.shutdown(ctx)
	}
	return nil
}
