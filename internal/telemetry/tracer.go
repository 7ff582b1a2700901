package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const ServiceName = "keepalive"

// Config selects the span exporter.
type Config struct {
	Exporter     string    `mapstructure:"exporter" validate:"omitempty,oneof=none stdout"`
	SamplingRate float64   `mapstructure:"sampling_rate" validate:"gte=0,lte=1"`
	PrettyPrint  bool      `mapstructure:"pretty_print"`
	Writer       io.Writer `mapstructure:"-"`
}

// Tracer wraps an OpenTelemetry tracer with sweep-specific helpers.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// New builds a tracer for cfg. Exporter "none" (or empty) yields a no-op tracer.
func New(cfg Config, version string) (*Tracer, error) {
	switch cfg.Exporter {
	case "", "none":
		return Noop(), nil
	case "stdout":
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	opts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
	if cfg.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	rate := cfg.SamplingRate
	if rate <= 0 {
		rate = 1
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("service.version", version),
	)
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
		sdktrace.WithBatcher(exporter),
	)
	return &Tracer{provider: provider, tracer: provider.Tracer(ServiceName)}, nil
}

// NewWithExporter exports every span synchronously to exp.
func NewWithExporter(exp sdktrace.SpanExporter) *Tracer {
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	return &Tracer{provider: provider, tracer: provider.Tracer(ServiceName)}
}

// Noop returns a tracer that records nothing.
func Noop() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer(ServiceName)}
}

// StartSweepSpan starts the span covering one sweep.
func (t *Tracer) StartSweepSpan(ctx context.Context, sweepID string, resources int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "sweep.run", trace.WithAttributes(
		attribute.String("sweep.id", sweepID),
		attribute.Int("sweep.resources", resources),
	))
}

// StartResourceSpan starts the span covering one resource step of a sweep.
func (t *Tracer) StartResourceSpan(ctx context.Context, sweepID, resourceID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "sweep.resource", trace.WithAttributes(
		attribute.String("sweep.id", sweepID),
		attribute.String("resource.id", resourceID),
	))
}

// Shutdown flushes pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// RecordError records an error on the span.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordSuccess marks the span as successful.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
