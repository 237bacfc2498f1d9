package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc/credentials/insecure"
)

// Span attribute keys of a reconcile cycle.
var (
	AttrResourceID     = attribute.Key("netconverge.resource.id")
	AttrResourceFamily = attribute.Key("netconverge.resource.family")
	AttrState          = attribute.Key("netconverge.state")
	AttrPhase          = attribute.Key("netconverge.phase")
	AttrCommands       = attribute.Key("netconverge.commands")
)

// Tracer produces the spans of reconcile cycles: one "reconcile" root per
// call with "reconcile.read" and "reconcile.apply" children.
type Tracer struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

// NewTracer creates a tracer. A disabled tracer hands out no-op spans.
func NewTracer(cfg TracingConfig, serviceName, serviceVersion, environment string) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{
			tracer:   noop.NewTracerProvider().Tracer(serviceName),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
			attribute.String("environment", environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}

	exporter, err := newSpanExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	if exporter != nil {
		// spans of a one-shot run are flushed by Shutdown
		opts = append(opts, sdktrace.WithBatcher(exporter, sdktrace.WithExportTimeout(cfg.ExportTimeout)))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{
		tracer:   provider.Tracer(serviceName),
		shutdown: provider.Shutdown,
	}, nil
}

// newSpanExporter returns nil for the "none" exporter: spans are sampled
// and carry trace ids but go nowhere.
func newSpanExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "none":
		return nil, nil
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		return otlptracegrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
}

// StartReconcileSpan starts the root span of a reconcile cycle.
func (t *Tracer) StartReconcileSpan(ctx context.Context, family, resourceID, state string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "reconcile", trace.WithAttributes(
		AttrResourceFamily.String(family),
		AttrResourceID.String(resourceID),
		AttrState.String(state),
	))
}

// StartReadSpan starts the span of a device read.
func (t *Tracer) StartReadSpan(ctx context.Context, resourceID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "reconcile.read", trace.WithAttributes(AttrResourceID.String(resourceID)))
}

// StartApplySpan starts the span of one command sequence handed to the
// device.
func (t *Tracer) StartApplySpan(ctx context.Context, resourceID, phase string, commands int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "reconcile.apply", trace.WithAttributes(
		AttrResourceID.String(resourceID),
		AttrPhase.String(phase),
		AttrCommands.Int(commands),
	))
}

// EndSpan sets the span status from err and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// TraceID returns the id of the sampled trace in ctx, or "" when the cycle
// is not being traced.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsSampled() {
		return ""
	}
	return sc.TraceID().String()
}

// Shutdown flushes pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.shutdown(ctx)
}
