package transport

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/felixgeelhaar/mcp-bridge/transport"

type telemetry struct {
	tracer   trace.Tracer
	messages metric.Int64Counter
	errors   metric.Int64Counter
	dropped  metric.Int64Counter
	attrs    []attribute.KeyValue
}

func newTelemetry(cfg *bridgeConfig) *telemetry {
	meter := cfg.meterProvider.Meter(
		instrumentationName,
		metric.WithInstrumentationVersion("1.0.0"),
	)

	messages, _ := meter.Int64Counter(
		"mcp.bridge.messages",
		metric.WithDescription("Messages delivered through the bridge"),
		metric.WithUnit("{message}"),
	)
	errs, _ := meter.Int64Counter(
		"mcp.bridge.errors",
		metric.WithDescription("Handler failures during delivery"),
		metric.WithUnit("{error}"),
	)
	dropped, _ := meter.Int64Counter(
		"mcp.bridge.dropped",
		metric.WithDescription("Messages dropped because no handler was registered"),
		metric.WithUnit("{message}"),
	)

	return &telemetry{
		tracer: cfg.tracerProvider.Tracer(
			instrumentationName,
			trace.WithInstrumentationVersion("1.0.0"),
		),
		messages: messages,
		errors:   errs,
		dropped:  dropped,
		attrs:    []attribute.KeyValue{attribute.String("mcp.bridge.name", cfg.name)},
	}
}

func (t *telemetry) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(append(attrs, t.attrs...)...),
	)
}

func (t *telemetry) delivered(span trace.Span, dir Direction, err error) {
	attrs := metric.WithAttributes(append(t.attrs, attribute.String("mcp.bridge.direction", string(dir)))...)
	t.messages.Add(context.Background(), 1, attrs)
	if err != nil {
		t.errors.Add(context.Background(), 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (t *telemetry) drop(dir Direction) {
	t.dropped.Add(context.Background(), 1,
		metric.WithAttributes(append(t.attrs, attribute.String("mcp.bridge.direction", string(dir)))...))
}
