package monitoring

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/mcpanvil/core/internal/protocol"
)

// tracerName identifies this package's spans in the trace, matching the
// instrumentation-scope convention OpenTelemetry's Go SDK expects.
const tracerName = "github.com/mcpanvil/core/internal/monitoring"

// NewStdoutTracerProvider builds a TracerProvider that writes completed
// spans to stdout, for the demo binary (SPEC_FULL §2.1: "stdout exporters
// for the demo binary"). Callers must call the returned shutdown func on
// exit to flush pending spans.
func NewStdoutTracerProvider(serviceName string) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, err
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return tp, tp.Shutdown, nil
}

// Tracer implements handler.Tracer over an OpenTelemetry TracerProvider,
// starting one span per JSON-RPC request.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer builds a Tracer from provider. A nil provider falls back to
// otel.GetTracerProvider(), matching otel's own no-op-by-default posture.
func NewTracer(provider trace.TracerProvider) *Tracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &Tracer{tracer: provider.Tracer(tracerName)}
}

// StartSpan implements handler.Tracer: it opens a span named after the
// JSON-RPC method and returns a closure that records the outcome and ends
// the span, covering the full middleware-pipeline-plus-dispatch duration
// (SPEC_FULL §2.1: "per-request tracing spans around middleware stages
// and backend invocation").
func (t *Tracer) StartSpan(ctx context.Context, method string) (context.Context, func(*protocol.Error)) {
	spanCtx, span := t.tracer.Start(ctx, method, trace.WithAttributes(
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", method),
	))
	start := time.Now()
	return spanCtx, func(outcomeErr *protocol.Error) {
		span.SetAttributes(attribute.Int64("rpc.duration_ms", time.Since(start).Milliseconds()))
		if outcomeErr != nil {
			span.SetStatus(codes.Error, outcomeErr.Message)
			span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", outcomeErr.Code))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}
