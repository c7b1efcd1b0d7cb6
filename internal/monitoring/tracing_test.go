package monitoring_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/mcpanvil/core/internal/handler"
	"github.com/mcpanvil/core/internal/monitoring"
	"github.com/mcpanvil/core/internal/protocol"
)

func TestTracerImplementsHandlerTracer(t *testing.T) {
	var _ handler.Tracer = (*monitoring.Tracer)(nil)
}

func TestStartSpanRecordsSuccessOutcome(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	tr := monitoring.NewTracer(tp)

	_, end := tr.StartSpan(context.Background(), "tools/call")
	end(nil)
	require.NoError(t, tp.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "tools/call", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
}

func TestStartSpanRecordsErrorOutcome(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	tr := monitoring.NewTracer(tp)

	_, end := tr.StartSpan(context.Background(), "tools/call")
	end(protocol.InvalidParams("bad params"))
	require.NoError(t, tp.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
}
