package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpanRecordsAttributesAndStatus(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, ok := StartSpan(context.Background(), "bulk", "run")
	ok.SetAttribute("rows", int64(3))
	ok.SetAttribute("destination", "events")
	ok.End(nil)

	_, failed := StartSpan(context.Background(), "query", "iterate")
	failed.End(errors.New("boom"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "quarry.bulk.run", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Len(t, spans[0].Attributes(), 2)

	assert.Equal(t, "quarry.query.iterate", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "boom", spans[1].Status().Description)
}

func TestInitTracingWritesToStdoutExporter(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := InitTracing(TracingConfig{ServiceName: "test", Writer: &buf})
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "session", "open")
	span.End(nil)

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "quarry.session.open")
}
