// Package observability provides OpenTelemetry tracing for Quarry
package observability

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer used by every Quarry package
const InstrumentationName = "github.com/ajitpratap0/quarry"

// TracingConfig contains tracing configuration
type TracingConfig struct {
	ServiceName  string
	SamplingRate float64
	// Writer receives stdout-exported spans; nil means os.Stdout
	Writer io.Writer
	Pretty bool
}

// InitTracing installs a stdout-exporting tracer provider as the global provider.
// The returned function flushes and shuts the provider down.
func InitTracing(cfg TracingConfig) (func(context.Context) error, error) {
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}

	opts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
	if cfg.Pretty {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	rate := cfg.SamplingRate
	if rate <= 0 {
		rate = 1
	}

	name := cfg.ServiceName
	if name == "" {
		name = "quarry"
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", name))),
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// Tracer returns the Quarry tracer from the current global provider
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// Span wraps a trace span with batched attributes
type Span struct {
	span       trace.Span
	attributes []attribute.KeyValue
}

// StartSpan starts a span named "quarry.<component>.<operation>"
func StartSpan(ctx context.Context, component, operation string) (context.Context, *Span) {
	ctx, span := Tracer().Start(ctx, "quarry."+component+"."+operation)
	return ctx, &Span{span: span}
}

// SetAttribute adds an attribute to the span; attributes are flushed on End
func (s *Span) SetAttribute(key string, value interface{}) {
	var attr attribute.KeyValue

	switch v := value.(type) {
	case string:
		attr = attribute.String(key, v)
	case int:
		attr = attribute.Int(key, v)
	case int64:
		attr = attribute.Int64(key, v)
	case float64:
		attr = attribute.Float64(key, v)
	case bool:
		attr = attribute.Bool(key, v)
	case []string:
		attr = attribute.StringSlice(key, v)
	default:
		attr = attribute.String(key, fmt.Sprintf("%v", v))
	}

	s.attributes = append(s.attributes, attr)
}

// End records err (if any) as the span status and ends the span
func (s *Span) End(err error) {
	if len(s.attributes) > 0 {
		s.span.SetAttributes(s.attributes...)
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}
