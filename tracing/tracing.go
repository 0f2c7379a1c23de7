// Package tracing wires OpenTelemetry for the search pipeline and HTTP API.
// Finished spans are exported to the application logger.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"fretscout/utils"
)

const defaultServiceName = "fretscout"

// Config holds tracing configuration.
type Config struct {
	Enabled     bool
	ServiceName string
}

// Tracer wraps the tracer and the provider that owns it.
type Tracer struct {
	tracer   trace.Tracer
	provider *tracesdk.TracerProvider
}

// Init installs a global tracer provider exporting to logger. When tracing
// is disabled a no-op tracer is returned and globals are left untouched.
func Init(cfg Config, logger *utils.Logger) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("noop")}, nil
	}
	if logger == nil {
		return nil, fmt.Errorf("tracing: logger is required when tracing is enabled")
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}

	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))
	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(NewLogExporter(logger)),
		tracesdk.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{tracer: tp.Tracer(cfg.ServiceName), provider: tp}, nil
}

// Tracer returns the underlying OpenTelemetry tracer.
func (t *Tracer) Tracer() trace.Tracer {
	return t.tracer
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Shutdown flushes pending spans and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// LogExporter is a SpanExporter that writes each finished span to a Logger.
type LogExporter struct {
	logger *utils.Logger
}

// NewLogExporter creates a LogExporter.
func NewLogExporter(logger *utils.Logger) *LogExporter {
	return &LogExporter{logger: logger}
}

func (e *LogExporter) ExportSpans(ctx context.Context, spans []tracesdk.ReadOnlySpan) error {
	for _, s := range spans {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.logger.Span(s.Name(), s.EndTime().Sub(s.StartTime()), spanAttributes(s))
	}
	return nil
}

func (e *LogExporter) Shutdown(context.Context) error { return nil }

func spanAttributes(s tracesdk.ReadOnlySpan) map[string]string {
	attrs := make(map[string]string, len(s.Attributes())+3)
	for _, kv := range s.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	attrs["trace_id"] = s.SpanContext().TraceID().String()
	if s.Parent().IsValid() {
		attrs["parent_id"] = s.Parent().SpanID().String()
	}
	if st := s.Status(); st.Code == codes.Error {
		attrs["status"] = "error"
		if st.Description != "" {
			attrs["error"] = st.Description
		}
	}
	return attrs
}
