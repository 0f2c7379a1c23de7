package tracing

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"fretscout/utils"
)

func TestInitDisabled(t *testing.T) {
	tr, err := Init(Config{}, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	_, span := tr.StartSpan(context.Background(), "noop")
	if span.IsRecording() {
		t.Error("disabled tracer should not record")
	}
	span.End()

	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestInitEnabledRequiresLogger(t *testing.T) {
	if _, err := Init(Config{Enabled: true}, nil); err == nil {
		t.Error("expected error without a logger")
	}
}

func TestInitEnabledExportsOnShutdown(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	var buf bytes.Buffer
	tr, err := Init(Config{Enabled: true, ServiceName: "fretscout-test"}, utils.NewLoggerWithLevel(&buf, "debug"))
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	ctx, parent := tr.StartSpan(context.Background(), "pipeline.search")
	_, child := tr.Tracer().Start(ctx, "pipeline.score")
	child.End()
	parent.End()

	if err := tr.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"pipeline.search", "pipeline.score", "parent_id"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestLogExporterWritesAttributesAndStatus(t *testing.T) {
	var buf bytes.Buffer
	tp := tracesdk.NewTracerProvider(tracesdk.WithSyncer(NewLogExporter(utils.NewLoggerWithLevel(&buf, "debug"))))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "pipeline.alerts")
	span.SetAttributes(attribute.Int("events", 3))
	span.RecordError(errors.New("disk full"))
	span.SetStatus(codes.Error, "alert matching failed")
	span.End()

	out := buf.String()
	for _, want := range []string{"pipeline.alerts", "events", "alert matching failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestLogExporterHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	spans := make([]tracesdk.ReadOnlySpan, 1)
	if err := NewLogExporter(utils.NewNopLogger()).ExportSpans(ctx, spans); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
