package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestTracerProviderOptions_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	opts, err := TracerProviderOptions("hash-worker",
		WithWriter(&buf),
		WithVersion("1.2.3"),
		WithInstanceId("instance-1"),
	)
	if err != nil {
		t.Fatalf("Failed to create tracer provider options: %v", err)
	}

	tp := sdktrace.NewTracerProvider(opts...)
	_, span := tp.Tracer("test").Start(context.Background(), "request 1")
	span.End()
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Failed to shut down tracer provider: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"request 1", "hash-worker", "1.2.3", "instance-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in exported spans:\n%s", want, out)
		}
	}
}

func TestTracerProviderOptions_PrettyPrintAndNamespace(t *testing.T) {
	var buf bytes.Buffer
	opts, err := TracerProviderOptions("compress-worker",
		WithWriter(&buf),
		WithPrettyPrint(true),
		WithNamespace("workerkit"),
	)
	if err != nil {
		t.Fatalf("Failed to create tracer provider options: %v", err)
	}

	tp := sdktrace.NewTracerProvider(opts...)
	_, span := tp.Tracer("test").Start(context.Background(), "request 2")
	span.End()
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Failed to shut down tracer provider: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "\n\t\"Name\": \"request 2\"") {
		t.Errorf("Expected indented span output:\n%s", out)
	}
	if !strings.Contains(out, "workerkit") {
		t.Errorf("Expected service namespace in exported spans:\n%s", out)
	}
}
