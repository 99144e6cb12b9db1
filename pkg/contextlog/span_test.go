package contextlog

import (
	"context"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestScope_RecordsBecomeSpanEvents(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "compile")
	root := New("worker", Info)
	task := root.NarrowToContext(ctx, "compile")
	if task.Context() != ctx {
		t.Errorf("Expected the scope to keep its context")
	}

	task.Info(func() string { return "compiling sources" })
	task.NarrowTo("javac").Info(func() string { return "forked" })
	task.Debug(func() string { return "not recorded" })
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 ended span, got %d", len(spans))
	}
	if n := len(spans[0].Events()); n != 2 {
		t.Errorf("Expected 2 log events on the span, got %d", n)
	}

	out := root.Contents().Out
	if !strings.Contains(out, "INFO: compiling sources\n") || !strings.Contains(out, "INFO: forked\n") {
		t.Errorf("Expected records in the text log:\n%s", out)
	}
	if strings.Contains(out, "trace_id") || strings.Contains(out, "span_id") {
		t.Errorf("Expected no trace correlation attributes in the text log:\n%s", out)
	}
}

func TestScope_WithoutSpanLogsAsBefore(t *testing.T) {
	s := New("worker", Info)
	s.Slog().InfoContext(s.Context(), "plain", "k", "v")
	if out := s.Contents().Out; !strings.HasSuffix(out, "INFO: plain k=v\n") {
		t.Errorf("Unexpected record %q", out)
	}
}
