package persistentworker

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/bazel-contrib/workerkit/pkg/contextlog"
	"github.com/bazel-contrib/workerkit/pkg/iocapture"
	"github.com/bazel-contrib/workerkit/pkg/workdir"
	"github.com/bazel-contrib/workerkit/pkg/workerprotocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/bazel-contrib/workerkit/pkg/persistentworker"

// WorkerContext is the worker-level logging scope. Tasks started from it get
// their own working directory and a narrowed scope.
type WorkerContext struct {
	*contextlog.Scope

	tempDir  string
	tracer   trace.Tracer
	profiler *profiler
}

func newWorkerContext(name string, g contextlog.Granularity, tempDir string, tp *sdktrace.TracerProvider, prof *profiler) *WorkerContext {
	return &WorkerContext{
		Scope:    contextlog.New(name, g),
		tempDir:  tempDir,
		tracer:   tp.Tracer(tracerName),
		profiler: prof,
	}
}

// RunWorkerContext creates a WorkerContext named name, calls fn with it, and
// reports the worker-level log once fn returns.
func RunWorkerContext[T any](name string, g contextlog.Granularity, report func(contextlog.ContextLog), fn func(*WorkerContext) T) T {
	prof := newProfiler()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(prof))
	defer tp.Shutdown(context.Background())

	wc := newWorkerContext(name, g, "", tp, prof)
	result := fn(wc)
	wc.Info(func() string { return "ending worker context" })
	if report != nil {
		report(wc.Contents())
	}
	return result
}

// DoTask runs work as a task named name in a fresh working directory.
func (wc *WorkerContext) DoTask(name string, work func(*TaskContext) (Status, error)) TaskResult {
	return wc.doTask(context.Background(), name, &workerprotocol.WorkRequest{}, iocapture.NewSink(), work)
}

func (wc *WorkerContext) doTask(
	ctx context.Context,
	name string,
	req *workerprotocol.WorkRequest,
	stdout *iocapture.Sink,
	work func(*TaskContext) (Status, error),
) TaskResult {
	wc.Info(func() string { return "start task " + name })

	ctx, span := wc.tracer.Start(ctx, name,
		trace.WithNewRoot(),
		trace.WithAttributes(attribute.Int("worker.request_id", int(req.RequestId))),
	)
	scope := wc.NarrowToContext(ctx, name)
	traceID := span.SpanContext().TraceID()
	wc.profiler.register(traceID, scope)
	defer wc.profiler.unregister(traceID)

	status := wc.runTask(ctx, scope, req, stdout, work)
	if status != Success {
		span.SetStatus(codes.Error, status.String())
	}
	span.End()

	wc.Info(func() string { return fmt.Sprintf("end task %s: %s", name, status) })
	return TaskResult{Status: status, Log: scope.Contents()}
}

// runTask owns the working directory of one task. Failures outside work are
// internal errors.
func (wc *WorkerContext) runTask(
	ctx context.Context,
	scope *contextlog.Scope,
	req *workerprotocol.WorkRequest,
	stdout *iocapture.Sink,
	work func(*TaskContext) (Status, error),
) (status Status) {
	defer func() {
		if r := recover(); r != nil {
			err := &PanicError{Value: r, Stack: debug.Stack()}
			scope.ErrorWithCause(err, func() string { return "INTERNAL ERROR: worker failed while running task" })
			status = InternalError
		}
	}()

	dir, err := workdir.Create(ctx, wc.tempDir, scope.Slog())
	if err != nil {
		scope.ErrorWithCause(err, func() string { return "INTERNAL ERROR: cannot prepare working directory" })
		return InternalError
	}
	defer dir.Close()

	status = Success
	tc := &TaskContext{
		Scope:   scope,
		ctx:     ctx,
		dir:     dir.Path(),
		stdout:  stdout,
		request: req,
		tracer:  wc.tracer,
		status:  &status,
	}
	return tc.run(work)
}
