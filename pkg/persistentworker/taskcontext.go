package persistentworker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"

	"github.com/bazel-contrib/workerkit/pkg/contextlog"
	"github.com/bazel-contrib/workerkit/pkg/iocapture"
	"github.com/bazel-contrib/workerkit/pkg/workerprotocol"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TaskResult is the outcome of one task.
type TaskResult struct {
	Status Status
	Log    contextlog.ContextLog
}

// TaskContext is the execution environment of one task: an exclusively owned
// working directory, a logging scope and the originating request.
//
// A TaskContext belongs to the goroutine running the task; Step and SubTask
// must not be called concurrently.
type TaskContext struct {
	*contextlog.Scope

	ctx     context.Context
	dir     string
	stdout  *iocapture.Sink
	request *workerprotocol.WorkRequest
	tracer  trace.Tracer
	status  *Status
}

// Context returns the task's context. It is cancelled when the worker is asked
// to stop.
func (tc *TaskContext) Context() context.Context {
	return tc.ctx
}

// Directory returns the task's working directory. It is removed when the task
// ends.
func (tc *TaskContext) Directory() string {
	return tc.dir
}

// Stdout returns the task's console. Its contents are appended to the task's
// response output even when other tasks run at the same time, unlike output
// printed to the process's stdout.
func (tc *TaskContext) Stdout() io.Writer {
	return tc.stdout
}

// RequestID returns the id of the originating request, or 0 for a task that
// did not come from a request.
func (tc *TaskContext) RequestID() int32 {
	return tc.request.RequestId
}

// Inputs returns the input files declared by the request.
func (tc *TaskContext) Inputs() []workerprotocol.Input {
	return tc.request.Inputs
}

// SandboxDir returns the directory, relative to the worker's working directory,
// that request paths are resolved against. It is empty when sandboxing is off.
func (tc *TaskContext) SandboxDir() string {
	return tc.request.SandboxDir
}

// Verbosity returns the verbosity requested by Bazel.
func (tc *TaskContext) Verbosity() int32 {
	return tc.request.Verbosity
}

// Status returns the task's current status.
func (tc *TaskContext) Status() Status {
	return *tc.status
}

// SetStatus raises the task's status to s. A status never improves.
func (tc *TaskContext) SetStatus(s Status) {
	*tc.status = worse(*tc.status, s)
}

// Step runs fn as a named phase of the task if no earlier phase failed, and
// records its status. fn's error is returned so it can end the task.
func (tc *TaskContext) Step(name string, fn func() (Status, error)) error {
	switch *tc.status {
	case Success:
	case Error:
		tc.Debug(func() string { return fmt.Sprintf("Skipping %s due to previous errors", name) })
		return nil
	default:
		tc.Error(func() string { return fmt.Sprintf("Not executing %s due to previous internal errors", name) })
		return nil
	}

	status, err := fn()
	if err != nil {
		status = worse(status, Error)
	}
	tc.SetStatus(status)
	return err
}

// SubTask runs fn in a child context that shares the working directory and
// request but logs under its own label. Its duration is recorded as a profile
// of the task, and a failing status is carried over to the task.
func (tc *TaskContext) SubTask(name string, fn func(*TaskContext) (Status, error)) (Status, error) {
	ctx, span := tc.tracer.Start(tc.ctx, name)
	defer span.End()

	status := Success
	sub := &TaskContext{
		Scope:   tc.NarrowToContext(ctx, name),
		ctx:     ctx,
		dir:     tc.dir,
		stdout:  tc.stdout,
		request: tc.request,
		tracer:  tc.tracer,
		status:  &status,
	}
	s, err := fn(sub)
	if err != nil {
		s = worse(s, Error)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	sub.SetStatus(s)
	tc.SetStatus(status)
	return status, err
}

// run executes work and converts failures into a status. Errors and panics
// from work are task failures; the cause chain is logged to the task scope.
func (tc *TaskContext) run(work func(*TaskContext) (Status, error)) (status Status) {
	defer func() {
		if r := recover(); r != nil {
			err := &PanicError{Value: r, Stack: debug.Stack()}
			tc.ErrorWithCause(err, func() string { return "ERROR: unexpected panic" })
			tc.Debug(func() string { return string(err.Stack) })
			tc.SetStatus(Error)
			status = *tc.status
		}
	}()

	s, err := work(tc)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			tc.ErrorWithCause(err, func() string { return "ERROR: Interrupted" })
		} else {
			tc.ErrorWithCause(err, func() string { return "ERROR: unexpected failure" })
		}
		s = worse(s, Error)
	}
	tc.SetStatus(s)
	return *tc.status
}

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
