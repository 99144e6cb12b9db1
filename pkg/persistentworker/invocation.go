package persistentworker

import (
	"context"
	"fmt"
	"os"

	"github.com/bazel-contrib/workerkit/pkg/contextlog"
	"github.com/bazel-contrib/workerkit/pkg/iocapture"
	"github.com/bazel-contrib/workerkit/pkg/workerprotocol"
)

// RunOnce runs work a single time outside the worker protocol, the way Bazel
// invokes a tool when persistent workers are disabled. The task log and
// console output are written to the log writer (stderr by default) and the
// task's exit code is returned.
//
// Options concerning the protocol (input, output, protocol, max workers) are
// ignored.
func RunOnce(ctx context.Context, work Work, args []string, opts ...Option) int {
	w := NewWorker(work, opts...)
	logWriter := w.logWriter
	if logWriter == nil {
		logWriter = os.Stderr
	}

	wc, shutdown := w.workerContext()
	defer shutdown()
	req := &workerprotocol.WorkRequest{Arguments: args}
	console := iocapture.NewSink()
	result := wc.doTask(ctx, "invocation", req, console, func(tc *TaskContext) (Status, error) {
		return work.Work(tc, args)
	})

	verbosity := int32(0)
	if w.granularity == contextlog.Debug {
		verbosity = profileVerbosity
	}
	if out := responseOutput(result, console, verbosity); out != "" {
		fmt.Fprintln(logWriter, out)
	}
	return int(result.Status.ExitCode())
}
