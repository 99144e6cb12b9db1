package persistentworker

import (
	"io"
	"runtime"
	"time"

	"github.com/bazel-contrib/workerkit/pkg/contextlog"
	"github.com/bazel-contrib/workerkit/pkg/gcsched"
	"github.com/bazel-contrib/workerkit/pkg/workerprotocol"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// DefaultCPUUsageBeforeGC is the process CPU time between forced collections
// when no scheduler is configured.
const DefaultCPUUsageBeforeGC = 10 * time.Second

// Option configures a Worker.
type Option func(*Worker)

// WithMaxWorkers sets the maximum number of concurrent requests.
// If not specified, defaults to runtime.NumCPU().
func WithMaxWorkers(max int) Option {
	return func(w *Worker) {
		if max > 0 {
			w.maxWorkers = max
		}
	}
}

// WithInput sets the input reader for work requests.
// If not specified, defaults to the process's stdin.
func WithInput(r io.Reader) Option {
	return func(w *Worker) {
		w.input = r
	}
}

// WithOutput sets the output writer for work responses.
// If not specified, defaults to the process's stdout. The output is closed
// when Run returns if it implements io.Closer.
func WithOutput(w io.Writer) Option {
	return func(worker *Worker) {
		worker.output = w
	}
}

// WithLogWriter sets where the worker-level log and stray console output go.
// If not specified, defaults to the process's stderr.
func WithLogWriter(w io.Writer) Option {
	return func(worker *Worker) {
		worker.logWriter = w
	}
}

// WithProtocol selects proto or JSON framing. Defaults to proto.
func WithProtocol(p workerprotocol.Protocol) Option {
	return func(w *Worker) {
		w.protocol = p
	}
}

// WithGCScheduler replaces the CPU time based garbage collection scheduler.
func WithGCScheduler(s gcsched.Scheduler) Option {
	return func(w *Worker) {
		if s != nil {
			w.gc = s
		}
	}
}

// WithCaptureStdio redirects the process's stdout, stderr and stdin while the
// worker runs, so that code printing to the console cannot corrupt responses.
// Unset input, output and log writers then refer to the original streams.
// Console output is credited to a task only when no other task was in flight
// while it was printed. Output of overlapping tasks is not attributed to any
// of them and goes to the log writer. TaskContext.Stdout is the per-task
// console.
func WithCaptureStdio(capture bool) Option {
	return func(w *Worker) {
		w.captureStdio = capture
	}
}

// WithTempDir sets the directory under which task working directories are
// created. Defaults to os.TempDir().
func WithTempDir(dir string) Option {
	return func(w *Worker) {
		w.tempDir = dir
	}
}

// WithGranularity sets the lowest severity written to task logs.
func WithGranularity(g contextlog.Granularity) Option {
	return func(w *Worker) {
		w.granularity = g
	}
}

// WithTracerProviderOptions adds options to the worker's tracer provider,
// for example a batcher that exports task spans.
func WithTracerProviderOptions(opts ...sdktrace.TracerProviderOption) Option {
	return func(w *Worker) {
		w.tracerOpts = append(w.tracerOpts, opts...)
	}
}

// WithPollInterval sets how often the response writer reports in-flight
// requests while waiting. Defaults to one second.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithName sets the name of the worker-level log scope.
func WithName(name string) Option {
	return func(w *Worker) {
		if name != "" {
			w.name = name
		}
	}
}

// defaultMaxWorkers returns the default number of concurrent requests.
func defaultMaxWorkers() int {
	return runtime.NumCPU()
}
