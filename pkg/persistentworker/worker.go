package persistentworker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bazel-contrib/workerkit/pkg/contextlog"
	"github.com/bazel-contrib/workerkit/pkg/gcsched"
	"github.com/bazel-contrib/workerkit/pkg/iocapture"
	"github.com/bazel-contrib/workerkit/pkg/workerprotocol"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// profileVerbosity is the request verbosity from which task profiles are
// appended to the response output.
const profileVerbosity = 10

// Worker is a generic persistent worker that handles Bazel work requests.
// It reads requests on one goroutine, runs each in its own goroutine, and
// writes responses from a single writer goroutine in completion order.
// Cancel requests are ignored: a request always runs to completion.
//
// Work should print through TaskContext.Stdout, which always belongs to its
// task. With WithCaptureStdio, output printed straight to the process console
// is added to a response only if its task was the only one in flight while it
// was printed; console output of overlapping tasks goes to the log writer.
type Worker struct {
	work         Work
	name         string
	maxWorkers   int
	input        io.Reader
	output       io.Writer
	logWriter    io.Writer
	protocol     workerprotocol.Protocol
	gc           gcsched.Scheduler
	captureStdio bool
	tempDir      string
	granularity  contextlog.Granularity
	tracerOpts   []sdktrace.TracerProviderOption
	pollInterval time.Duration

	// requestsMu protects the requests map
	requestsMu sync.Mutex
	// requests counts in-flight requests by ID
	requests map[int32]int
}

// NewWorker creates a new persistent worker running work with the given options.
func NewWorker(work Work, opts ...Option) *Worker {
	w := &Worker{
		work:         work,
		name:         "worker",
		maxWorkers:   defaultMaxWorkers(),
		protocol:     workerprotocol.Proto,
		gc:           gcsched.NewCPUTimeScheduler(DefaultCPUUsageBeforeGC),
		granularity:  contextlog.Info,
		pollInterval: time.Second,
		requests:     make(map[int32]int),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// completion carries a finished response to the writer.
type completion struct {
	response workerprotocol.WorkResponse
}

// Run reads work requests from input and writes responses to output until
// input ends. It blocks until every accepted request has been answered.
//
// The end of input between frames is a clean shutdown and Run returns nil.
// A malformed or truncated frame stops reading; in-flight requests are still
// answered and the returned error wraps workerprotocol.ErrMalformedFrame.
func (w *Worker) Run(ctx context.Context) error {
	var capture *iocapture.Capture
	if w.captureStdio {
		c, err := iocapture.Start(w.tempDir)
		if err != nil {
			return fmt.Errorf("failed to capture stdio: %w", err)
		}
		defer c.Close()
		capture = c
	}
	input, output, logWriter := w.streams(capture)

	wc, shutdown := w.workerContext()
	defer shutdown()
	wc.Info(func() string { return fmt.Sprintf("starting worker (protocol %s, max %d in flight)", w.protocol, w.maxWorkers) })

	completions := make(chan completion, w.maxWorkers)
	encoder := workerprotocol.NewEncoder(w.protocol, output)

	var g errgroup.Group
	g.Go(func() error {
		return w.writeResponses(wc, capture, encoder, completions, logWriter)
	})

	// Semaphore to limit concurrent requests
	sem := semaphore.NewWeighted(int64(w.maxWorkers))
	// WaitGroup to track in-flight requests
	var wg sync.WaitGroup

	readErr := w.readRequests(wc, input, func(req *workerprotocol.WorkRequest) error {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		w.track(wc, req.RequestId)
		wg.Add(1)

		// Process request in goroutine for multiplex support
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			resp := w.serve(ctx, wc, capture, req)
			w.untrack(req.RequestId)
			completions <- completion{response: resp}
		}()
		return nil
	})

	// Wait for all requests to complete, then for the writer to drain
	wg.Wait()
	close(completions)
	writeErr := g.Wait()

	wc.Info(func() string { return "stopped worker" })
	w.flushDiagnostics(wc, capture, logWriter)

	var closeErr error
	if closer, ok := output.(io.Closer); ok {
		closeErr = closer.Close()
	}
	return errors.Join(readErr, writeErr, closeErr)
}

// workerContext creates the worker-level scope and the tracer provider
// that feeds task profiles. The returned function shuts the provider down.
func (w *Worker) workerContext() (*WorkerContext, func()) {
	prof := newProfiler()
	opts := append([]sdktrace.TracerProviderOption{sdktrace.WithSpanProcessor(prof)}, w.tracerOpts...)
	tp := sdktrace.NewTracerProvider(opts...)
	wc := newWorkerContext(w.name, w.granularity, w.tempDir, tp, prof)
	return wc, func() { tp.Shutdown(context.Background()) }
}

// readRequests decodes requests until the input ends and hands every
// non-cancel request to dispatch.
func (w *Worker) readRequests(wc *WorkerContext, input io.Reader, dispatch func(*workerprotocol.WorkRequest) error) error {
	decoder := workerprotocol.NewDecoder(w.protocol, input)
	for {
		req, err := decoder.ReadRequest()
		if err == io.EOF {
			// Normal shutdown - input closed
			return nil
		}
		if err != nil {
			wc.ErrorWithCause(err, func() string { return "cannot read work request, stopping" })
			return fmt.Errorf("reading work request: %w", err)
		}

		if req.Cancel {
			// Requests always run to completion; their response answers the cancel.
			wc.Debug(func() string { return fmt.Sprintf("ignoring cancel request for %d", req.RequestId) })
			continue
		}

		if err := dispatch(req); err != nil {
			wc.Warning(func() string { return fmt.Sprintf("not accepting request %d: %v", req.RequestId, err) })
			return nil
		}
	}
}

// serve executes req. A panic in the worker's own handling of the request is
// answered with an internal error instead of ending the process.
func (w *Worker) serve(ctx context.Context, wc *WorkerContext, capture *iocapture.Capture, req *workerprotocol.WorkRequest) (resp workerprotocol.WorkResponse) {
	defer func() {
		if r := recover(); r != nil {
			err := &PanicError{Value: r, Stack: debug.Stack()}
			wc.ErrorWithCause(err, func() string {
				return fmt.Sprintf("INTERNAL ERROR: worker failed while handling request %d", req.RequestId)
			})
			resp = workerprotocol.WorkResponse{
				RequestId: req.RequestId,
				ExitCode:  InternalError.ExitCode(),
				Output:    "INTERNAL ERROR: worker failed while handling the request: " + err.Error(),
			}
		}
	}()
	return w.execute(ctx, wc, capture, req)
}

// execute runs one request and builds its response.
func (w *Worker) execute(ctx context.Context, wc *WorkerContext, capture *iocapture.Capture, req *workerprotocol.WorkRequest) workerprotocol.WorkResponse {
	sink := iocapture.NewSink()
	detach := capture.Attach(sink)
	defer detach()
	result := wc.doTask(ctx, fmt.Sprintf("request %d", req.RequestId), req, sink, func(tc *TaskContext) (Status, error) {
		return w.work.Work(tc, req.Arguments)
	})
	detach()
	wc.Info(func() string { return fmt.Sprintf("task result %s", result.Status) })

	return workerprotocol.WorkResponse{
		RequestId: req.RequestId,
		ExitCode:  result.Status.ExitCode(),
		Output:    responseOutput(result, sink, req.Verbosity),
	}
}

// responseOutput joins the task log with whatever the task printed to its
// console.
func responseOutput(result TaskResult, console *iocapture.Sink, verbosity int32) string {
	parts := []string{result.Log.Out, console.ReadCapturedAsUTF8String()}
	if verbosity >= profileVerbosity && len(result.Log.Profiles) > 0 {
		parts = append(parts, "profiles:\n"+strings.Join(result.Log.Profiles, "\n"))
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// writeResponses is the only writer of output. It drains completions in
// completion order and wakes up every poll interval to report what it is
// waiting for.
func (w *Worker) writeResponses(
	wc *WorkerContext,
	capture *iocapture.Capture,
	encoder *workerprotocol.Encoder,
	completions <-chan completion,
	logWriter io.Writer,
) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var writeErr error
	for {
		select {
		case c, ok := <-completions:
			if !ok {
				return writeErr
			}
			// Keep draining after a failed write so no task blocks forever.
			if writeErr == nil {
				if err := encoder.WriteResponse(c.response); err != nil {
					wc.ErrorWithCause(err, func() string { return fmt.Sprintf("cannot write response %d", c.response.RequestId) })
					writeErr = fmt.Errorf("writing work response %d: %w", c.response.RequestId, err)
				}
			}
			w.gc.MaybePerformGC()
			w.flushDiagnostics(wc, capture, logWriter)
		case <-ticker.C:
			if ids := w.inFlight(); len(ids) > 0 {
				wc.Debug(func() string { return fmt.Sprintf("waiting for requests %v", ids) })
				w.flushDiagnostics(wc, capture, logWriter)
			}
		}
	}
}

// flushDiagnostics moves the worker-level log and stray console output to the
// log writer, so neither grows for the lifetime of the worker.
func (w *Worker) flushDiagnostics(wc *WorkerContext, capture *iocapture.Capture, logWriter io.Writer) {
	if out := wc.Contents().Out; out != "" {
		io.WriteString(logWriter, out)
	}
	if stray := capture.ReadCapturedAsUTF8String(); stray != "" {
		fmt.Fprintf(logWriter, "captured console output:\n%s", stray)
	}
}

func (w *Worker) track(wc *WorkerContext, id int32) {
	w.requestsMu.Lock()
	defer w.requestsMu.Unlock()
	w.requests[id]++
	if n := w.requests[id]; n > 1 {
		wc.Warning(func() string { return fmt.Sprintf("request %d is already in flight (%d copies)", id, n) })
	}
}

func (w *Worker) untrack(id int32) {
	w.requestsMu.Lock()
	defer w.requestsMu.Unlock()
	if w.requests[id] <= 1 {
		delete(w.requests, id)
		return
	}
	w.requests[id]--
}

// inFlight returns the sorted ids of running requests.
func (w *Worker) inFlight() []int32 {
	w.requestsMu.Lock()
	defer w.requestsMu.Unlock()
	ids := make([]int32, 0, len(w.requests))
	for id := range w.requests {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// streams resolves unset streams to the process streams in place before
// capturing started.
func (w *Worker) streams(capture *iocapture.Capture) (io.Reader, io.Writer, io.Writer) {
	stdin, stdout, stderr := os.Stdin, os.Stdout, os.Stderr
	if capture != nil {
		stdin, stdout, stderr = capture.Stdin, capture.Stdout, capture.Stderr
	}

	input, output, logWriter := w.input, w.output, w.logWriter
	if input == nil {
		input = stdin
	}
	if output == nil {
		output = stdout
	}
	if logWriter == nil {
		logWriter = stderr
	}
	return input, output, logWriter
}
