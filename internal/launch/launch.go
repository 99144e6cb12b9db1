// Package launch is the shared entry point of the worker binaries.
package launch

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/bazel-contrib/workerkit/internal/config"
	"github.com/bazel-contrib/workerkit/internal/telemetry"
	"github.com/bazel-contrib/workerkit/pkg/contextlog"
	"github.com/bazel-contrib/workerkit/pkg/gcsched"
	"github.com/bazel-contrib/workerkit/pkg/persistentworker"
	"github.com/bazel-contrib/workerkit/pkg/workerprotocol"
	slogotel "github.com/remychantenay/slog-otel"
)

// Version is reported in exported traces and debug logs. Release builds set
// it with -ldflags "-X".
var Version = "0.0.0-dev"

// namespace groups the services of all workerkit tools in exported traces.
const namespace = "workerkit"

// streams are the process streams a launch works with.
type streams struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// Main runs work as a Bazel tool and returns the process exit code.
//
// With --persistent_worker, the remaining arguments are worker startup flags
// and requests are served until stdin closes. Otherwise work runs once with
// the (argfile expanded) arguments.
func Main(ctx context.Context, name string, work persistentworker.Work, args []string) int {
	return run(ctx, name, work, args, streams{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr})
}

func run(ctx context.Context, name string, work persistentworker.Work, args []string, s streams) int {
	processedArgs, isPersistentWorker, err := persistentworker.ParseArgs(args)
	if err != nil {
		fmt.Fprintf(s.stderr, "%s: %v\n", name, err)
		return 1
	}

	if !isPersistentWorker {
		return persistentworker.RunOnce(ctx, work, processedArgs,
			persistentworker.WithName(name),
			persistentworker.WithLogWriter(s.stderr),
		)
	}

	c, err := parseStartupFlags(name, processedArgs, s.stderr)
	if err != nil {
		fmt.Fprintf(s.stderr, "%s: %v\n", name, err)
		return 1
	}

	granularity, err := contextlog.ParseGranularity(c.LogLevel)
	if err != nil {
		fmt.Fprintf(s.stderr, "%s: %v\n", name, err)
		return 1
	}
	slog.SetDefault(newProcessLogger(s.stderr, granularity.Level()))

	opts, err := workerOptions(ctx, name, c, granularity, s)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to configure worker", "err", err)
		return 1
	}

	if err := persistentworker.NewWorker(work, opts...).Run(ctx); err != nil {
		slog.ErrorContext(ctx, "Worker stopped", "err", err)
		return 1
	}
	return 0
}

// newProcessLogger returns the logger for diagnostics outside any task
// response. Records logged with a span context carry its trace and span ids.
func newProcessLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slogotel.OtelHandler{
		Next: slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}),
	})
}

// parseStartupFlags reads the optional config file and applies the flags that
// were set on top of it.
func parseStartupFlags(name string, args []string, output io.Writer) (*config.Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)

	configFile := fs.String("worker_config", "", "path to a YAML worker config file")
	protocol := fs.String("worker_protocol", "proto", "wire protocol: proto or json")
	maxWorkers := fs.Int("max_workers", 0, "maximum number of concurrent requests (default: number of CPUs)")
	gcThreshold := fs.Duration("gc_cpu_threshold", 10*time.Second, "process CPU time between forced garbage collections (0 disables)")
	logLevel := fs.String("log_level", "info", "log level: debug, info or error")
	captureStdio := fs.Bool("capture_stdio", true, "redirect console output of the work away from the protocol stream")
	trace := fs.Bool("trace", false, "export task spans to stderr")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	c := config.Default()
	if *configFile != "" {
		var err error
		if c, err = config.FromFile(*configFile); err != nil {
			return nil, fmt.Errorf("failed to load worker config: %w", err)
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "worker_protocol":
			c.Protocol = *protocol
		case "max_workers":
			c.MaxWorkers = *maxWorkers
		case "gc_cpu_threshold":
			c.CPUUsageBeforeGC = *gcThreshold
		case "log_level":
			c.LogLevel = *logLevel
		case "capture_stdio":
			c.CaptureStdio = *captureStdio
		case "trace":
			c.Trace = *trace
		}
	})
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func workerOptions(ctx context.Context, name string, c *config.Config, granularity contextlog.Granularity, s streams) ([]persistentworker.Option, error) {
	protocol, err := workerprotocol.ParseProtocol(c.Protocol)
	if err != nil {
		return nil, err
	}
	gc := gcsched.NewCPUTimeScheduler(c.CPUUsageBeforeGC)
	slog.DebugContext(ctx, "Starting persistent worker",
		"name", name,
		"version", Version,
		"protocol", protocol,
		"maxWorkers", c.MaxWorkers,
		"gcThreshold", gc.Threshold(),
	)

	opts := []persistentworker.Option{
		persistentworker.WithName(name),
		persistentworker.WithProtocol(protocol),
		persistentworker.WithMaxWorkers(c.MaxWorkers),
		persistentworker.WithGCScheduler(gc),
		persistentworker.WithGranularity(granularity),
		persistentworker.WithTempDir(c.TempDir),
		persistentworker.WithCaptureStdio(c.CaptureStdio),
	}
	// The process streams are left unset so that capturing swaps them out
	// underneath the protocol.
	if s.stdin != os.Stdin {
		opts = append(opts, persistentworker.WithInput(s.stdin))
	}
	if s.stdout != os.Stdout {
		opts = append(opts, persistentworker.WithOutput(s.stdout))
	}
	if s.stderr != os.Stderr {
		opts = append(opts, persistentworker.WithLogWriter(s.stderr))
	}

	if c.Trace {
		tpOpts, err := telemetry.TracerProviderOptions(name,
			telemetry.WithWriter(s.stderr),
			telemetry.WithVersion(Version),
			telemetry.WithNamespace(namespace),
			telemetry.WithPrettyPrint(granularity == contextlog.Debug),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to set up tracing: %w", err)
		}
		opts = append(opts, persistentworker.WithTracerProviderOptions(tpOpts...))
	}
	return opts, nil
}
