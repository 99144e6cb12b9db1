package compress

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/bazel-contrib/workerkit/internal/launch"
	"github.com/bazel-contrib/workerkit/pkg/persistentworker"
)

// CompressProcess is the entry point for the compress subcommand.
func CompressProcess(ctx context.Context, args []string) {
	os.Exit(launch.Main(ctx, "compress", persistentworker.WorkFunc(compressWork), args))
}

type compressRequest struct {
	format Format
	level  int
	jobs   int
	input  string
	output string
}

func parseCompressRequest(args []string) (*compressRequest, error) {
	flags := flag.NewFlagSet("compress", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	format := flags.String("format", "gzip", "Output compression (gzip, zstd or none)")
	level := flags.Int("level", -1, "Compression level (-1 for the default of the format)")
	jobs := flags.Int("jobs", runtime.NumCPU(), "Number of blocks compressed in parallel (gzip only)")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	f, err := ParseFormat(*format)
	if err != nil {
		return nil, err
	}
	if *jobs < 1 {
		return nil, fmt.Errorf("jobs must be at least 1, got %d", *jobs)
	}

	positionalArgs := flags.Args()
	if len(positionalArgs) != 2 {
		return nil, fmt.Errorf("expected 2 positional arguments (input, output), got %d", len(positionalArgs))
	}
	return &compressRequest{
		format: f,
		level:  *level,
		jobs:   *jobs,
		input:  positionalArgs[0],
		output: positionalArgs[1],
	}, nil
}

// compressWork decompresses the input if needed and writes it in the
// requested format. The result is staged in the task directory and moved to
// the output once complete.
func compressWork(ctx *persistentworker.TaskContext, args []string) (persistentworker.Status, error) {
	req, err := parseCompressRequest(args)
	if err != nil {
		ctx.Error(func() string { return fmt.Sprintf("Failed to parse compress request: %v", err) })
		return persistentworker.Error, nil
	}

	input := resolve(req.input, ctx.SandboxDir())
	output := resolve(req.output, ctx.SandboxDir())

	var staged string
	_, err = ctx.SubTask("recompress", func(sub *persistentworker.TaskContext) (persistentworker.Status, error) {
		in, err := os.Open(input)
		if err != nil {
			return persistentworker.Error, fmt.Errorf("failed to open input file %s: %w", input, err)
		}
		defer in.Close()

		from, r, err := Decompress(in)
		if err != nil {
			return persistentworker.Error, err
		}
		defer r.Close()
		sub.Debug(func() string { return fmt.Sprintf("%s -> %s", from, req.format) })

		f, err := os.CreateTemp(sub.Directory(), "staged-*")
		if err != nil {
			return persistentworker.Error, err
		}
		defer f.Close()
		staged = f.Name()
		if err := f.Chmod(0o644); err != nil {
			return persistentworker.Error, err
		}

		n, err := recompress(f, r, req)
		if err != nil {
			return persistentworker.Error, err
		}
		sub.Debug(func() string { return fmt.Sprintf("wrote %d uncompressed bytes", n) })
		return persistentworker.Success, f.Close()
	})
	if err != nil {
		return persistentworker.Error, err
	}

	err = ctx.Step("publish", func() (persistentworker.Status, error) {
		return persistentworker.Success, moveFile(staged, output)
	})
	return ctx.Status(), err
}

func recompress(dst io.Writer, src io.Reader, req *compressRequest) (int64, error) {
	w, err := NewWriter(dst, req.format, req.level, req.jobs)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, src)
	if err != nil {
		w.Close()
		return n, fmt.Errorf("failed to compress: %w", err)
	}
	return n, w.Close()
}
