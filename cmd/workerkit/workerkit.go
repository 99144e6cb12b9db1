package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bazel-contrib/workerkit/cmd/compress"
	"github.com/bazel-contrib/workerkit/cmd/hash"
)

const usage = `Usage: workerkit [COMMAND] [ARGS...]

Commands:
  compress                 (re-)compresses a blob with gzip or zstd
  hash                     computes the digest of a file

Every command runs as a Bazel persistent worker when called with
--persistent_worker and once with the given arguments otherwise.`

func Run(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	command := args[1]
	switch command {
	case "compress":
		compress.CompressProcess(ctx, args[2:])
	case "hash":
		hash.HashProcess(ctx, args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	Run(ctx, os.Args)
}
