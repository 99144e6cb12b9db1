package hash

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bazel-contrib/workerkit/internal/launch"
	"github.com/opencontainers/go-digest"
)

// HashProcess is the entry point for the hash subcommand.
func HashProcess(ctx context.Context, args []string) {
	os.Exit(launch.Main(ctx, "hash", newHasher(), args))
}

// hashRequest holds parsed hash request parameters.
type hashRequest struct {
	algorithm   digest.Algorithm
	encoding    string
	mediaType   string
	annotations map[string]string
	cheatMode   bool
	input       string
	output      string
}

// annotationsFlag implements flag.Value for key-value pairs
type annotationsFlag map[string]string

func (a annotationsFlag) String() string {
	return ""
}

func (a annotationsFlag) Set(value string) error {
	key, val, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("annotation must be in format key=value, got: %s", value)
	}
	if key == "" {
		return fmt.Errorf("annotation key cannot be empty")
	}
	a[key] = val
	return nil
}

var encodings = []string{"raw", "hex", "sri", "oci-digest", "descriptor"}

// parseHashRequest parses hash request arguments using a flag set.
func parseHashRequest(args []string) (*hashRequest, error) {
	flags := flag.NewFlagSet("hash", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	alg := flags.String("digest", "sha256", "Hash algorithm (sha256 or sha512)")
	encoding := flags.String("encoding", "raw", "Output encoding (raw, hex, sri, oci-digest, descriptor)")
	mediaType := flags.String("media-type", "application/octet-stream", "Media type (only used with descriptor encoding)")
	cheatMode := flags.Bool("cheat-mode", false, "Take the sha256 from Bazel's input digest when it is available")
	annotations := make(annotationsFlag)
	flags.Var(&annotations, "annotation", "Add an annotation as key=value (only used with descriptor encoding)")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	algorithm := digest.Algorithm(*alg)
	if algorithm != digest.SHA256 && algorithm != digest.SHA512 {
		return nil, fmt.Errorf("invalid digest algorithm: %s (must be sha256 or sha512)", *alg)
	}

	valid := false
	for _, e := range encodings {
		valid = valid || e == *encoding
	}
	if !valid {
		return nil, fmt.Errorf("invalid encoding: %s (must be one of %s)", *encoding, strings.Join(encodings, ", "))
	}

	positionalArgs := flags.Args()
	if len(positionalArgs) != 2 {
		return nil, fmt.Errorf("expected 2 positional arguments (input, output), got %d", len(positionalArgs))
	}

	return &hashRequest{
		algorithm:   algorithm,
		encoding:    *encoding,
		mediaType:   *mediaType,
		annotations: annotations,
		cheatMode:   *cheatMode,
		input:       positionalArgs[0],
		output:      positionalArgs[1],
	}, nil
}
