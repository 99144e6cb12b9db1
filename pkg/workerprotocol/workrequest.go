package workerprotocol

// WorkRequest represents a single work request for the persistent worker.
// See https://bazel.build/remote/creating for the protocol specification.
type WorkRequest struct {
	Arguments  []string
	Inputs     []Input
	RequestId  int32
	Cancel     bool
	Verbosity  int32
	SandboxDir string
}

// WorkResponse represents the response to a work request.
type WorkResponse struct {
	ExitCode     int32
	Output       string
	RequestId    int32
	WasCancelled bool
}

// Input represents a single input file with its path and content digest.
// Bazel fills Digest with the hex encoded digest of the file contents.
type Input struct {
	Path   string
	Digest []byte
}
