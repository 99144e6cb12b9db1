//go:build !unix

package gcsched

import "time"

var processStart = time.Now()

// ProcessCPUTime approximates consumed CPU time with wall time since start on
// platforms without getrusage.
func ProcessCPUTime() time.Duration {
	return time.Since(processStart)
}
