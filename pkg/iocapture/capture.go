// Package iocapture redirects the process's standard streams so that code
// printing directly to the console cannot corrupt a worker protocol running on
// the real stdin and stdout.
//
// While a Capture is active, os.Stdout, os.Stderr and the standard log
// package write to a private temp file and os.Stdin reads from the null
// device. Captured bytes are handed to tasks through Sinks: output is
// credited to a task only when it was the sole attached task while the bytes
// were written. Everything else is kept as stray output for the worker's own
// diagnostics, so no task ever receives another task's console output.
package iocapture

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Capture holds the redirected process streams.
type Capture struct {
	// Stdin, Stdout and Stderr are the streams that were in place before the
	// capture started. A worker speaks its protocol over Stdin and Stdout.
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File

	prevLog io.Writer
	file    *os.File
	devNull *os.File

	mu       sync.Mutex
	consumed int64
	attached map[*Sink]struct{}
	stray    Sink
	closed   bool
}

// Start redirects the process streams to a temp file created in dir (the
// default temp directory if dir is empty). Only one Capture should be active
// at a time; Close restores the previous streams.
func Start(dir string) (*Capture, error) {
	file, err := os.CreateTemp(dir, "workerkit-stdio-*.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	devNull, err := os.Open(os.DevNull)
	if err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, fmt.Errorf("failed to open %s: %w", os.DevNull, err)
	}

	c := &Capture{
		Stdin:    os.Stdin,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		prevLog:  log.Writer(),
		file:     file,
		devNull:  devNull,
		attached: make(map[*Sink]struct{}),
	}

	os.Stdin = devNull
	os.Stdout = file
	os.Stderr = file
	log.SetOutput(file)
	return c, nil
}

// Attach registers sink as an in-flight task. The returned function detaches
// it again; calls after the first do nothing. Attach on a nil Capture is a
// no-op, so callers need not check whether capturing is enabled.
func (c *Capture) Attach(sink *Sink) (detach func()) {
	if c == nil || sink == nil {
		return func() {}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.collectLocked()
	c.attached[sink] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.collectLocked()
			delete(c.attached, sink)
		})
	}
}

// ReadCapturedAsUTF8String returns stray output captured since the last call
// and resets it. Stray output is everything that could not be credited to a
// single task.
func (c *Capture) ReadCapturedAsUTF8String() string {
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collectLocked()
	return c.stray.ReadCapturedAsUTF8String()
}

// collectLocked moves bytes written to the capture file since the last
// collection to their owner. Attach and detach both collect first, so the set
// of attached sinks is constant for the bytes being collected.
func (c *Capture) collectLocked() {
	if c.closed {
		return
	}
	info, err := c.file.Stat()
	if err != nil || info.Size() <= c.consumed {
		return
	}
	pending, err := io.ReadAll(io.NewSectionReader(c.file, c.consumed, info.Size()-c.consumed))
	c.consumed += int64(len(pending))
	if len(pending) == 0 {
		return
	}

	owner := &c.stray
	if len(c.attached) == 1 {
		for sink := range c.attached {
			owner = sink
		}
	}
	owner.Write(pending)
	if err != nil {
		fmt.Fprintf(&c.stray, "failed to read captured output: %v\n", err)
	}
}

// Close restores the original streams and removes the capture file. Output
// that was never read is written to the original stderr.
func (c *Capture) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.collectLocked()
	c.closed = true

	os.Stdin = c.Stdin
	os.Stdout = c.Stdout
	os.Stderr = c.Stderr
	log.SetOutput(c.prevLog)

	if rest := c.stray.ReadCapturedAsUTF8String(); strings.TrimSpace(rest) != "" {
		fmt.Fprint(c.Stderr, rest)
	}

	return errors.Join(
		c.devNull.Close(),
		c.file.Close(),
		os.Remove(c.file.Name()),
	)
}
