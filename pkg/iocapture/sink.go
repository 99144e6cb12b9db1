package iocapture

import (
	"bytes"
	"strings"
	"sync"
)

// Sink collects console output for a single task.
// It is safe for concurrent use.
type Sink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewSink returns an empty Sink.
func NewSink() *Sink {
	return &Sink{}
}

// Write appends p to the sink.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

// WriteString appends str to the sink.
func (s *Sink) WriteString(str string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.WriteString(str)
}

// ReadCapturedAsUTF8String returns everything written since the last call and
// resets the sink. Invalid UTF-8 sequences are replaced with U+FFFD.
func (s *Sink) ReadCapturedAsUTF8String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := strings.ToValidUTF8(s.buf.String(), "�")
	s.buf.Reset()
	return out
}

// Len returns the number of unread bytes.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}
