package contextlog

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	slogotel "github.com/remychantenay/slog-otel"
)

// rootSource is the parent name printed for records of a root scope.
const rootSource = "global"

// Scope is a named, buffered logging namespace.
// All methods are safe for concurrent use.
type Scope struct {
	ctx         context.Context
	name        string
	parent      *Scope
	granularity Granularity
	logger      *slog.Logger

	mu       sync.Mutex
	out      strings.Builder
	profiles []string
}

// New creates a root scope recording messages at or above g.
func New(name string, g Granularity) *Scope {
	return newScope(context.Background(), name, nil, g)
}

// Records of a scope are handled with the scope's context. When that context
// carries a recording span, each record is also added to the span as an event.
func newScope(ctx context.Context, name string, parent *Scope, g Granularity) *Scope {
	s := &Scope{
		ctx:         ctx,
		name:        name,
		parent:      parent,
		granularity: g,
	}
	s.logger = slog.New(slogotel.OtelHandler{Next: &handler{scope: s, level: g.Level()}})
	return s
}

// NarrowTo returns a child scope labelled name. Messages logged to the child
// are buffered by the child and by every ancestor; the child's Contents never
// includes messages from its siblings.
func (s *Scope) NarrowTo(name string) *Scope {
	return newScope(s.ctx, name, s, s.granularity)
}

// NarrowToContext is NarrowTo for a child that logs with ctx, typically
// the context of the span the child's work runs in.
func (s *Scope) NarrowToContext(ctx context.Context, name string) *Scope {
	return newScope(ctx, name, s, s.granularity)
}

// Context returns the context records of the scope are handled with.
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Name returns the scope's label.
func (s *Scope) Name() string {
	return s.name
}

// Granularity returns the lowest severity the scope records.
func (s *Scope) Granularity() Granularity {
	return s.granularity
}

// Slog returns a structured logger writing into this scope. Pass Context to
// its *Context methods to tie records to the scope's span.
func (s *Scope) Slog() *slog.Logger {
	return s.logger
}

// Debug logs the message produced by msg if debug messages are recorded.
func (s *Scope) Debug(msg func() string) {
	s.log(slog.LevelDebug, nil, msg)
}

// Info logs the message produced by msg if info messages are recorded.
func (s *Scope) Info(msg func() string) {
	s.log(slog.LevelInfo, nil, msg)
}

// Warning logs the message produced by msg if warnings are recorded.
func (s *Scope) Warning(msg func() string) {
	s.log(slog.LevelWarn, nil, msg)
}

// Error logs the message produced by msg.
func (s *Scope) Error(msg func() string) {
	s.log(slog.LevelError, nil, msg)
}

// ErrorWithCause logs the message produced by msg followed by err's type and
// the chain of errors it wraps.
func (s *Scope) ErrorWithCause(err error, msg func() string) {
	s.log(slog.LevelError, err, msg)
}

func (s *Scope) log(level slog.Level, cause error, msg func() string) {
	ctx := s.ctx
	h := s.logger.Handler()
	if !h.Enabled(ctx, level) {
		return
	}
	r := slog.NewRecord(time.Now(), level, msg(), 0)
	if cause != nil {
		r.AddAttrs(slog.Any(causeKey, cause))
	}
	_ = h.Handle(ctx, r)
}

// Writer returns a writer appending raw text to the scope, for code that
// expects to print to a stream.
func (s *Scope) Writer() io.Writer {
	return scopeWriter{s}
}

// AddProfile records a timing annotation. Profiles stay with the scope they
// are added to and are not forwarded to ancestors.
func (s *Scope) AddProfile(profile string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = append(s.profiles, profile)
}

// Contents returns everything buffered by the scope and clears the buffer.
func (s *Scope) Contents() ContextLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := ContextLog{Out: s.out.String(), Profiles: s.profiles}
	s.out.Reset()
	s.profiles = nil
	return log
}

func (s *Scope) source() string {
	if s.parent == nil {
		return rootSource
	}
	return s.parent.name
}

// emit appends text to s and all of its ancestors.
func (s *Scope) emit(text string) {
	for cur := s; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		cur.out.WriteString(text)
		cur.mu.Unlock()
	}
}

type scopeWriter struct {
	scope *Scope
}

func (w scopeWriter) Write(p []byte) (int, error) {
	w.scope.emit(string(p))
	return len(p), nil
}
