package contextlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

const (
	timeFormat = "2006-01-02 15:04:05.000"
	// causeKey marks an error attribute that is rendered as a cause chain.
	causeKey = "cause"
)

// Trace correlation attributes added by the otel handler. The span already
// carries the records as events, so they are not repeated in the text.
var traceKeys = map[string]bool{"trace_id": true, "span_id": true}

// handler renders slog records into a scope's buffer chain.
//
// Each record is rendered as two lines:
//
//	2024-01-02 15:04:05.000 worker compile
//	INFO: message key=value
//
// where the first line names the parent scope ("global" for a root) and the
// scope itself.
type handler struct {
	scope  *Scope
	level  slog.Leveler
	attrs  string
	groups []string
}

var _ slog.Handler = (*handler)(nil)

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n", t.Format(timeFormat), h.scope.source(), h.scope.name)
	b.WriteString(levelName(r.Level))
	b.WriteString(": ")
	b.WriteString(r.Message)
	b.WriteString(h.attrs)

	var cause error
	r.Attrs(func(a slog.Attr) bool {
		if traceKeys[a.Key] {
			return true
		}
		if a.Key == causeKey {
			if err, ok := a.Value.Any().(error); ok {
				cause = err
				return true
			}
		}
		appendAttr(&b, h.groups, a)
		return true
	})
	b.WriteByte('\n')
	if cause != nil {
		writeCause(&b, cause)
	}

	h.scope.emit(b.String())
	return nil
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		appendAttr(&b, h.groups, a)
	}
	h2 := *h
	h2.attrs = b.String()
	return &h2
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.groups = append(h.groups[:len(h.groups):len(h.groups)], name)
	return &h2
}

func appendAttr(b *strings.Builder, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		nested := groups
		if a.Key != "" {
			nested = append(groups[:len(groups):len(groups)], a.Key)
		}
		for _, ga := range a.Value.Group() {
			appendAttr(b, nested, ga)
		}
		return
	}

	b.WriteByte(' ')
	for _, g := range groups {
		b.WriteString(g)
		b.WriteByte('.')
	}
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(quoteIfNeeded(a.Value.String()))
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

// writeCause renders err and every error it wraps, outermost first.
func writeCause(b *strings.Builder, err error) {
	fmt.Fprintf(b, "%T: %v\n", err, err)
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		fmt.Fprintf(b, "Caused by: %T: %v\n", cause, cause)
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			fmt.Fprintf(b, "Caused by: %T: %v\n", e, e)
		}
	}
}
