package persistentworker

import (
	"context"
	"fmt"
	"sync"

	"github.com/bazel-contrib/workerkit/pkg/contextlog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// profiler turns ended spans into profile entries of the task scope that
// owns the span's trace. Every task starts a new trace.
type profiler struct {
	mu     sync.Mutex
	scopes map[trace.TraceID]*contextlog.Scope
}

var _ sdktrace.SpanProcessor = (*profiler)(nil)

func newProfiler() *profiler {
	return &profiler{scopes: make(map[trace.TraceID]*contextlog.Scope)}
}

func (p *profiler) register(id trace.TraceID, scope *contextlog.Scope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scopes[id] = scope
}

func (p *profiler) unregister(id trace.TraceID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.scopes, id)
}

func (p *profiler) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *profiler) OnEnd(s sdktrace.ReadOnlySpan) {
	p.mu.Lock()
	scope := p.scopes[s.SpanContext().TraceID()]
	p.mu.Unlock()
	if scope == nil {
		return
	}
	scope.AddProfile(fmt.Sprintf("%s: %s", s.Name(), s.EndTime().Sub(s.StartTime())))
}

func (p *profiler) Shutdown(context.Context) error { return nil }

func (p *profiler) ForceFlush(context.Context) error { return nil }
