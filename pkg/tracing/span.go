// Package tracing times the stages of a publish run as a tree of spans
// carried through context. The tree is reported through slog when the run
// finishes, one line per span.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type contextKey struct{}

// Span is one timed stage of a run. Spans nest: a child created from a
// span's context is attached to that span and shares its trace id.
type Span struct {
	name    string
	traceID string
	started time.Time
	elapsed time.Duration

	mu       sync.Mutex
	children []*Span
	attrs    []any // alternating key, value, in insertion order
}

// StartSpan opens a root span and returns a context carrying it. traceID
// ties the span tree to the request that triggered the run; it may be empty.
func StartSpan(ctx context.Context, name, traceID string) (context.Context, *Span) {
	s := &Span{
		name:    name,
		traceID: traceID,
		started: time.Now(),
	}
	return context.WithValue(ctx, contextKey{}, s), s
}

// StartChildSpan opens a span nested under the one carried by ctx. Without a
// parent in ctx the child becomes a detached root with no trace id.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	child := &Span{
		name:    name,
		started: time.Now(),
	}
	if parent := SpanFromContext(ctx); parent != nil {
		child.traceID = parent.traceID
		parent.mu.Lock()
		parent.children = append(parent.children, child)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, contextKey{}, child), child
}

// End freezes the span's elapsed time and returns it. Ending a parent does
// not cascade to children still running.
func (s *Span) End() time.Duration {
	s.elapsed = time.Since(s.started)
	return s.elapsed
}

// SetAttr attaches a key-value pair reported alongside the span's timing.
func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, key, value)
	s.mu.Unlock()
}

// SpanFromContext returns the innermost span carried by ctx, or nil.
func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(contextKey{}).(*Span)
	return s
}

// Log emits the span and its descendants, parents before children.
func (s *Span) Log() {
	s.log(0)
}

func (s *Span) log(depth int) {
	attrs := []any{
		"trace_id", s.traceID,
		"span", s.name,
		"duration_ms", s.elapsed.Milliseconds(),
		"depth", depth,
	}
	s.mu.Lock()
	attrs = append(attrs, s.attrs...)
	children := s.children
	s.mu.Unlock()

	slog.Info("span", attrs...)
	for _, c := range children {
		c.log(depth + 1)
	}
}
