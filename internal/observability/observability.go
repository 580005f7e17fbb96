// Package observability provides the metrics and tracing hooks used by the
// mutation pipeline and the HTTP adapter.
package observability

import (
	"context"
	"time"
)

// Recorder aggregates operation outcomes and pipeline events.
type Recorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	Add(ctx context.Context, event string, n int)
}

// Tracer starts spans around pipeline steps.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, Span)
}

// Span is ended exactly once with the step's error (nil on success).
type Span interface {
	End(err error)
}

// Pipeline event names passed to Recorder.Add.
const (
	EventChangesApplied      = "changes_applied"
	EventPartialCommit       = "partial_commit"
	EventVerificationFailed  = "verification_failed"
	EventAuditWriteFailed    = "audit_write_failed"
	EventConflict            = "conflict"
	EventActivityWriteFailed = "activity_write_failed"
	EventLockContention      = "lock_contention"
)

// Nop is a Recorder and Tracer that discards everything.
type Nop struct{}

func (Nop) Observe(context.Context, string, bool, time.Duration) {}
func (Nop) Add(context.Context, string, int)                      {}

func (Nop) Start(ctx context.Context, _ string) (context.Context, Span) { return ctx, nopSpan{} }

type nopSpan struct{}

func (nopSpan) End(error) {}
