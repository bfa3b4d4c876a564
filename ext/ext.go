// Package ext defines the extension system for Canvass.
// Extensions are notified of lifecycle events (execution started, phase
// advanced, call retrying, etc.) and can react to them — logging,
// metrics, tracing, etc.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/canvasshq/canvass/execution"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Execution lifecycle hooks
// ──────────────────────────────────────────────────

// ExecutionStarted is called after a new execution is durably created.
type ExecutionStarted interface {
	OnExecutionStarted(ctx context.Context, e *execution.Execution) error
}

// PhaseAdvanced is called after a phase transition is durably committed.
type PhaseAdvanced interface {
	OnPhaseAdvanced(ctx context.Context, e *execution.Execution, from execution.Phase, event execution.Event) error
}

// ExecutionTerminated is called when an execution ends without a report.
type ExecutionTerminated interface {
	OnExecutionTerminated(ctx context.Context, e *execution.Execution, reason string) error
}

// ──────────────────────────────────────────────────
// Call lifecycle hooks
// ──────────────────────────────────────────────────

// CallScheduled is called after a call attempt is enqueued for dialing.
type CallScheduled interface {
	OnCallScheduled(ctx context.Context, e *execution.Execution, propertyID string, attempt int, scheduledAt time.Time) error
}

// CallStarted is called when the scheduler begins dialing an attempt.
type CallStarted interface {
	OnCallStarted(ctx context.Context, e *execution.Execution, propertyID string, attempt int) error
}

// CallSucceeded is called after a call connects and completes.
type CallSucceeded interface {
	OnCallSucceeded(ctx context.Context, e *execution.Execution, propertyID string, attempt int, elapsed time.Duration) error
}

// CallRetrying is called when an attempt fails to connect but a retry
// is scheduled.
type CallRetrying interface {
	OnCallRetrying(ctx context.Context, e *execution.Execution, propertyID string, attempt int, nextAt time.Time) error
}

// CallExhausted is called when an attempt chain hits the retry cap.
type CallExhausted interface {
	OnCallExhausted(ctx context.Context, e *execution.Execution, propertyID string, attempts int) error
}

// ──────────────────────────────────────────────────
// Other hooks
// ──────────────────────────────────────────────────

// ReportCompiled is called after the unified report is durably stored.
type ReportCompiled interface {
	OnReportCompiled(ctx context.Context, e *execution.Execution, report *execution.UnifiedReport) error
}

// Shutdown is called during graceful engine shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
