package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/canvasshq/canvass/execution"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type executionStartedEntry struct {
	name string
	hook ExecutionStarted
}

type phaseAdvancedEntry struct {
	name string
	hook PhaseAdvanced
}

type executionTerminatedEntry struct {
	name string
	hook ExecutionTerminated
}

type callScheduledEntry struct {
	name string
	hook CallScheduled
}

type callStartedEntry struct {
	name string
	hook CallStarted
}

type callSucceededEntry struct {
	name string
	hook CallSucceeded
}

type callRetryingEntry struct {
	name string
	hook CallRetrying
}

type callExhaustedEntry struct {
	name string
	hook CallExhausted
}

type reportCompiledEntry struct {
	name string
	hook ReportCompiled
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	executionStarted    []executionStartedEntry
	phaseAdvanced       []phaseAdvancedEntry
	executionTerminated []executionTerminatedEntry
	callScheduled       []callScheduledEntry
	callStarted         []callStartedEntry
	callSucceeded       []callSucceededEntry
	callRetrying        []callRetryingEntry
	callExhausted       []callExhaustedEntry
	reportCompiled      []reportCompiledEntry
	shutdown            []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(ExecutionStarted); ok {
		r.executionStarted = append(r.executionStarted, executionStartedEntry{name, h})
	}
	if h, ok := e.(PhaseAdvanced); ok {
		r.phaseAdvanced = append(r.phaseAdvanced, phaseAdvancedEntry{name, h})
	}
	if h, ok := e.(ExecutionTerminated); ok {
		r.executionTerminated = append(r.executionTerminated, executionTerminatedEntry{name, h})
	}
	if h, ok := e.(CallScheduled); ok {
		r.callScheduled = append(r.callScheduled, callScheduledEntry{name, h})
	}
	if h, ok := e.(CallStarted); ok {
		r.callStarted = append(r.callStarted, callStartedEntry{name, h})
	}
	if h, ok := e.(CallSucceeded); ok {
		r.callSucceeded = append(r.callSucceeded, callSucceededEntry{name, h})
	}
	if h, ok := e.(CallRetrying); ok {
		r.callRetrying = append(r.callRetrying, callRetryingEntry{name, h})
	}
	if h, ok := e.(CallExhausted); ok {
		r.callExhausted = append(r.callExhausted, callExhaustedEntry{name, h})
	}
	if h, ok := e.(ReportCompiled); ok {
		r.reportCompiled = append(r.reportCompiled, reportCompiledEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Execution event emitters
// ──────────────────────────────────────────────────

// EmitExecutionStarted notifies all extensions that implement ExecutionStarted.
func (r *Registry) EmitExecutionStarted(ctx context.Context, e *execution.Execution) {
	for _, x := range r.executionStarted {
		if err := x.hook.OnExecutionStarted(ctx, e); err != nil {
			r.logHookError("OnExecutionStarted", x.name, err)
		}
	}
}

// EmitPhaseAdvanced notifies all extensions that implement PhaseAdvanced.
func (r *Registry) EmitPhaseAdvanced(ctx context.Context, e *execution.Execution, from execution.Phase, event execution.Event) {
	for _, x := range r.phaseAdvanced {
		if err := x.hook.OnPhaseAdvanced(ctx, e, from, event); err != nil {
			r.logHookError("OnPhaseAdvanced", x.name, err)
		}
	}
}

// EmitExecutionTerminated notifies all extensions that implement ExecutionTerminated.
func (r *Registry) EmitExecutionTerminated(ctx context.Context, e *execution.Execution, reason string) {
	for _, x := range r.executionTerminated {
		if err := x.hook.OnExecutionTerminated(ctx, e, reason); err != nil {
			r.logHookError("OnExecutionTerminated", x.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Call event emitters
// ──────────────────────────────────────────────────

// EmitCallScheduled notifies all extensions that implement CallScheduled.
func (r *Registry) EmitCallScheduled(ctx context.Context, e *execution.Execution, propertyID string, attempt int, scheduledAt time.Time) {
	for _, x := range r.callScheduled {
		if err := x.hook.OnCallScheduled(ctx, e, propertyID, attempt, scheduledAt); err != nil {
			r.logHookError("OnCallScheduled", x.name, err)
		}
	}
}

// EmitCallStarted notifies all extensions that implement CallStarted.
func (r *Registry) EmitCallStarted(ctx context.Context, e *execution.Execution, propertyID string, attempt int) {
	for _, x := range r.callStarted {
		if err := x.hook.OnCallStarted(ctx, e, propertyID, attempt); err != nil {
			r.logHookError("OnCallStarted", x.name, err)
		}
	}
}

// EmitCallSucceeded notifies all extensions that implement CallSucceeded.
func (r *Registry) EmitCallSucceeded(ctx context.Context, e *execution.Execution, propertyID string, attempt int, elapsed time.Duration) {
	for _, x := range r.callSucceeded {
		if err := x.hook.OnCallSucceeded(ctx, e, propertyID, attempt, elapsed); err != nil {
			r.logHookError("OnCallSucceeded", x.name, err)
		}
	}
}

// EmitCallRetrying notifies all extensions that implement CallRetrying.
func (r *Registry) EmitCallRetrying(ctx context.Context, e *execution.Execution, propertyID string, attempt int, nextAt time.Time) {
	for _, x := range r.callRetrying {
		if err := x.hook.OnCallRetrying(ctx, e, propertyID, attempt, nextAt); err != nil {
			r.logHookError("OnCallRetrying", x.name, err)
		}
	}
}

// EmitCallExhausted notifies all extensions that implement CallExhausted.
func (r *Registry) EmitCallExhausted(ctx context.Context, e *execution.Execution, propertyID string, attempts int) {
	for _, x := range r.callExhausted {
		if err := x.hook.OnCallExhausted(ctx, e, propertyID, attempts); err != nil {
			r.logHookError("OnCallExhausted", x.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitReportCompiled notifies all extensions that implement ReportCompiled.
func (r *Registry) EmitReportCompiled(ctx context.Context, e *execution.Execution, report *execution.UnifiedReport) {
	for _, x := range r.reportCompiled {
		if err := x.hook.OnReportCompiled(ctx, e, report); err != nil {
			r.logHookError("OnReportCompiled", x.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, x := range r.shutdown {
		if err := x.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", x.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
