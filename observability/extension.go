package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/canvasshq/canvass/execution"
	"github.com/canvasshq/canvass/ext"
)

// meterName is the instrumentation scope name for lifecycle metrics.
const meterName = "github.com/canvasshq/canvass/observability"

// Compile-time interface checks.
var (
	_ ext.Extension           = (*MetricsExtension)(nil)
	_ ext.ExecutionStarted    = (*MetricsExtension)(nil)
	_ ext.PhaseAdvanced       = (*MetricsExtension)(nil)
	_ ext.ExecutionTerminated = (*MetricsExtension)(nil)
	_ ext.CallScheduled       = (*MetricsExtension)(nil)
	_ ext.CallSucceeded       = (*MetricsExtension)(nil)
	_ ext.CallRetrying        = (*MetricsExtension)(nil)
	_ ext.CallExhausted       = (*MetricsExtension)(nil)
	_ ext.ReportCompiled      = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via OTel
// instruments. Register it as a Canvass extension to automatically
// track execution starts, phase transition counts, terminations, call
// schedule/success/retry/exhaust rates, and report compilations.
type MetricsExtension struct {
	executionsStarted    metric.Int64Counter
	phaseTransitions     metric.Int64Counter
	executionsTerminated metric.Int64Counter
	callsScheduled       metric.Int64Counter
	callsSucceeded       metric.Int64Counter
	callsRetried         metric.Int64Counter
	callsExhausted       metric.Int64Counter
	reportsCompiled      metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider. With no provider configured the instruments are
// noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. Use this variant to inject a specific MeterProvider
// for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		// Noop fallback guaranteed by the OTel API contract.
		return c
	}
	return &MetricsExtension{
		executionsStarted:    counter("canvass.execution.started", "Executions created"),
		phaseTransitions:     counter("canvass.execution.transitions", "Committed phase transitions"),
		executionsTerminated: counter("canvass.execution.terminated", "Executions ended without a report"),
		callsScheduled:       counter("canvass.call.scheduled", "Call attempts enqueued"),
		callsSucceeded:       counter("canvass.call.succeeded", "Call attempts that connected"),
		callsRetried:         counter("canvass.call.retried", "Call attempts rescheduled after connection failure"),
		callsExhausted:       counter("canvass.call.exhausted", "Call chains that hit the attempt cap"),
		reportsCompiled:      counter("canvass.report.compiled", "Unified reports compiled"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Execution lifecycle hooks ───────────────────────

// OnExecutionStarted implements ext.ExecutionStarted.
func (m *MetricsExtension) OnExecutionStarted(ctx context.Context, _ *execution.Execution) error {
	m.executionsStarted.Add(ctx, 1)
	return nil
}

// OnPhaseAdvanced implements ext.PhaseAdvanced.
func (m *MetricsExtension) OnPhaseAdvanced(ctx context.Context, e *execution.Execution, from execution.Phase, event execution.Event) error {
	m.phaseTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(e.Phase)),
		attribute.String("event", string(event)),
	))
	return nil
}

// OnExecutionTerminated implements ext.ExecutionTerminated.
func (m *MetricsExtension) OnExecutionTerminated(ctx context.Context, _ *execution.Execution, reason string) error {
	m.executionsTerminated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
	return nil
}

// ── Call lifecycle hooks ────────────────────────────

// OnCallScheduled implements ext.CallScheduled.
func (m *MetricsExtension) OnCallScheduled(ctx context.Context, _ *execution.Execution, _ string, _ int, _ time.Time) error {
	m.callsScheduled.Add(ctx, 1)
	return nil
}

// OnCallSucceeded implements ext.CallSucceeded.
func (m *MetricsExtension) OnCallSucceeded(ctx context.Context, _ *execution.Execution, _ string, _ int, _ time.Duration) error {
	m.callsSucceeded.Add(ctx, 1)
	return nil
}

// OnCallRetrying implements ext.CallRetrying.
func (m *MetricsExtension) OnCallRetrying(ctx context.Context, _ *execution.Execution, _ string, _ int, _ time.Time) error {
	m.callsRetried.Add(ctx, 1)
	return nil
}

// OnCallExhausted implements ext.CallExhausted.
func (m *MetricsExtension) OnCallExhausted(ctx context.Context, _ *execution.Execution, _ string, _ int) error {
	m.callsExhausted.Add(ctx, 1)
	return nil
}

// ── Report hooks ────────────────────────────────────

// OnReportCompiled implements ext.ReportCompiled.
func (m *MetricsExtension) OnReportCompiled(ctx context.Context, _ *execution.Execution, _ *execution.UnifiedReport) error {
	m.reportsCompiled.Add(ctx, 1)
	return nil
}
