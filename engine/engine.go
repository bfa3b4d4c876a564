// Package engine wires all canvass subsystems together: the phase
// machine, the approval gate, the dial scheduler, the janitor, and the
// report compiler. It owns the workflow pipeline — every operation a
// caller can perform on an execution enters through the Engine.
//
// This package sits above all subsystem packages and below the
// application layer; the root canvass package defines Entity and Config
// (imported by execution, dial, etc.) and so cannot import those
// packages back.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/canvasshq/canvass"
	"github.com/canvasshq/canvass/approval"
	"github.com/canvasshq/canvass/audit"
	"github.com/canvasshq/canvass/backoff"
	"github.com/canvasshq/canvass/collab"
	"github.com/canvasshq/canvass/dial"
	"github.com/canvasshq/canvass/execution"
	"github.com/canvasshq/canvass/ext"
	"github.com/canvasshq/canvass/flow"
	"github.com/canvasshq/canvass/id"
	mw "github.com/canvasshq/canvass/middleware"
	"github.com/canvasshq/canvass/observability"
	"github.com/canvasshq/canvass/report"
	"github.com/canvasshq/canvass/route"
	"github.com/canvasshq/canvass/store"
	"github.com/canvasshq/canvass/sweep"
	"github.com/canvasshq/canvass/throttle"
)

// analysisConcurrency bounds parallel location lookups per execution.
const analysisConcurrency = 4

// Collaborators are the external services the engine delegates to.
// Extractor, Analyzer, and Caller are required; Notifier is optional.
type Collaborators struct {
	Extractor collab.Extractor
	Analyzer  collab.LocationAnalyzer
	Caller    collab.Caller
	Notifier  collab.Notifier
}

// Engine runs the property search workflow end to end.
type Engine struct {
	cfg    canvass.Config
	store  store.Store
	collab Collaborators
	logger *slog.Logger

	extensions *ext.Registry
	machine    *flow.Machine
	gate       *approval.Gate
	compiler   *report.Compiler
	dialer     *dial.Dialer
	scheduler  *dial.Scheduler
	janitor    *sweep.Janitor

	bo   backoff.Strategy
	mws  []mw.Middleware
	exts []ext.Extension

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu      sync.Mutex
	running bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default configuration.
func WithConfig(cfg canvass.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.exts = append(eng.exts, e) }
}

// WithMiddleware adds middleware to the engine's dial chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithBackoff sets the retry backoff strategy for call attempts.
// If not set, a bounded exponential strategy over the configured
// retry window is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New builds an Engine over the given store and collaborators.
func New(st store.Store, c Collaborators, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, canvass.ErrNoStore
	}
	if c.Extractor == nil {
		return nil, fmt.Errorf("%w: extractor is required", canvass.ErrValidation)
	}
	if c.Analyzer == nil {
		return nil, fmt.Errorf("%w: location analyzer is required", canvass.ErrValidation)
	}
	if c.Caller == nil {
		return nil, fmt.Errorf("%w: caller is required", canvass.ErrValidation)
	}

	eng := &Engine{
		cfg:    canvass.DefaultConfig(),
		store:  st,
		collab: c,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(eng)
	}

	eng.extensions = ext.NewRegistry(eng.logger)
	for _, e := range eng.exts {
		eng.extensions.Register(e)
	}

	if eng.bo == nil {
		eng.bo = backoff.NewBounded(eng.cfg.RetryFloor, eng.cfg.RetryCeiling, backoff.DefaultJitter)
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/canvasshq/canvass"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/canvasshq/canvass"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter("github.com/canvasshq/canvass/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Timeout(eng.logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	eng.machine = flow.NewMachine(st,
		flow.WithAudit(st),
		flow.WithHooks(eng.extensions),
		flow.WithLogger(eng.logger),
		flow.WithSwapRetries(eng.cfg.SwapRetries),
	)
	eng.gate = approval.NewGate(eng.machine, c.Notifier, eng.logger)
	eng.compiler = report.NewCompiler(eng.machine, c.Notifier, eng.extensions, eng.logger)
	eng.dialer = dial.NewDialer(eng.machine, c.Caller, st, eng.extensions, eng.bo, eng, eng.logger, eng.cfg, allMws...)

	schedOpts := []dial.SchedulerOption{
		dial.WithConcurrency(eng.cfg.Concurrency),
		dial.WithPollInterval(eng.cfg.PollInterval),
		dial.WithLeaseTTL(eng.cfg.LeaseTTL),
	}
	if eng.cfg.DialRate > 0 || eng.cfg.MaxConcurrentDials > 0 {
		schedOpts = append(schedOpts, dial.WithThrottle(throttle.NewManager(throttle.Config{
			Rate:          eng.cfg.DialRate,
			Burst:         eng.cfg.DialBurst,
			MaxConcurrent: eng.cfg.MaxConcurrentDials,
		})))
	}
	eng.scheduler = dial.NewScheduler(st, eng.dialer, eng.logger, schedOpts...)
	eng.janitor = sweep.NewJanitor(eng.machine, st, eng.cfg.SweepSchedule, eng.cfg.StaleCallThreshold, eng.logger)

	return eng, nil
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Ping checks store connectivity.
func (eng *Engine) Ping(ctx context.Context) error { return eng.store.Ping(ctx) }

// Machine returns the phase machine.
func (eng *Engine) Machine() *flow.Machine { return eng.machine }

// Scheduler returns the dial scheduler.
func (eng *Engine) Scheduler() *dial.Scheduler { return eng.scheduler }

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start resumes every non-terminal execution from its persisted phase
// (crash recovery), then starts the dial scheduler and the janitor.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	if eng.running {
		eng.mu.Unlock()
		return nil
	}
	eng.running = true
	eng.mu.Unlock()

	if err := eng.resumeAll(ctx); err != nil {
		// Recovery is best effort per execution; a listing failure is not.
		return fmt.Errorf("resuming executions: %w", err)
	}
	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting dial scheduler: %w", err)
	}
	if err := eng.janitor.Start(ctx); err != nil {
		return fmt.Errorf("starting janitor: %w", err)
	}
	eng.logger.Info("engine started")
	return nil
}

// Stop gracefully shuts the engine down: scheduler and janitor first,
// then shutdown hooks.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	if !eng.running {
		eng.mu.Unlock()
		return nil
	}
	eng.running = false
	eng.mu.Unlock()

	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("dial scheduler stop error", slog.String("error", err.Error()))
	}
	if err := eng.janitor.Stop(ctx); err != nil {
		eng.logger.Error("janitor stop error", slog.String("error", err.Error()))
	}
	eng.extensions.EmitShutdown(ctx)
	eng.logger.Info("engine stopped")
	return nil
}

// resumeAll drives every non-terminal execution forward from wherever
// the last process left it.
func (eng *Engine) resumeAll(ctx context.Context) error {
	open, err := eng.store.ListExecutionsByPhase(ctx,
		execution.PhaseSearchInitiation,
		execution.PhaseDataExtraction,
		execution.PhaseHumanApproval,
		execution.PhaseLocationAnalysis,
		execution.PhaseEngagementRouting,
		execution.PhaseInspectorCalls,
		execution.PhaseNegotiatorCalls,
		execution.PhaseReportGeneration,
	)
	if err != nil {
		return err
	}

	for _, e := range open {
		if err := eng.Resume(ctx, e.ID); err != nil {
			eng.logger.Warn("resume failed",
				slog.String("execution_id", e.ID.String()),
				slog.String("phase", string(e.Phase)),
				slog.String("error", err.Error()),
			)
		}
	}
	if len(open) > 0 {
		eng.logger.Info("resumed executions", slog.Int("count", len(open)))
	}
	return nil
}

// ──────────────────────────────────────────────────
// Operations
// ──────────────────────────────────────────────────

// StartExecution creates an execution from the criteria and drives it
// through extraction to the approval gate. The returned execution is
// parked in human approval.
func (eng *Engine) StartExecution(ctx context.Context, criteria execution.SearchCriteria) (*execution.Execution, error) {
	if err := criteria.Normalize(); err != nil {
		return nil, err
	}

	e := execution.New(criteria)
	if err := eng.store.CreateExecution(ctx, e); err != nil {
		return nil, err
	}
	eng.extensions.EmitExecutionStarted(ctx, e)
	eng.logger.Info("execution started",
		slog.String("execution_id", e.ID.String()),
		slog.String("location", criteria.Location),
	)

	if _, err := eng.machine.Advance(ctx, e.ID, execution.EventCriteriaAccepted); err != nil {
		return nil, err
	}
	return eng.runExtraction(ctx, e.ID)
}

// Resume continues an execution from its persisted phase. It is safe to
// call on any execution; terminal ones are returned unchanged.
func (eng *Engine) Resume(ctx context.Context, execID id.ExecutionID) error {
	e, err := eng.machine.Get(ctx, execID)
	if err != nil {
		return err
	}

	switch e.Phase {
	case execution.PhaseSearchInitiation:
		if _, err := eng.machine.Advance(ctx, execID, execution.EventCriteriaAccepted); err != nil {
			return err
		}
		_, err := eng.runExtraction(ctx, execID)
		return err
	case execution.PhaseDataExtraction:
		_, err := eng.runExtraction(ctx, execID)
		return err
	case execution.PhaseHumanApproval:
		// Parked; re-notify and keep waiting.
		_, err := eng.gate.Present(ctx, execID)
		return err
	case execution.PhaseLocationAnalysis:
		return eng.continueFromAnalysis(ctx, execID)
	case execution.PhaseEngagementRouting:
		return eng.continueFromRouting(ctx, execID)
	case execution.PhaseInspectorCalls, execution.PhaseNegotiatorCalls:
		return eng.reconcileCalls(ctx, e)
	case execution.PhaseReportGeneration:
		_, err := eng.compiler.Compile(ctx, execID)
		return err
	default:
		return nil
	}
}

// PresentForApproval returns the execution parked at the approval gate
// and re-notifies the user.
func (eng *Engine) PresentForApproval(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	return eng.gate.Present(ctx, execID)
}

// SubmitApproval applies the decision set and, when anything was
// approved, drives the workflow through analysis and routing into the
// call phase.
func (eng *Engine) SubmitApproval(ctx context.Context, execID id.ExecutionID, decisions []execution.Decision) (*execution.Execution, error) {
	e, err := eng.gate.Submit(ctx, execID, decisions)
	if err != nil {
		return nil, err
	}
	if e.Phase == execution.PhaseTerminated {
		return e, nil
	}

	if err := eng.continueFromAnalysis(ctx, execID); err != nil {
		return nil, err
	}
	return eng.machine.Get(ctx, execID)
}

// Get loads an execution.
func (eng *Engine) Get(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	return eng.machine.Get(ctx, execID)
}

// Cancel terminates the execution and drops its queued calls.
func (eng *Engine) Cancel(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	e, err := eng.machine.Terminate(ctx, execID, execution.EventCancelled, execution.ReasonCancelled)
	if err != nil {
		return nil, err
	}
	if err := eng.store.PurgeCalls(ctx, execID); err != nil {
		// The dialer drops entries for terminated executions anyway.
		eng.logger.Warn("purging calls after cancel failed",
			slog.String("execution_id", execID.String()),
			slog.String("error", err.Error()),
		)
	}
	return e, nil
}

// Report returns the unified report of a delivered execution.
func (eng *Engine) Report(ctx context.Context, execID id.ExecutionID) (*execution.UnifiedReport, error) {
	e, err := eng.machine.Get(ctx, execID)
	if err != nil {
		return nil, err
	}
	if e.Phase != execution.PhaseReportDelivery {
		return nil, fmt.Errorf("%w: execution %s is in phase %s", canvass.ErrReportNotReady, execID, e.Phase)
	}
	return e.Report, nil
}

// Transitions returns the execution's committed transition log.
func (eng *Engine) Transitions(ctx context.Context, execID id.ExecutionID) ([]*audit.Transition, error) {
	return eng.store.ListTransitions(ctx, execID)
}

// Settle advances a calling execution whose approved chains are all
// terminal into report generation and compiles the report. Implements
// dial.Settler; also invoked by crash recovery.
func (eng *Engine) Settle(ctx context.Context, execID id.ExecutionID) error {
	e, err := eng.machine.Get(ctx, execID)
	if err != nil {
		return err
	}

	switch {
	case e.Phase.Calling():
		if _, err := eng.machine.Advance(ctx, execID, execution.EventCallsSettled); err != nil {
			// A concurrent settle may have advanced it already.
			if errors.Is(err, canvass.ErrInvalidTransition) {
				return nil
			}
			return err
		}
	case e.Phase == execution.PhaseReportGeneration:
	default:
		return nil
	}

	_, err = eng.compiler.Compile(ctx, execID)
	return err
}

// ──────────────────────────────────────────────────
// Pipeline steps
// ──────────────────────────────────────────────────

// runExtraction asks the extraction collaborator for listings and parks
// the execution at the approval gate. Per-record gaps are recorded on
// the execution; an empty result set still parks, leaving the decision
// to the user.
func (eng *Engine) runExtraction(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	e, err := eng.machine.Get(ctx, execID)
	if err != nil {
		return nil, err
	}

	records, err := eng.collab.Extractor.Extract(ctx, e.Criteria)
	if err != nil {
		// The execution stays in data extraction; Resume retries.
		return nil, fmt.Errorf("extracting properties: %w", err)
	}
	for i := range records {
		if records[i].ID.IsNil() {
			records[i].ID = id.NewPropertyID()
		}
	}

	e, err = eng.machine.Apply(ctx, execID, execution.EventPropertiesExtracted, func(e *execution.Execution) error {
		e.Properties = records
		for _, r := range records {
			for _, field := range r.Gaps {
				e.RecordGap("extraction", r.ID.String(), "missing "+field)
			}
		}
		if len(records) == 0 {
			e.RecordGap("extraction", "", "no properties matched criteria")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	eng.logger.Info("properties extracted",
		slog.String("execution_id", execID.String()),
		slog.Int("count", len(records)),
	)
	return eng.gate.Present(ctx, execID)
}

// continueFromAnalysis runs location analysis then routing.
func (eng *Engine) continueFromAnalysis(ctx context.Context, execID id.ExecutionID) error {
	if err := eng.runAnalysis(ctx, execID); err != nil {
		return err
	}
	return eng.continueFromRouting(ctx, execID)
}

// continueFromRouting resolves the call path and schedules the first
// attempts.
func (eng *Engine) continueFromRouting(ctx context.Context, execID id.ExecutionID) error {
	e, err := eng.runRouting(ctx, execID)
	if err != nil {
		return err
	}
	return eng.scheduleFirstCalls(ctx, e)
}

// runAnalysis gathers location intelligence for the approved properties
// in parallel. Analyzer failures become partial results and gaps, never
// a stalled execution.
func (eng *Engine) runAnalysis(ctx context.Context, execID id.ExecutionID) error {
	e, err := eng.machine.Get(ctx, execID)
	if err != nil {
		return err
	}

	approved := e.ApprovedProperties()
	results := make(map[string]*execution.LocationIntelligence, len(approved))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(analysisConcurrency)
	for _, prop := range approved {
		g.Go(func() error {
			intel, aErr := eng.collab.Analyzer.AnalyzeLocation(gctx, prop.Address)
			if aErr != nil {
				eng.logger.Warn("location analysis failed",
					slog.String("execution_id", execID.String()),
					slog.String("property_id", prop.ID.String()),
					slog.String("error", aErr.Error()),
				)
				intel = &execution.LocationIntelligence{Partial: true, PartialReason: aErr.Error()}
			}
			mu.Lock()
			results[prop.ID.String()] = intel
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; Wait orders the map writes.
	_ = g.Wait()

	_, err = eng.machine.Apply(ctx, execID, execution.EventAnalysisCompleted, func(e *execution.Execution) error {
		e.Locations = results
		for pid, intel := range results {
			if intel.Partial {
				e.RecordGap("location_analysis", pid, intel.PartialReason)
			}
		}
		return nil
	})
	return err
}

// runRouting maps the recorded intent onto one of the two call phases.
func (eng *Engine) runRouting(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	e, err := eng.machine.Get(ctx, execID)
	if err != nil {
		return nil, err
	}
	event, err := route.Select(e.Intent)
	if err != nil {
		return nil, err
	}
	return eng.machine.Apply(ctx, execID, event, nil)
}

// scheduleFirstCalls queues attempt 1 for every approved property that
// has no chain yet. First attempts dial immediately; only retries wait
// out the backoff window.
func (eng *Engine) scheduleFirstCalls(ctx context.Context, e *execution.Execution) error {
	now := time.Now().UTC()

	var toSchedule []string
	e, err := eng.machine.Mutate(ctx, e.ID, func(e *execution.Execution) error {
		toSchedule = toSchedule[:0]
		for _, pid := range e.ApprovedIDs {
			if len(e.Calls[pid]) > 0 {
				continue
			}
			e.AppendAttempt(pid, execution.CallAttempt{
				Number:      1,
				Status:      execution.CallPending,
				ScheduledAt: now,
			})
			toSchedule = append(toSchedule, pid)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, pid := range toSchedule {
		if err := eng.store.ScheduleCall(ctx, dial.NewCall(e.ID, pid, 1, now)); err != nil {
			return fmt.Errorf("scheduling first call for %s: %w", pid, err)
		}
		eng.extensions.EmitCallScheduled(ctx, e, pid, 1, now)
	}

	eng.logger.Info("first calls scheduled",
		slog.String("execution_id", e.ID.String()),
		slog.Int("count", len(toSchedule)),
	)
	return nil
}

// reconcileCalls repairs a calling execution after a restart: settled
// chains settle, pending attempts are re-queued (scheduling is an
// upsert, so re-queueing an entry that survived the crash is harmless).
// In-flight attempts are the janitor's job.
func (eng *Engine) reconcileCalls(ctx context.Context, e *execution.Execution) error {
	if e.CallsSettled() {
		return eng.Settle(ctx, e.ID)
	}

	for _, pid := range e.ApprovedIDs {
		last := e.LastAttempt(pid)
		if last == nil || last.Status != execution.CallPending {
			continue
		}
		if err := eng.store.ScheduleCall(ctx, dial.NewCall(e.ID, pid, last.Number, last.ScheduledAt)); err != nil {
			return fmt.Errorf("requeueing %s attempt %d: %w", pid, last.Number, err)
		}
	}
	return nil
}
