package dial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/canvasshq/canvass"
	"github.com/canvasshq/canvass/backoff"
	"github.com/canvasshq/canvass/collab"
	"github.com/canvasshq/canvass/execution"
	"github.com/canvasshq/canvass/ext"
	"github.com/canvasshq/canvass/flow"
	"github.com/canvasshq/canvass/id"
	"github.com/canvasshq/canvass/middleware"
	"github.com/canvasshq/canvass/route"
)

// Settler is notified when an execution's approved properties all hold
// terminal attempt chains. The implementation advances the workflow
// and compiles the report; it lives above this package.
type Settler interface {
	Settle(ctx context.Context, execID id.ExecutionID) error
}

// Dialer executes a single queue entry: it marks the attempt in
// flight, places the call through middleware, then settles the outcome
// — success, a rescheduled retry, or exhaustion.
type Dialer struct {
	machine     *flow.Machine
	caller      collab.Caller
	queue       Store
	extensions  *ext.Registry
	backoff     backoff.Strategy
	mw          middleware.Middleware
	settler     Settler
	logger      *slog.Logger
	maxAttempts int
	dialTimeout time.Duration
}

// NewDialer creates a Dialer with the given dependencies.
func NewDialer(
	machine *flow.Machine,
	caller collab.Caller,
	queue Store,
	extensions *ext.Registry,
	bo backoff.Strategy,
	settler Settler,
	logger *slog.Logger,
	cfg canvass.Config,
	mws ...middleware.Middleware,
) *Dialer {
	return &Dialer{
		machine:     machine,
		caller:      caller,
		queue:       queue,
		extensions:  extensions,
		backoff:     bo,
		mw:          middleware.Chain(mws...),
		settler:     settler,
		logger:      logger,
		maxAttempts: cfg.MaxCallAttempts,
		dialTimeout: cfg.DialTimeout,
	}
}

// Execute processes one claimed queue entry. A nil return means the
// entry is fully handled (including the drop cases); an error means
// the entry state is unchanged and the caller may requeue it.
func (d *Dialer) Execute(ctx context.Context, c *Call) error {
	e, err := d.machine.Get(ctx, c.ExecutionID)
	if err != nil {
		if errors.Is(err, canvass.ErrExecutionNotFound) {
			d.logger.Warn("dropping call for unknown execution",
				slog.String("execution_id", c.ExecutionID.String()),
				slog.String("property_id", c.PropertyID),
			)
			return nil
		}
		return err
	}

	// Stale entries for executions that moved on (cancelled, settled
	// by another path) are dropped, never dialed.
	if !e.Phase.Calling() {
		d.logger.Info("dropping call for non-calling execution",
			slog.String("execution_id", e.ID.String()),
			slog.String("phase", string(e.Phase)),
			slog.String("property_id", c.PropertyID),
		)
		return nil
	}

	attempt := e.AttemptByNumber(c.PropertyID, c.Number)
	if attempt == nil {
		d.logger.Warn("dropping call with no matching attempt",
			slog.String("execution_id", e.ID.String()),
			slog.String("property_id", c.PropertyID),
			slog.Int("number", c.Number),
		)
		return nil
	}
	if attempt.Status.Terminal() {
		return nil
	}

	prop, ok := e.PropertyByID(c.PropertyID)
	if !ok {
		d.logger.Warn("dropping call for unknown property",
			slog.String("execution_id", e.ID.String()),
			slog.String("property_id", c.PropertyID),
		)
		return nil
	}
	if prop.ContactPhone == nil || *prop.ContactPhone == "" {
		return d.exhaust(ctx, e.ID, c, "missing_contact_phone", true)
	}

	// Mark in flight before dialing so a crash mid-call is visible to
	// the janitor.
	e, err = d.machine.Mutate(ctx, e.ID, func(e *execution.Execution) error {
		a := e.AttemptByNumber(c.PropertyID, c.Number)
		if a == nil {
			return fmt.Errorf("attempt %d vanished for %s", c.Number, c.PropertyID)
		}
		now := time.Now().UTC()
		a.Status = execution.CallInFlight
		a.StartedAt = &now
		return nil
	})
	if err != nil {
		return err
	}
	d.extensions.EmitCallStarted(ctx, e, c.PropertyID, c.Number)

	dial := &middleware.Dial{
		ExecutionID: e.ID.String(),
		PropertyID:  c.PropertyID,
		Attempt:     c.Number,
		Timeout:     d.dialTimeout,
		Request: collab.CallRequest{
			Phone:      *prop.ContactPhone,
			PropertyID: c.PropertyID,
			Address:    prop.Address,
			Price:      prop.Price,
			Questions:  e.Questions[c.PropertyID],
			Mode:       route.Mode(e.Intent),
		},
	}

	start := time.Now()
	res, callErr := d.mw(ctx, dial, func(ctx context.Context) (*execution.CallResult, error) {
		return d.caller.PlaceCall(ctx, dial.Request)
	})
	elapsed := time.Since(start)

	if callErr != nil {
		return d.handleFailure(ctx, e.ID, c, callErr)
	}
	return d.handleSuccess(ctx, e.ID, c, res, elapsed)
}

// handleSuccess marks the attempt succeeded and checks settlement.
func (d *Dialer) handleSuccess(ctx context.Context, execID id.ExecutionID, c *Call, res *execution.CallResult, elapsed time.Duration) error {
	e, err := d.machine.Mutate(ctx, execID, func(e *execution.Execution) error {
		a := e.AttemptByNumber(c.PropertyID, c.Number)
		if a == nil {
			return fmt.Errorf("attempt %d vanished for %s", c.Number, c.PropertyID)
		}
		now := time.Now().UTC()
		a.Status = execution.CallSucceeded
		a.CompletedAt = &now
		a.Result = res
		return nil
	})
	if err != nil {
		return err
	}
	d.extensions.EmitCallSucceeded(ctx, e, c.PropertyID, c.Number, elapsed)

	return d.maybeSettle(ctx, e)
}

// handleFailure reschedules a retry under the attempt cap or ends the
// chain. Errors that are not connection failures still end the chain:
// redialing a call the provider refused outright will not go better
// the second time.
func (d *Dialer) handleFailure(ctx context.Context, execID id.ExecutionID, c *Call, callErr error) error {
	reason := collab.FailureReason(callErr)

	if !collab.IsConnectionFailure(callErr) {
		d.logger.Warn("call failed without connecting",
			slog.String("execution_id", execID.String()),
			slog.String("property_id", c.PropertyID),
			slog.String("error", callErr.Error()),
		)
		return d.exhaust(ctx, execID, c, reason, false)
	}

	if c.Number >= d.maxAttempts {
		return d.exhaust(ctx, execID, c, reason, false)
	}

	delay := d.backoff.Delay(c.Number)
	nextAt := time.Now().UTC().Add(delay)

	e, err := d.machine.Mutate(ctx, execID, func(e *execution.Execution) error {
		a := e.AttemptByNumber(c.PropertyID, c.Number)
		if a == nil {
			return fmt.Errorf("attempt %d vanished for %s", c.Number, c.PropertyID)
		}
		now := time.Now().UTC()
		a.Status = execution.CallConnectionFailed
		a.CompletedAt = &now
		a.FailureReason = reason
		e.AppendAttempt(c.PropertyID, execution.CallAttempt{
			Number:      c.Number + 1,
			Status:      execution.CallPending,
			ScheduledAt: nextAt,
		})
		return nil
	})
	if err != nil {
		return err
	}

	if err := d.queue.ScheduleCall(ctx, NewCall(execID, c.PropertyID, c.Number+1, nextAt)); err != nil {
		return fmt.Errorf("scheduling retry: %w", err)
	}

	d.extensions.EmitCallRetrying(ctx, e, c.PropertyID, c.Number, nextAt)
	d.extensions.EmitCallScheduled(ctx, e, c.PropertyID, c.Number+1, nextAt)

	d.logger.Info("call scheduled for retry",
		slog.String("execution_id", execID.String()),
		slog.String("property_id", c.PropertyID),
		slog.Int("attempt", c.Number),
		slog.Int("max_attempts", d.maxAttempts),
		slog.Duration("delay", delay),
	)
	return nil
}

// exhaust ends a property's chain and checks settlement.
func (d *Dialer) exhaust(ctx context.Context, execID id.ExecutionID, c *Call, reason string, recordGap bool) error {
	e, err := d.machine.Mutate(ctx, execID, func(e *execution.Execution) error {
		a := e.AttemptByNumber(c.PropertyID, c.Number)
		if a == nil {
			return fmt.Errorf("attempt %d vanished for %s", c.Number, c.PropertyID)
		}
		now := time.Now().UTC()
		a.Status = execution.CallExhaustedRetries
		a.CompletedAt = &now
		a.FailureReason = reason
		if recordGap {
			e.RecordGap("dialing", c.PropertyID, reason)
		}
		return nil
	})
	if err != nil {
		return err
	}
	d.extensions.EmitCallExhausted(ctx, e, c.PropertyID, c.Number)

	d.logger.Warn("call chain exhausted",
		slog.String("execution_id", execID.String()),
		slog.String("property_id", c.PropertyID),
		slog.Int("attempts", c.Number),
		slog.String("reason", reason),
	)
	return d.maybeSettle(ctx, e)
}

// maybeSettle hands the execution to the settler once every approved
// property's chain is terminal. Settlement failures are logged, not
// returned: the entry is already handled, and crash recovery re-checks
// settlement on resume.
func (d *Dialer) maybeSettle(ctx context.Context, e *execution.Execution) error {
	if !e.CallsSettled() || d.settler == nil {
		return nil
	}
	if err := d.settler.Settle(ctx, e.ID); err != nil {
		d.logger.Error("settlement failed",
			slog.String("execution_id", e.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
