// Package sweep runs the janitor: a cron-scheduled background pass
// that reaps expired dial leases and requeues call attempts stranded
// in flight by a crashed worker.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/canvasshq/canvass/dial"
	"github.com/canvasshq/canvass/execution"
	"github.com/canvasshq/canvass/flow"
)

// cronParser supports standard 5-field cron and descriptors like "@every 1m".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Result summarizes one janitor pass.
type Result struct {
	LeasesReaped    int
	AttemptsRescued int
}

// Janitor periodically repairs dial-queue state.
type Janitor struct {
	machine        *flow.Machine
	queue          dial.Store
	schedule       string
	staleThreshold time.Duration
	logger         *slog.Logger

	cron *cronlib.Cron
}

// NewJanitor creates a Janitor sweeping on the given cron schedule.
func NewJanitor(machine *flow.Machine, queue dial.Store, schedule string, staleThreshold time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{
		machine:        machine,
		queue:          queue,
		schedule:       schedule,
		staleThreshold: staleThreshold,
		logger:         logger,
	}
}

// Start begins the sweep schedule. It returns immediately.
func (j *Janitor) Start(_ context.Context) error {
	if j.cron != nil {
		return nil
	}
	c := cronlib.New(cronlib.WithParser(cronParser))
	if _, err := c.AddFunc(j.schedule, func() {
		res, err := j.Sweep(context.Background())
		if err != nil {
			j.logger.Error("sweep failed", slog.String("error", err.Error()))
			return
		}
		if res.LeasesReaped > 0 || res.AttemptsRescued > 0 {
			j.logger.Info("sweep completed",
				slog.Int("leases_reaped", res.LeasesReaped),
				slog.Int("attempts_rescued", res.AttemptsRescued),
			)
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", j.schedule, err)
	}
	j.cron = c
	c.Start()
	j.logger.Info("janitor started", slog.String("schedule", j.schedule))
	return nil
}

// Stop halts the schedule, waiting for a running sweep to finish or
// the context to expire.
func (j *Janitor) Stop(ctx context.Context) error {
	if j.cron == nil {
		return nil
	}
	stopCtx := j.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		j.logger.Warn("janitor shutdown timed out")
	}
	j.cron = nil
	return nil
}

// Sweep runs one janitor pass: expired leases are reaped, and
// in-flight attempts whose worker went quiet past the stale threshold
// are reset to pending and requeued for an immediate redial.
func (j *Janitor) Sweep(ctx context.Context) (Result, error) {
	var res Result

	reaped, err := j.queue.ReapExpiredLeases(ctx)
	if err != nil {
		return res, fmt.Errorf("reaping leases: %w", err)
	}
	res.LeasesReaped = reaped

	calling, err := j.machine.Store().ListExecutionsByPhase(ctx, execution.PhaseInspectorCalls, execution.PhaseNegotiatorCalls)
	if err != nil {
		return res, fmt.Errorf("listing calling executions: %w", err)
	}

	cutoff := time.Now().UTC().Add(-j.staleThreshold)
	for _, e := range calling {
		rescued, err := j.rescueStale(ctx, e, cutoff)
		if err != nil {
			// Keep sweeping the rest; the next pass retries this one.
			j.logger.Warn("stale rescue failed",
				slog.String("execution_id", e.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.AttemptsRescued += rescued
	}
	return res, nil
}

// rescueStale resets this execution's stale in-flight attempts and
// requeues them.
func (j *Janitor) rescueStale(ctx context.Context, e *execution.Execution, cutoff time.Time) (int, error) {
	type stale struct {
		propertyID string
		number     int
	}
	var found []stale
	for _, pid := range e.ApprovedIDs {
		last := e.LastAttempt(pid)
		if last == nil || last.Status != execution.CallInFlight {
			continue
		}
		if last.StartedAt == nil || last.StartedAt.Before(cutoff) {
			found = append(found, stale{propertyID: pid, number: last.Number})
		}
	}
	if len(found) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	_, err := j.machine.Mutate(ctx, e.ID, func(e *execution.Execution) error {
		for _, s := range found {
			a := e.AttemptByNumber(s.propertyID, s.number)
			// Re-check against fresh state: the worker may have finished
			// between the list and this commit.
			if a == nil || a.Status != execution.CallInFlight {
				continue
			}
			a.Status = execution.CallPending
			a.StartedAt = nil
			a.ScheduledAt = now
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	rescued := 0
	for _, s := range found {
		if err := j.queue.ScheduleCall(ctx, dial.NewCall(e.ID, s.propertyID, s.number, now)); err != nil {
			return rescued, fmt.Errorf("requeueing %s attempt %d: %w", s.propertyID, s.number, err)
		}
		rescued++
		j.logger.Info("rescued stale call",
			slog.String("execution_id", e.ID.String()),
			slog.String("property_id", s.propertyID),
			slog.Int("number", s.number),
		)
	}
	return rescued, nil
}
