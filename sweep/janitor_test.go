package sweep_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/canvasshq/canvass/execution"
	"github.com/canvasshq/canvass/flow"
	"github.com/canvasshq/canvass/id"
	"github.com/canvasshq/canvass/store/memory"
	"github.com/canvasshq/canvass/sweep"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestSweep_ReapsExpiredLeases(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()
	if _, err := s.AcquireLease(ctx, "dead", "wkr_1", -time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	j := sweep.NewJanitor(flow.NewMachine(s, flow.WithLogger(testLogger())), s, "@every 1m", 15*time.Minute, testLogger())
	res, err := j.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.LeasesReaped != 1 {
		t.Errorf("LeasesReaped = %d, want 1", res.LeasesReaped)
	}
}

func TestSweep_RescuesStaleInFlightAttempts(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	e := execution.New(execution.SearchCriteria{Location: "Lagos"})
	e.Phase = execution.PhaseInspectorCalls
	e.Properties = []execution.PropertyRecord{{ID: id.NewPropertyID(), Address: "12 Marina Rd"}}
	pid := e.Properties[0].ID.String()
	e.ApprovedIDs = []string{pid}

	staleStart := time.Now().UTC().Add(-time.Hour)
	e.AppendAttempt(pid, execution.CallAttempt{
		Number:      1,
		Status:      execution.CallInFlight,
		ScheduledAt: staleStart,
		StartedAt:   &staleStart,
	})
	if err := s.CreateExecution(ctx, e); err != nil {
		t.Fatalf("create: %v", err)
	}

	m := flow.NewMachine(s, flow.WithLogger(testLogger()))
	j := sweep.NewJanitor(m, s, "@every 1m", 15*time.Minute, testLogger())

	res, err := j.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.AttemptsRescued != 1 {
		t.Fatalf("AttemptsRescued = %d, want 1", res.AttemptsRescued)
	}

	stored, err := m.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	a := stored.AttemptByNumber(pid, 1)
	if a == nil || a.Status != execution.CallPending || a.StartedAt != nil {
		t.Errorf("attempt after rescue = %+v", a)
	}

	calls, err := s.DequeueDueCalls(ctx, 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(calls) != 1 || calls[0].PropertyID != pid || calls[0].Number != 1 {
		t.Errorf("requeued calls = %+v", calls)
	}
}

func TestSweep_LeavesFreshInFlightAlone(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()

	e := execution.New(execution.SearchCriteria{Location: "Lagos"})
	e.Phase = execution.PhaseNegotiatorCalls
	e.Properties = []execution.PropertyRecord{{ID: id.NewPropertyID(), Address: "4 Bourdillon Ct"}}
	pid := e.Properties[0].ID.String()
	e.ApprovedIDs = []string{pid}

	justStarted := time.Now().UTC().Add(-time.Minute)
	e.AppendAttempt(pid, execution.CallAttempt{
		Number:      1,
		Status:      execution.CallInFlight,
		ScheduledAt: justStarted,
		StartedAt:   &justStarted,
	})
	if err := s.CreateExecution(ctx, e); err != nil {
		t.Fatalf("create: %v", err)
	}

	m := flow.NewMachine(s, flow.WithLogger(testLogger()))
	j := sweep.NewJanitor(m, s, "@every 1m", 15*time.Minute, testLogger())

	res, err := j.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.AttemptsRescued != 0 {
		t.Errorf("AttemptsRescued = %d, want 0", res.AttemptsRescued)
	}

	stored, _ := m.Get(ctx, e.ID)
	if a := stored.AttemptByNumber(pid, 1); a.Status != execution.CallInFlight {
		t.Errorf("fresh attempt disturbed: %+v", a)
	}
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	t.Parallel()

	s := memory.New()
	j := sweep.NewJanitor(flow.NewMachine(s, flow.WithLogger(testLogger())), s, "not a schedule", time.Minute, testLogger())
	if err := j.Start(context.Background()); err == nil {
		t.Error("Start accepted an invalid schedule")
		_ = j.Stop(context.Background())
	}
}
