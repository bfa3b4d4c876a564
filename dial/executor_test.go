package dial_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/canvasshq/canvass"
	"github.com/canvasshq/canvass/backoff"
	"github.com/canvasshq/canvass/collab"
	"github.com/canvasshq/canvass/dial"
	"github.com/canvasshq/canvass/execution"
	"github.com/canvasshq/canvass/ext"
	"github.com/canvasshq/canvass/flow"
	"github.com/canvasshq/canvass/id"
	"github.com/canvasshq/canvass/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// scriptedCaller returns canned outcomes in order, one per dial.
type scriptedCaller struct {
	outcomes []error
	results  []*execution.CallResult
	dials    int
	requests []collab.CallRequest
}

func (c *scriptedCaller) PlaceCall(_ context.Context, req collab.CallRequest) (*execution.CallResult, error) {
	i := c.dials
	c.dials++
	c.requests = append(c.requests, req)
	if i < len(c.outcomes) && c.outcomes[i] != nil {
		return nil, c.outcomes[i]
	}
	if i < len(c.results) && c.results[i] != nil {
		return c.results[i], nil
	}
	return &execution.CallResult{Outcome: "booked", BookingConfirmed: true}, nil
}

type recordingSettler struct {
	settled []id.ExecutionID
}

func (s *recordingSettler) Settle(_ context.Context, execID id.ExecutionID) error {
	s.settled = append(s.settled, execID)
	return nil
}

type fixture struct {
	store   *memory.Store
	machine *flow.Machine
	caller  *scriptedCaller
	settler *recordingSettler
	dialer  *dial.Dialer
	exec    *execution.Execution
	pid     string
}

// newFixture stores an execution in inspector calls with one approved
// property, its first attempt pending and due, and the matching queue
// entry claimed (as the scheduler would before calling Execute).
func newFixture(t *testing.T, caller *scriptedCaller) *fixture {
	t.Helper()

	s := memory.New()
	m := flow.NewMachine(s, flow.WithLogger(testLogger()))

	phone := "+2348000000000"
	price := 1_500_000.0
	e := execution.New(execution.SearchCriteria{Location: "Lagos"})
	e.Phase = execution.PhaseInspectorCalls
	e.Intent = execution.IntentInspector
	e.Properties = []execution.PropertyRecord{{
		ID:           id.NewPropertyID(),
		Address:      "12 Marina Rd",
		Price:        &price,
		ContactPhone: &phone,
	}}
	pid := e.Properties[0].ID.String()
	e.ApprovedIDs = []string{pid}
	e.Questions = map[string][]string{pid: {"Is parking included?"}}
	e.AppendAttempt(pid, execution.CallAttempt{
		Number:      1,
		Status:      execution.CallPending,
		ScheduledAt: time.Now().UTC().Add(-time.Minute),
	})
	if err := s.CreateExecution(context.Background(), e); err != nil {
		t.Fatalf("create: %v", err)
	}

	settler := &recordingSettler{}
	cfg := canvass.DefaultConfig()
	dialer := dial.NewDialer(
		m, caller, s,
		ext.NewRegistry(testLogger()),
		backoff.NewConstant(2*time.Hour),
		settler,
		testLogger(),
		cfg,
	)
	return &fixture{store: s, machine: m, caller: caller, settler: settler, dialer: dialer, exec: e, pid: pid}
}

func TestExecute_SuccessSettles(t *testing.T) {
	t.Parallel()

	caller := &scriptedCaller{}
	f := newFixture(t, caller)

	c := dial.NewCall(f.exec.ID, f.pid, 1, time.Now().UTC())
	if err := f.dialer.Execute(context.Background(), c); err != nil {
		t.Fatalf("execute: %v", err)
	}

	stored, _ := f.machine.Get(context.Background(), f.exec.ID)
	a := stored.AttemptByNumber(f.pid, 1)
	if a.Status != execution.CallSucceeded || a.Result == nil || !a.Result.BookingConfirmed {
		t.Errorf("attempt = %+v", a)
	}
	if a.StartedAt == nil || a.CompletedAt == nil {
		t.Error("attempt timestamps missing")
	}

	if len(f.settler.settled) != 1 || f.settler.settled[0] != f.exec.ID {
		t.Errorf("settler calls = %v", f.settler.settled)
	}

	// The call script carried the property context.
	req := f.caller.requests[0]
	if req.Phone != "+2348000000000" || req.Mode != collab.ModeInspection || len(req.Questions) != 1 {
		t.Errorf("request = %+v", req)
	}
}

func TestExecute_ConnectionFailureSchedulesRetry(t *testing.T) {
	t.Parallel()

	caller := &scriptedCaller{outcomes: []error{&collab.ConnectionError{Reason: "no_answer"}}}
	f := newFixture(t, caller)

	before := time.Now().UTC()
	c := dial.NewCall(f.exec.ID, f.pid, 1, before)
	if err := f.dialer.Execute(context.Background(), c); err != nil {
		t.Fatalf("execute: %v", err)
	}

	stored, _ := f.machine.Get(context.Background(), f.exec.ID)
	first := stored.AttemptByNumber(f.pid, 1)
	if first.Status != execution.CallConnectionFailed || first.FailureReason != "no_answer" {
		t.Errorf("first attempt = %+v", first)
	}
	second := stored.AttemptByNumber(f.pid, 2)
	if second == nil || second.Status != execution.CallPending {
		t.Fatalf("second attempt = %+v", second)
	}

	wantAt := before.Add(2 * time.Hour)
	if second.ScheduledAt.Before(wantAt.Add(-time.Minute)) || second.ScheduledAt.After(wantAt.Add(time.Minute)) {
		t.Errorf("retry at %v, want ~%v", second.ScheduledAt, wantAt)
	}

	if len(f.settler.settled) != 0 {
		t.Error("settled with a retry outstanding")
	}
}

func TestExecute_ExhaustsAtAttemptCap(t *testing.T) {
	t.Parallel()

	caller := &scriptedCaller{outcomes: []error{&collab.ConnectionError{Reason: "busy"}}}
	f := newFixture(t, caller)

	// Walk the chain to the cap (DefaultConfig allows 3 attempts).
	now := time.Now().UTC()
	_, err := f.machine.Mutate(context.Background(), f.exec.ID, func(e *execution.Execution) error {
		e.Calls[f.pid][0].Status = execution.CallConnectionFailed
		e.AppendAttempt(f.pid, execution.CallAttempt{Number: 2, Status: execution.CallConnectionFailed, ScheduledAt: now})
		e.AppendAttempt(f.pid, execution.CallAttempt{Number: 3, Status: execution.CallPending, ScheduledAt: now})
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}

	c := dial.NewCall(f.exec.ID, f.pid, 3, now)
	if err := f.dialer.Execute(context.Background(), c); err != nil {
		t.Fatalf("execute: %v", err)
	}

	stored, _ := f.machine.Get(context.Background(), f.exec.ID)
	last := stored.AttemptByNumber(f.pid, 3)
	if last.Status != execution.CallExhaustedRetries || last.FailureReason != "busy" {
		t.Errorf("capped attempt = %+v", last)
	}
	if len(stored.Calls[f.pid]) != 3 {
		t.Errorf("chain length = %d, want 3 (no attempt past the cap)", len(stored.Calls[f.pid]))
	}

	if len(f.settler.settled) != 1 {
		t.Errorf("settler calls = %v (exhausted chain must settle)", f.settler.settled)
	}
}

func TestExecute_MissingPhoneExhaustsWithGap(t *testing.T) {
	t.Parallel()

	caller := &scriptedCaller{}
	f := newFixture(t, caller)

	_, err := f.machine.Mutate(context.Background(), f.exec.ID, func(e *execution.Execution) error {
		e.Properties[0].ContactPhone = nil
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}

	c := dial.NewCall(f.exec.ID, f.pid, 1, time.Now().UTC())
	if err := f.dialer.Execute(context.Background(), c); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if caller.dials != 0 {
		t.Errorf("dials = %d, want 0", caller.dials)
	}
	stored, _ := f.machine.Get(context.Background(), f.exec.ID)
	a := stored.AttemptByNumber(f.pid, 1)
	if a.Status != execution.CallExhaustedRetries || a.FailureReason != "missing_contact_phone" {
		t.Errorf("attempt = %+v", a)
	}
	if len(stored.Gaps) != 1 || stored.Gaps[0].Stage != "dialing" {
		t.Errorf("gaps = %+v", stored.Gaps)
	}
}

func TestExecute_DropsEntryForNonCallingExecution(t *testing.T) {
	t.Parallel()

	caller := &scriptedCaller{}
	f := newFixture(t, caller)

	if _, err := f.machine.Terminate(context.Background(), f.exec.ID, execution.EventCancelled, execution.ReasonCancelled); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	c := dial.NewCall(f.exec.ID, f.pid, 1, time.Now().UTC())
	if err := f.dialer.Execute(context.Background(), c); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if caller.dials != 0 {
		t.Errorf("dials = %d, want 0 for terminated execution", caller.dials)
	}
}

func TestExecute_DropsEntryForUnknownExecution(t *testing.T) {
	t.Parallel()

	caller := &scriptedCaller{}
	f := newFixture(t, caller)

	c := dial.NewCall(id.NewExecutionID(), "prop_ghost", 1, time.Now().UTC())
	if err := f.dialer.Execute(context.Background(), c); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if caller.dials != 0 {
		t.Errorf("dials = %d, want 0", caller.dials)
	}
}

func TestExecute_NonConnectionErrorEndsChain(t *testing.T) {
	t.Parallel()

	caller := &scriptedCaller{outcomes: []error{errors.New("script rejected by provider")}}
	f := newFixture(t, caller)

	c := dial.NewCall(f.exec.ID, f.pid, 1, time.Now().UTC())
	if err := f.dialer.Execute(context.Background(), c); err != nil {
		t.Fatalf("execute: %v", err)
	}

	stored, _ := f.machine.Get(context.Background(), f.exec.ID)
	a := stored.AttemptByNumber(f.pid, 1)
	if a.Status != execution.CallExhaustedRetries {
		t.Errorf("attempt = %+v, want exhausted (no retry for non-connection errors)", a)
	}
	if stored.AttemptByNumber(f.pid, 2) != nil {
		t.Error("retry scheduled for a non-connection error")
	}
}
