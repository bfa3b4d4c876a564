package dial_test

import (
	"context"
	"testing"
	"time"

	"github.com/canvasshq/canvass/dial"
	"github.com/canvasshq/canvass/execution"
	"github.com/canvasshq/canvass/throttle"
)

func TestProcessDue_DialsDueEntries(t *testing.T) {
	t.Parallel()

	caller := &scriptedCaller{}
	f := newFixture(t, caller)

	c := dial.NewCall(f.exec.ID, f.pid, 1, time.Now().UTC().Add(-time.Minute))
	if err := f.store.ScheduleCall(context.Background(), c); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	s := dial.NewScheduler(f.store, f.dialer, testLogger())
	n, err := s.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if n != 1 {
		t.Errorf("processed = %d, want 1", n)
	}
	if caller.dials != 1 {
		t.Errorf("dials = %d, want 1", caller.dials)
	}

	stored, _ := f.machine.Get(context.Background(), f.exec.ID)
	if a := stored.AttemptByNumber(f.pid, 1); a.Status != execution.CallSucceeded {
		t.Errorf("attempt = %+v", a)
	}
}

func TestProcessDue_SkipsFutureEntries(t *testing.T) {
	t.Parallel()

	caller := &scriptedCaller{}
	f := newFixture(t, caller)

	c := dial.NewCall(f.exec.ID, f.pid, 1, time.Now().UTC().Add(time.Hour))
	if err := f.store.ScheduleCall(context.Background(), c); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	s := dial.NewScheduler(f.store, f.dialer, testLogger())
	n, err := s.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if n != 0 || caller.dials != 0 {
		t.Errorf("processed = %d, dials = %d; want 0, 0", n, caller.dials)
	}
}

func TestProcessDue_HeldLeaseRequeuesWithoutDialing(t *testing.T) {
	t.Parallel()

	caller := &scriptedCaller{}
	f := newFixture(t, caller)
	ctx := context.Background()

	c := dial.NewCall(f.exec.ID, f.pid, 1, time.Now().UTC().Add(-time.Minute))
	if err := f.store.ScheduleCall(ctx, c); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	// Another worker already holds the property.
	if _, err := f.store.AcquireLease(ctx, c.LeaseKey(), "wkr_other", time.Minute); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	s := dial.NewScheduler(f.store, f.dialer, testLogger())
	n, err := s.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if n != 0 || caller.dials != 0 {
		t.Errorf("processed = %d, dials = %d; want 0, 0", n, caller.dials)
	}

	// The entry went back on the queue with a short delay.
	stored, _ := f.machine.Get(ctx, f.exec.ID)
	if a := stored.AttemptByNumber(f.pid, 1); a.Status != execution.CallPending {
		t.Errorf("attempt = %+v, want still pending", a)
	}
}

func TestProcessDue_ThrottledRequeues(t *testing.T) {
	t.Parallel()

	caller := &scriptedCaller{}
	f := newFixture(t, caller)
	ctx := context.Background()

	c := dial.NewCall(f.exec.ID, f.pid, 1, time.Now().UTC().Add(-time.Minute))
	if err := f.store.ScheduleCall(ctx, c); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// A throttle with no capacity at all.
	th := throttle.NewManager(throttle.Config{MaxConcurrent: 1})
	if !th.Acquire("someone_else") {
		t.Fatal("setup acquire failed")
	}

	s := dial.NewScheduler(f.store, f.dialer, testLogger(), dial.WithThrottle(th))
	n, err := s.ProcessDue(ctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if n != 0 || caller.dials != 0 {
		t.Errorf("processed = %d, dials = %d; want 0, 0", n, caller.dials)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	t.Parallel()

	caller := &scriptedCaller{}
	f := newFixture(t, caller)

	s := dial.NewScheduler(f.store, f.dialer, testLogger(),
		dial.WithConcurrency(2),
		dial.WithPollInterval(10*time.Millisecond),
		dial.WithLeaseTTL(time.Minute),
	)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Starting twice is a no-op.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	// Stopping twice is a no-op.
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("re-stop: %v", err)
	}
}
