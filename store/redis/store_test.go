//go:build integration

package redis_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	redismodule "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/canvasshq/canvass"
	"github.com/canvasshq/canvass/audit"
	"github.com/canvasshq/canvass/dial"
	"github.com/canvasshq/canvass/execution"
	"github.com/canvasshq/canvass/id"
	"github.com/canvasshq/canvass/store/redis"
)

// setupTestStore starts a Redis container and returns a connected Store.
func setupTestStore(t *testing.T) *redis.Store {
	t.Helper()

	ctx := context.Background()

	container, err := redismodule.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	opts, err := goredis.ParseURL(connStr)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := goredis.NewClient(opts)
	t.Cleanup(func() {
		_ = client.Close()
	})

	return redis.New(client, redis.WithLogger(slog.Default()))
}

func TestStore_Ping(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestExecutionStore_CreateAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	e := execution.New(execution.SearchCriteria{Location: "Gbagada"})
	if err := s.CreateExecution(ctx, e); err != nil {
		t.Fatalf("create: %v", err)
	}
	if dupErr := s.CreateExecution(ctx, e); !errors.Is(dupErr, canvass.ErrExecutionExists) {
		t.Fatalf("expected ErrExecutionExists, got: %v", dupErr)
	}

	got, err := s.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Criteria.Location != "Gbagada" {
		t.Fatalf("location = %q", got.Criteria.Location)
	}

	if _, err := s.GetExecution(ctx, id.NewExecutionID()); !errors.Is(err, canvass.ErrExecutionNotFound) {
		t.Fatalf("expected ErrExecutionNotFound, got: %v", err)
	}
}

func TestExecutionStore_CompareAndSwap(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	e := execution.New(execution.SearchCriteria{Location: "Gbagada"})
	if err := s.CreateExecution(ctx, e); err != nil {
		t.Fatalf("create: %v", err)
	}

	e.Phase = execution.PhaseDataExtraction
	if err := s.CompareAndSwapExecution(ctx, e, 1); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if e.Version != 2 {
		t.Fatalf("version = %d, want 2", e.Version)
	}

	stale := execution.New(execution.SearchCriteria{Location: "Gbagada"})
	stale.ID = e.ID
	if err := s.CompareAndSwapExecution(ctx, stale, 1); !errors.Is(err, canvass.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got: %v", err)
	}

	unknown := execution.New(execution.SearchCriteria{Location: "Gbagada"})
	if err := s.CompareAndSwapExecution(ctx, unknown, 1); !errors.Is(err, canvass.ErrExecutionNotFound) {
		t.Fatalf("expected ErrExecutionNotFound, got: %v", err)
	}
}

func TestExecutionStore_ListByPhase(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first := execution.New(execution.SearchCriteria{Location: "Surulere"})
	second := execution.New(execution.SearchCriteria{Location: "Ikeja"})
	for _, e := range []*execution.Execution{first, second} {
		if err := s.CreateExecution(ctx, e); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	got, err := s.ListExecutionsByPhase(ctx, execution.PhaseSearchInitiation)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("list = %d entries, want 2", len(got))
	}
	if got[0].ID != first.ID {
		t.Fatalf("expected creation order, got %s first", got[0].ID)
	}
}

func TestDialStore_ScheduleAndDequeue(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	execID := id.NewExecutionID()
	due := dial.NewCall(execID, "prop-1", 1, time.Now().UTC().Add(-time.Minute))
	future := dial.NewCall(execID, "prop-2", 1, time.Now().UTC().Add(time.Hour))
	for _, c := range []*dial.Call{due, future} {
		if err := s.ScheduleCall(ctx, c); err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}

	claimed, err := s.DequeueDueCalls(ctx, 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(claimed) != 1 || claimed[0].PropertyID != "prop-1" {
		t.Fatalf("claimed = %+v", claimed)
	}

	again, err := s.DequeueDueCalls(ctx, 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second dequeue = %d entries, want 0", len(again))
	}
}

func TestDialStore_Purge(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	execID := id.NewExecutionID()
	other := id.NewExecutionID()
	past := time.Now().UTC().Add(-time.Minute)
	if err := s.ScheduleCall(ctx, dial.NewCall(execID, "prop-1", 1, past)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := s.ScheduleCall(ctx, dial.NewCall(other, "prop-9", 1, past)); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	if err := s.PurgeCalls(ctx, execID); err != nil {
		t.Fatalf("purge: %v", err)
	}

	claimed, err := s.DequeueDueCalls(ctx, 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ExecutionID != other {
		t.Fatalf("claimed = %+v", claimed)
	}
}

func TestDialStore_Leases(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	key := dial.LeaseKey(id.NewExecutionID(), "prop-1")

	ok, err := s.AcquireLease(ctx, key, "worker-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	ok, err = s.AcquireLease(ctx, key, "worker-b", time.Minute)
	if err != nil || ok {
		t.Fatalf("contended acquire: ok=%v err=%v", ok, err)
	}
	ok, err = s.AcquireLease(ctx, key, "worker-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("extend: ok=%v err=%v", ok, err)
	}

	if err := s.ReleaseLease(ctx, key, "worker-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = s.AcquireLease(ctx, key, "worker-b", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestDialStore_LeaseExpiry(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	key := dial.LeaseKey(id.NewExecutionID(), "prop-1")
	ok, err := s.AcquireLease(ctx, key, "worker-a", 50*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	time.Sleep(100 * time.Millisecond)

	// Redis expires the key natively; the slot frees without a reap.
	ok, err = s.AcquireLease(ctx, key, "worker-b", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after expiry: ok=%v err=%v", ok, err)
	}
}

func TestAuditStore_AppendAndList(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	execID := id.NewExecutionID()
	first := audit.NewTransition(execID, execution.PhaseSearchInitiation, execution.PhaseDataExtraction, execution.EventCriteriaAccepted, "")
	second := audit.NewTransition(execID, execution.PhaseDataExtraction, execution.PhaseHumanApproval, execution.EventPropertiesExtracted, "")
	for _, tr := range []*audit.Transition{first, second} {
		if err := s.AppendTransition(ctx, tr); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	trs, err := s.ListTransitions(ctx, execID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(trs) != 2 || trs[0].Event != execution.EventCriteriaAccepted {
		t.Fatalf("transitions = %+v", trs)
	}
}
