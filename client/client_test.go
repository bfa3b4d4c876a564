package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/canvasshq/canvass"
	"github.com/canvasshq/canvass/api"
	"github.com/canvasshq/canvass/collab"
	"github.com/canvasshq/canvass/engine"
	"github.com/canvasshq/canvass/execution"
	"github.com/canvasshq/canvass/id"
	"github.com/canvasshq/canvass/store/memory"
)

type fixedExtractor struct{ records []execution.PropertyRecord }

func (f *fixedExtractor) Extract(_ context.Context, _ execution.SearchCriteria) ([]execution.PropertyRecord, error) {
	out := make([]execution.PropertyRecord, len(f.records))
	copy(out, f.records)
	return out, nil
}

type fixedAnalyzer struct{}

func (fixedAnalyzer) AnalyzeLocation(_ context.Context, address string) (*execution.LocationIntelligence, error) {
	return &execution.LocationIntelligence{Summary: "around " + address}, nil
}

type fixedCaller struct{}

func (fixedCaller) PlaceCall(_ context.Context, _ collab.CallRequest) (*execution.CallResult, error) {
	return &execution.CallResult{Outcome: "booked", BookingConfirmed: true}, nil
}

func newTestClient(t *testing.T) *Client {
	t.Helper()

	phone := "+2348000000002"
	eng, err := engine.New(memory.New(), engine.Collaborators{
		Extractor: &fixedExtractor{records: []execution.PropertyRecord{
			{Address: "3 Bourdillon Road, Ikoyi", ContactPhone: &phone},
		}},
		Analyzer: fixedAnalyzer{},
		Caller:   fixedCaller{},
	}, engine.WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	srv := httptest.NewServer(api.New(eng, slog.New(slog.DiscardHandler)).Handler())
	t.Cleanup(srv.Close)
	return New(srv.URL, WithLogger(slog.New(slog.DiscardHandler)), WithHTTPClient(srv.Client()))
}

func TestClientRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newTestClient(t)

	e, err := c.StartExecution(ctx, execution.SearchCriteria{Location: "Ikoyi"})
	if err != nil {
		t.Fatalf("StartExecution: %v", err)
	}
	if e.Phase != execution.PhaseHumanApproval {
		t.Fatalf("phase = %s, want %s", e.Phase, execution.PhaseHumanApproval)
	}

	got, err := c.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != e.ID {
		t.Errorf("id = %s, want %s", got.ID, e.ID)
	}

	records, err := c.Properties(ctx, e.ID)
	if err != nil {
		t.Fatalf("Properties: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("properties = %d, want 1", len(records))
	}

	e, err = c.SubmitApproval(ctx, e.ID, []execution.Decision{{
		PropertyID: records[0].ID.String(),
		Approved:   true,
		Intent:     execution.IntentInspector,
	}})
	if err != nil {
		t.Fatalf("SubmitApproval: %v", err)
	}
	if e.Phase != execution.PhaseInspectorCalls {
		t.Errorf("phase = %s, want %s", e.Phase, execution.PhaseInspectorCalls)
	}

	trs, err := c.Transitions(ctx, e.ID)
	if err != nil {
		t.Fatalf("Transitions: %v", err)
	}
	if len(trs) == 0 {
		t.Error("no transitions recorded")
	}

	if err := c.Health(ctx); err != nil {
		t.Errorf("Health: %v", err)
	}
}

func TestClientSentinelMapping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := newTestClient(t)

	if _, err := c.Get(ctx, id.NewExecutionID()); !errors.Is(err, canvass.ErrExecutionNotFound) {
		t.Errorf("Get unknown: err = %v, want ErrExecutionNotFound", err)
	}

	if _, err := c.StartExecution(ctx, execution.SearchCriteria{}); !errors.Is(err, canvass.ErrValidation) {
		t.Errorf("StartExecution empty: err = %v, want ErrValidation", err)
	}

	e, err := c.StartExecution(ctx, execution.SearchCriteria{Location: "Ikoyi"})
	if err != nil {
		t.Fatalf("StartExecution: %v", err)
	}
	if _, err := c.Report(ctx, e.ID); !errors.Is(err, canvass.ErrReportNotReady) {
		t.Errorf("Report early: err = %v, want ErrReportNotReady", err)
	}

	if _, err := c.Cancel(ctx, e.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := c.Cancel(ctx, e.ID); !errors.Is(err, canvass.ErrInvalidTransition) {
		t.Errorf("second Cancel: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := c.SubmitApproval(ctx, e.ID, nil); !errors.Is(err, canvass.ErrNotAwaitingApproval) {
		t.Errorf("SubmitApproval after cancel: err = %v, want ErrNotAwaitingApproval", err)
	}
}

func TestClientConcurrencyConflictMapping(t *testing.T) {
	t.Parallel()

	// The engine surfaces exhausted swap retries as a 409 with this
	// code; the client must hand callers the sentinel to retry on.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"concurrency_conflict"}`))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, WithLogger(slog.New(slog.DiscardHandler)))
	if _, err := c.Get(context.Background(), id.NewExecutionID()); !errors.Is(err, canvass.ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
}
