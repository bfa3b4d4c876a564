package approval_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/canvasshq/canvass"
	"github.com/canvasshq/canvass/approval"
	"github.com/canvasshq/canvass/execution"
	"github.com/canvasshq/canvass/flow"
	"github.com/canvasshq/canvass/id"
	"github.com/canvasshq/canvass/store/memory"
)

type recordingNotifier struct {
	approvalRequests int
	reports          int
}

func (n *recordingNotifier) NotifyApprovalRequested(_ context.Context, _ *execution.Execution) error {
	n.approvalRequests++
	return nil
}

func (n *recordingNotifier) NotifyReportReady(_ context.Context, _ *execution.UnifiedReport) error {
	n.reports++
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// newAwaitingExecution stores an execution parked in human approval
// with two extracted properties.
func newAwaitingExecution(t *testing.T) (*flow.Machine, *execution.Execution) {
	t.Helper()

	s := memory.New()
	e := execution.New(execution.SearchCriteria{Location: "Lagos"})
	e.Phase = execution.PhaseHumanApproval
	e.Properties = []execution.PropertyRecord{
		{ID: id.NewPropertyID(), Address: "12 Marina Rd"},
		{ID: id.NewPropertyID(), Address: "4 Bourdillon Ct"},
	}
	if err := s.CreateExecution(context.Background(), e); err != nil {
		t.Fatalf("create: %v", err)
	}
	return flow.NewMachine(s, flow.WithLogger(testLogger())), e
}

func TestPresent_NotifiesWhileParked(t *testing.T) {
	t.Parallel()

	m, e := newAwaitingExecution(t)
	n := &recordingNotifier{}
	g := approval.NewGate(m, n, testLogger())

	got, err := g.Present(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("present: %v", err)
	}
	if got.Phase != execution.PhaseHumanApproval {
		t.Errorf("Present changed phase to %q", got.Phase)
	}
	if n.approvalRequests != 1 {
		t.Errorf("notifications = %d, want 1", n.approvalRequests)
	}

	// Presenting again is harmless.
	if _, err := g.Present(context.Background(), e.ID); err != nil {
		t.Fatalf("second present: %v", err)
	}
	if n.approvalRequests != 2 {
		t.Errorf("notifications = %d, want 2", n.approvalRequests)
	}
}

func TestPresent_WrongPhase(t *testing.T) {
	t.Parallel()

	s := memory.New()
	e := execution.New(execution.SearchCriteria{Location: "Lagos"})
	if err := s.CreateExecution(context.Background(), e); err != nil {
		t.Fatalf("create: %v", err)
	}
	g := approval.NewGate(flow.NewMachine(s, flow.WithLogger(testLogger())), nil, testLogger())

	if _, err := g.Present(context.Background(), e.ID); !errors.Is(err, canvass.ErrNotAwaitingApproval) {
		t.Errorf("err = %v, want ErrNotAwaitingApproval", err)
	}
}

func TestSubmit_ApprovedSubsetAdvances(t *testing.T) {
	t.Parallel()

	m, e := newAwaitingExecution(t)
	g := approval.NewGate(m, nil, testLogger())

	p0 := e.Properties[0].ID.String()
	p1 := e.Properties[1].ID.String()
	got, err := g.Submit(context.Background(), e.ID, []execution.Decision{
		{PropertyID: p0, Approved: true, Intent: execution.IntentInspector, Questions: []string{"Is the gym open 24h?"}},
		{PropertyID: p1, Approved: false},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.Phase != execution.PhaseLocationAnalysis {
		t.Errorf("Phase = %q, want location_analysis", got.Phase)
	}
	if len(got.ApprovedIDs) != 1 || got.ApprovedIDs[0] != p0 {
		t.Errorf("ApprovedIDs = %v", got.ApprovedIDs)
	}
	if got.Intent != execution.IntentInspector {
		t.Errorf("Intent = %q", got.Intent)
	}
	if len(got.Questions[p0]) != 1 {
		t.Errorf("Questions = %v", got.Questions)
	}
}

func TestSubmit_NoApprovalsTerminates(t *testing.T) {
	t.Parallel()

	m, e := newAwaitingExecution(t)
	g := approval.NewGate(m, nil, testLogger())

	got, err := g.Submit(context.Background(), e.ID, []execution.Decision{
		{PropertyID: e.Properties[0].ID.String(), Approved: false},
		{PropertyID: e.Properties[1].ID.String(), Approved: false},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.Phase != execution.PhaseTerminated {
		t.Errorf("Phase = %q, want terminated", got.Phase)
	}
	if got.TerminatedReason != execution.ReasonNoApprovals {
		t.Errorf("reason = %q", got.TerminatedReason)
	}
}

func TestSubmit_ValidationFailures(t *testing.T) {
	t.Parallel()

	m, e := newAwaitingExecution(t)
	g := approval.NewGate(m, nil, testLogger())
	p0 := e.Properties[0].ID.String()
	p1 := e.Properties[1].ID.String()

	tests := []struct {
		name      string
		decisions []execution.Decision
	}{
		{"empty set", nil},
		{"unknown property", []execution.Decision{
			{PropertyID: "prop_bogus", Approved: true, Intent: execution.IntentInspector},
		}},
		{"duplicate decision", []execution.Decision{
			{PropertyID: p0, Approved: true, Intent: execution.IntentInspector},
			{PropertyID: p0, Approved: false},
		}},
		{"missing intent", []execution.Decision{
			{PropertyID: p0, Approved: true},
		}},
		{"mixed intents", []execution.Decision{
			{PropertyID: p0, Approved: true, Intent: execution.IntentInspector},
			{PropertyID: p1, Approved: true, Intent: execution.IntentNegotiator},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := g.Submit(context.Background(), e.ID, tt.decisions); !errors.Is(err, canvass.ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
			// Nothing committed.
			stored, err := m.Get(context.Background(), e.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if stored.Phase != execution.PhaseHumanApproval || stored.Version != 1 {
				t.Errorf("invalid submit changed state: v%d %q", stored.Version, stored.Phase)
			}
		})
	}
}

func TestSubmit_AfterDecisionRejected(t *testing.T) {
	t.Parallel()

	m, e := newAwaitingExecution(t)
	g := approval.NewGate(m, nil, testLogger())
	p0 := e.Properties[0].ID.String()

	decisions := []execution.Decision{
		{PropertyID: p0, Approved: true, Intent: execution.IntentNegotiator},
	}
	if _, err := g.Submit(context.Background(), e.ID, decisions); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := g.Submit(context.Background(), e.ID, decisions); !errors.Is(err, canvass.ErrNotAwaitingApproval) {
		t.Errorf("second submit err = %v, want ErrNotAwaitingApproval", err)
	}
}
