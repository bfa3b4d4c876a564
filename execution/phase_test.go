package execution_test

import (
	"errors"
	"testing"

	"github.com/canvasshq/canvass"
	"github.com/canvasshq/canvass/execution"
)

func TestNext_HappyPath(t *testing.T) {
	t.Parallel()

	steps := []struct {
		from  execution.Phase
		event execution.Event
		want  execution.Phase
	}{
		{execution.PhaseSearchInitiation, execution.EventCriteriaAccepted, execution.PhaseDataExtraction},
		{execution.PhaseDataExtraction, execution.EventPropertiesExtracted, execution.PhaseHumanApproval},
		{execution.PhaseHumanApproval, execution.EventApprovalGranted, execution.PhaseLocationAnalysis},
		{execution.PhaseLocationAnalysis, execution.EventAnalysisCompleted, execution.PhaseEngagementRouting},
		{execution.PhaseEngagementRouting, execution.EventRoutedInspector, execution.PhaseInspectorCalls},
		{execution.PhaseEngagementRouting, execution.EventRoutedNegotiator, execution.PhaseNegotiatorCalls},
		{execution.PhaseInspectorCalls, execution.EventCallsSettled, execution.PhaseReportGeneration},
		{execution.PhaseNegotiatorCalls, execution.EventCallsSettled, execution.PhaseReportGeneration},
		{execution.PhaseReportGeneration, execution.EventReportCompiled, execution.PhaseReportDelivery},
		{execution.PhaseHumanApproval, execution.EventNoApprovals, execution.PhaseTerminated},
	}
	for _, tt := range steps {
		got, err := execution.Next(tt.from, tt.event)
		if err != nil {
			t.Errorf("Next(%q, %q) error: %v", tt.from, tt.event, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Next(%q, %q) = %q, want %q", tt.from, tt.event, got, tt.want)
		}
	}
}

func TestNext_RejectsIllegalEvents(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from  execution.Phase
		event execution.Event
	}{
		{execution.PhaseSearchInitiation, execution.EventReportCompiled},
		{execution.PhaseHumanApproval, execution.EventCallsSettled},
		{execution.PhaseReportDelivery, execution.EventReportCompiled},
		{execution.PhaseTerminated, execution.EventCriteriaAccepted},
		// No backward transitions.
		{execution.PhaseLocationAnalysis, execution.EventPropertiesExtracted},
	}
	for _, tt := range tests {
		if _, err := execution.Next(tt.from, tt.event); !errors.Is(err, canvass.ErrInvalidTransition) {
			t.Errorf("Next(%q, %q) = %v, want ErrInvalidTransition", tt.from, tt.event, err)
		}
	}
}

func TestNext_CancelFromAnyNonTerminalPhase(t *testing.T) {
	t.Parallel()

	active := []execution.Phase{
		execution.PhaseSearchInitiation,
		execution.PhaseDataExtraction,
		execution.PhaseHumanApproval,
		execution.PhaseLocationAnalysis,
		execution.PhaseEngagementRouting,
		execution.PhaseInspectorCalls,
		execution.PhaseNegotiatorCalls,
		execution.PhaseReportGeneration,
	}
	for _, p := range active {
		got, err := execution.Next(p, execution.EventCancelled)
		if err != nil {
			t.Errorf("Next(%q, cancelled) error: %v", p, err)
			continue
		}
		if got != execution.PhaseTerminated {
			t.Errorf("Next(%q, cancelled) = %q, want terminated", p, got)
		}
	}

	for _, p := range []execution.Phase{execution.PhaseReportDelivery, execution.PhaseTerminated} {
		if _, err := execution.Next(p, execution.EventCancelled); !errors.Is(err, canvass.ErrInvalidTransition) {
			t.Errorf("Next(%q, cancelled) = %v, want ErrInvalidTransition", p, err)
		}
	}
}

func TestPhase_Terminal(t *testing.T) {
	t.Parallel()

	if !execution.PhaseReportDelivery.Terminal() || !execution.PhaseTerminated.Terminal() {
		t.Error("report_delivery and terminated must be terminal")
	}
	if execution.PhaseHumanApproval.Terminal() {
		t.Error("human_approval must not be terminal")
	}
}
