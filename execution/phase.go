package execution

import (
	"fmt"

	"github.com/canvasshq/canvass"
)

// Phase is the current named step of an execution's state machine.
// Exactly one phase is active at any time.
type Phase string

const (
	// PhaseSearchInitiation means the execution was created and its
	// search criteria captured.
	PhaseSearchInitiation Phase = "search_initiation"
	// PhaseDataExtraction means the extraction collaborator is being
	// asked for property listings.
	PhaseDataExtraction Phase = "data_extraction"
	// PhaseHumanApproval means the execution is durably parked awaiting
	// an external approval decision. No process runs in this phase.
	PhaseHumanApproval Phase = "human_approval"
	// PhaseLocationAnalysis means location intelligence is being
	// gathered for the approved properties.
	PhaseLocationAnalysis Phase = "location_analysis"
	// PhaseEngagementRouting means the engagement intent is being
	// resolved to one of the two call paths.
	PhaseEngagementRouting Phase = "engagement_routing"
	// PhaseInspectorCalls means inspection-booking calls are queued or
	// in flight.
	PhaseInspectorCalls Phase = "inspector_calls"
	// PhaseNegotiatorCalls means negotiation calls are queued or in
	// flight.
	PhaseNegotiatorCalls Phase = "negotiator_calls"
	// PhaseReportGeneration means all call chains are terminal and the
	// unified report is being compiled.
	PhaseReportGeneration Phase = "report_generation"
	// PhaseReportDelivery means the report exists; the execution is
	// complete.
	PhaseReportDelivery Phase = "report_delivery"
	// PhaseTerminated means the execution ended without a report.
	PhaseTerminated Phase = "terminated"
)

// Terminal reports whether no further automatic transition occurs.
func (p Phase) Terminal() bool {
	return p == PhaseReportDelivery || p == PhaseTerminated
}

// Calling reports whether the phase is one of the two engagement call
// phases.
func (p Phase) Calling() bool {
	return p == PhaseInspectorCalls || p == PhaseNegotiatorCalls
}

// Event names a state-machine input. Transitions are computed
// deterministically from (phase, event); side effects run only after
// the new phase is durably committed.
type Event string

const (
	EventCriteriaAccepted    Event = "criteria_accepted"
	EventPropertiesExtracted Event = "properties_extracted"
	EventApprovalGranted     Event = "approval_granted"
	EventNoApprovals         Event = "no_approvals"
	EventAnalysisCompleted   Event = "analysis_completed"
	EventRoutedInspector     Event = "routed_inspector"
	EventRoutedNegotiator    Event = "routed_negotiator"
	EventCallsSettled        Event = "calls_settled"
	EventReportCompiled      Event = "report_compiled"
	// EventCancelled is accepted from any non-terminal phase.
	EventCancelled Event = "cancelled"
)

// Termination reasons recorded on the execution. These are valid
// terminal states communicated via status, not errors.
const (
	ReasonNoApprovals = "no_approvals"
	ReasonCancelled   = "cancelled"
)

// transitions is the phase graph. Backward transitions do not exist;
// call retries re-enter the queue without changing phase.
var transitions = map[Phase]map[Event]Phase{
	PhaseSearchInitiation: {
		EventCriteriaAccepted: PhaseDataExtraction,
	},
	PhaseDataExtraction: {
		EventPropertiesExtracted: PhaseHumanApproval,
	},
	PhaseHumanApproval: {
		EventApprovalGranted: PhaseLocationAnalysis,
		EventNoApprovals:     PhaseTerminated,
	},
	PhaseLocationAnalysis: {
		EventAnalysisCompleted: PhaseEngagementRouting,
	},
	PhaseEngagementRouting: {
		EventRoutedInspector:  PhaseInspectorCalls,
		EventRoutedNegotiator: PhaseNegotiatorCalls,
	},
	PhaseInspectorCalls: {
		EventCallsSettled: PhaseReportGeneration,
	},
	PhaseNegotiatorCalls: {
		EventCallsSettled: PhaseReportGeneration,
	},
	PhaseReportGeneration: {
		EventReportCompiled: PhaseReportDelivery,
	},
}

// Next computes the phase that follows (from, event). It returns
// canvass.ErrInvalidTransition (wrapped with detail) when the event is
// not legal in the current phase.
func Next(from Phase, event Event) (Phase, error) {
	if event == EventCancelled {
		if from.Terminal() {
			return "", fmt.Errorf("%w: cannot cancel terminal phase %q", canvass.ErrInvalidTransition, from)
		}
		return PhaseTerminated, nil
	}

	next, ok := transitions[from][event]
	if !ok {
		return "", fmt.Errorf("%w: event %q in phase %q", canvass.ErrInvalidTransition, event, from)
	}
	return next, nil
}
