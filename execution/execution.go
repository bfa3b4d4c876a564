package execution

import (
	"slices"

	"github.com/canvasshq/canvass"
	"github.com/canvasshq/canvass/id"
)

// Intent is the declared engagement path for an execution, uniform
// across all approved properties.
type Intent string

const (
	// IntentInspector books property inspections.
	IntentInspector Intent = "inspector_path"
	// IntentNegotiator negotiates acquisition terms.
	IntentNegotiator Intent = "negotiator_path"
)

// Decision is one row of an approval submission.
type Decision struct {
	PropertyID string   `json:"property_id"`
	Approved   bool     `json:"approved"`
	Intent     Intent   `json:"intent,omitempty"`
	Questions  []string `json:"questions,omitempty"`
}

// Execution is the root aggregate: one record per user request, the
// single source of truth for the whole workflow. Every field except
// timestamps is written through the versioned store; components never
// hold execution state in memory across calls.
type Execution struct {
	canvass.Entity

	ID      id.ExecutionID `json:"id"`
	Phase   Phase          `json:"phase"`
	Version int64          `json:"version"`

	Criteria SearchCriteria `json:"criteria"`

	// Properties is written once by the extraction step, never mutated
	// afterward.
	Properties []PropertyRecord `json:"properties,omitempty"`

	// ApprovedIDs is written once by the approval gate; always a subset
	// of Properties ids.
	ApprovedIDs []string `json:"approved_ids,omitempty"`

	// Intent is set once during engagement routing.
	Intent Intent `json:"intent,omitempty"`

	// Questions maps approved property ids to the user's questions for
	// the call script.
	Questions map[string][]string `json:"questions,omitempty"`

	// Locations maps property ids to analyzer results.
	Locations map[string]*LocationIntelligence `json:"locations,omitempty"`

	// Calls maps property ids to ordered attempt chains.
	Calls map[string][]CallAttempt `json:"calls,omitempty"`

	// Gaps records missing extraction/analysis data.
	Gaps []DataGap `json:"gaps,omitempty"`

	// Report is present only in terminal success
	// (Phase == PhaseReportDelivery).
	Report *UnifiedReport `json:"report,omitempty"`

	// TerminatedReason is set when the execution ends without a report.
	TerminatedReason string `json:"terminated_reason,omitempty"`
}

// New creates an execution in PhaseSearchInitiation at version 1.
func New(criteria SearchCriteria) *Execution {
	return &Execution{
		Entity:   canvass.NewEntity(),
		ID:       id.NewExecutionID(),
		Phase:    PhaseSearchInitiation,
		Version:  1,
		Criteria: criteria,
	}
}

// PropertyByID returns the extracted property with the given id string.
func (e *Execution) PropertyByID(propertyID string) (PropertyRecord, bool) {
	for _, p := range e.Properties {
		if p.ID.String() == propertyID {
			return p, true
		}
	}
	return PropertyRecord{}, false
}

// Approved reports whether the property id is in the approved set.
func (e *Execution) Approved(propertyID string) bool {
	return slices.Contains(e.ApprovedIDs, propertyID)
}

// ApprovedProperties returns the approved subset of Properties in
// extraction order.
func (e *Execution) ApprovedProperties() []PropertyRecord {
	out := make([]PropertyRecord, 0, len(e.ApprovedIDs))
	for _, p := range e.Properties {
		if e.Approved(p.ID.String()) {
			out = append(out, p)
		}
	}
	return out
}

// LastAttempt returns a pointer into the property's attempt chain, or
// nil when no attempt exists yet.
func (e *Execution) LastAttempt(propertyID string) *CallAttempt {
	chain := e.Calls[propertyID]
	if len(chain) == 0 {
		return nil
	}
	return &chain[len(chain)-1]
}

// AttemptByNumber returns a pointer into the chain for the attempt with
// the given number.
func (e *Execution) AttemptByNumber(propertyID string, number int) *CallAttempt {
	chain := e.Calls[propertyID]
	for i := range chain {
		if chain[i].Number == number {
			return &chain[i]
		}
	}
	return nil
}

// AppendAttempt adds an attempt to the property's chain.
func (e *Execution) AppendAttempt(propertyID string, a CallAttempt) {
	if e.Calls == nil {
		e.Calls = make(map[string][]CallAttempt)
	}
	e.Calls[propertyID] = append(e.Calls[propertyID], a)
}

// CallsSettled reports whether every approved property has a terminal
// attempt chain — the completion signal for report compilation.
func (e *Execution) CallsSettled() bool {
	if len(e.ApprovedIDs) == 0 {
		return false
	}
	for _, pid := range e.ApprovedIDs {
		last := e.LastAttempt(pid)
		if last == nil || !last.Status.Terminal() {
			return false
		}
	}
	return true
}

// RecordGap appends a DataGap marker.
func (e *Execution) RecordGap(stage, propertyID, detail string) {
	e.Gaps = append(e.Gaps, DataGap{Stage: stage, PropertyID: propertyID, Detail: detail})
}
