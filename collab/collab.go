// Package collab defines the contracts for the external collaborators
// the engine delegates to: property extraction, location analysis,
// outbound calling, and user notification. The engine treats each as a
// black box reached over the wire; implementations live outside this
// module and are injected at construction time.
package collab

import (
	"context"
	"errors"
	"fmt"

	"github.com/canvasshq/canvass/execution"
)

// Extractor searches listing sources and returns structured property
// records matching the criteria. A timeout or transport failure is
// returned as an error; partial records carry Gaps instead of failing.
type Extractor interface {
	Extract(ctx context.Context, criteria execution.SearchCriteria) ([]execution.PropertyRecord, error)
}

// LocationAnalyzer enriches a single address with neighborhood
// intelligence. Implementations should return a partial result with
// Partial set rather than an error when only some signals resolve.
type LocationAnalyzer interface {
	AnalyzeLocation(ctx context.Context, address string) (*execution.LocationIntelligence, error)
}

// CallMode selects the conversation script for an outbound call.
type CallMode string

const (
	// ModeInspection books a property viewing with the listing agent.
	ModeInspection CallMode = "inspection"
	// ModeNegotiation negotiates price and terms with the listing agent.
	ModeNegotiation CallMode = "negotiation"
)

// CallRequest carries everything the voice collaborator needs to place
// one outbound call.
type CallRequest struct {
	Phone      string   `json:"phone"`
	PropertyID string   `json:"property_id"`
	Address    string   `json:"address"`
	Price      *float64 `json:"price,omitempty"`
	Questions  []string `json:"questions,omitempty"`
	Mode       CallMode `json:"mode"`
}

// Caller places outbound calls. A connected call that ends in any
// business outcome (booked, declined, no agreement) returns a
// CallResult and nil error; only transport-level failures return an
// error. Return a *ConnectionError for failures that should be retried
// on the standard backoff schedule.
type Caller interface {
	PlaceCall(ctx context.Context, req CallRequest) (*execution.CallResult, error)
}

// Notifier delivers user-facing messages: approval prompts and the
// final report. Delivery failures are logged by callers, never
// retried through the call scheduler.
type Notifier interface {
	NotifyApprovalRequested(ctx context.Context, e *execution.Execution) error
	NotifyReportReady(ctx context.Context, report *execution.UnifiedReport) error
}

// ConnectionError marks a call failure as transient transport trouble:
// unreachable number, carrier timeout, dropped session before the
// conversation started. The scheduler retries these; anything else is
// treated as a connected call.
type ConnectionError struct {
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("call connection failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("call connection failed: %s", e.Reason)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsConnectionFailure classifies a PlaceCall error. Context deadline
// expiry counts: a call that never got an answer within the dial
// timeout is indistinguishable from an unreachable line.
func IsConnectionFailure(err error) bool {
	if err == nil {
		return false
	}
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// FailureReason extracts a short machine-readable reason from a call
// error for persistence on the attempt record.
func FailureReason(err error) string {
	var ce *ConnectionError
	if errors.As(err, &ce) && ce.Reason != "" {
		return ce.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "dial_timeout"
	}
	return "connection_failed"
}
