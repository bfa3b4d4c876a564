package execution

import "time"

// CallStatus is the lifecycle state of a single outbound call attempt.
type CallStatus string

const (
	// CallPending means the attempt sits in the persisted queue waiting
	// for its scheduled time.
	CallPending CallStatus = "pending"
	// CallInFlight means a dial worker holds the lease and the call is
	// being placed.
	CallInFlight CallStatus = "in_flight"
	// CallSucceeded means the call connected and produced a result.
	CallSucceeded CallStatus = "succeeded"
	// CallConnectionFailed means the call failed transiently; a new
	// attempt was (or will be) scheduled.
	CallConnectionFailed CallStatus = "connection_failed"
	// CallExhaustedRetries means the attempt cap was reached; the
	// property's chain is terminal.
	CallExhaustedRetries CallStatus = "exhausted_retries"
)

// Terminal reports whether the attempt's chain stops here.
func (s CallStatus) Terminal() bool {
	return s == CallSucceeded || s == CallExhaustedRetries
}

// CallAttempt is one scheduled or completed outbound call for one
// property. Attempts form a chain with attempt numbers increasing by
// exactly one per retry, capped by Config.MaxCallAttempts.
type CallAttempt struct {
	Number        int         `json:"number"`
	Status        CallStatus  `json:"status"`
	ScheduledAt   time.Time   `json:"scheduled_at"`
	StartedAt     *time.Time  `json:"started_at,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	FailureReason string      `json:"failure_reason,omitempty"`
	Result        *CallResult `json:"result,omitempty"`
}

// CallResult is present only on succeeded attempts.
type CallResult struct {
	Transcript       string   `json:"transcript,omitempty"`
	RecordingURL     string   `json:"recording_url,omitempty"`
	Outcome          string   `json:"outcome,omitempty"`
	BookingConfirmed bool     `json:"booking_confirmed,omitempty"`
	BookingReference string   `json:"booking_reference,omitempty"`
	AgreedPrice      *float64 `json:"agreed_price,omitempty"`
}
