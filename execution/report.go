package execution

import (
	"time"

	"github.com/canvasshq/canvass/id"
)

// ReportSummary mirrors the headline counters of the original flow's
// final report.
type ReportSummary struct {
	PropertiesFound    int `json:"properties_found"`
	PropertiesApproved int `json:"properties_approved"`
	TotalCallAttempts  int `json:"total_call_attempts"`
	CallsSucceeded     int `json:"calls_succeeded"`
	CallsExhausted     int `json:"calls_exhausted"`
}

// ReportEntry is one approved property's slice of the unified report.
type ReportEntry struct {
	Property  PropertyRecord        `json:"property"`
	Location  *LocationIntelligence `json:"location,omitempty"`
	FinalCall *CallAttempt          `json:"final_call,omitempty"`
	// Engaged is true when the property's call chain ended in success.
	Engaged bool `json:"engaged"`
}

// UnifiedReport is the immutable snapshot built once per execution,
// recomputable deterministically from persisted state. Entries are
// ordered by property id.
type UnifiedReport struct {
	ID          id.ReportID    `json:"id"`
	ExecutionID id.ExecutionID `json:"execution_id"`
	GeneratedAt time.Time      `json:"generated_at"`
	Criteria    SearchCriteria `json:"criteria"`
	Summary     ReportSummary  `json:"summary"`
	Entries     []ReportEntry  `json:"entries"`
}
