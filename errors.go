package canvass

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("canvass: no store configured")
	ErrStoreClosed = errors.New("canvass: store closed")

	// Not found errors.
	ErrExecutionNotFound = errors.New("canvass: execution not found")
	ErrCallNotFound      = errors.New("canvass: call entry not found")

	// Conflict errors.
	ErrExecutionExists = errors.New("canvass: execution already exists")
	// ErrVersionConflict is returned by compare-and-swap writes when the
	// stored version no longer matches the caller's. Callers recover by
	// reloading and retrying up to a bounded count.
	ErrVersionConflict = errors.New("canvass: execution version conflict")

	// State errors.
	ErrInvalidTransition   = errors.New("canvass: invalid phase transition")
	ErrNotAwaitingApproval = errors.New("canvass: execution is not awaiting approval")
	ErrReportNotReady      = errors.New("canvass: report not compiled yet")

	// ErrValidation covers bad caller input: unknown property ids,
	// unknown engagement intents, mixed intents, missing criteria.
	// Wrapped with detail at the call site; never retried.
	ErrValidation = errors.New("canvass: validation failed")
)
