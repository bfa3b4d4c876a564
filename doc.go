// Package canvass provides a crash-safe orchestration engine for
// long-running property-engagement workflows. It drives an execution
// through discovery, human approval, location analysis, and outbound
// voice-call engagement to a final unified report, surviving process
// restarts at every step.
//
// Canvass is designed as a library, not a service. Import it, configure
// a store, plug in the external collaborators (extractor, location
// analyzer, caller, notifier), and start executions.
//
// # Quick Start
//
//	eng, err := engine.New(memory.New(), engine.Collaborators{
//	    Extractor: extractor,
//	    Analyzer:  analyzer,
//	    Caller:    caller,
//	    Notifier:  notifier,
//	})
//
// # Architecture
//
// Canvass follows a composable store pattern where each subsystem
// (execution, dial, audit) defines its own store interface and a single
// backend implements all of them. Every mutation of an execution goes
// through a compare-and-swap on its version; there are no held locks and
// no in-memory state across calls. Suspension — waiting for a human
// decision, or for a retry window to open — is always "nothing running,
// state on disk".
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package canvass
