// Package execution defines the workflow execution aggregate — the one
// record type the engine persists — together with the phase transition
// graph and the versioned store contract every mutation goes through.
//
// An Execution moves through an ordered, branching set of phases. The
// phase field is only ever written by flow.Machine; everything else on
// the document is written through the same compare-and-swap path so that
// concurrent workers never lose a transition.
package execution
