// Package observability provides an OpenTelemetry-based metrics
// extension for Canvass. The MetricsExtension implements lifecycle
// hooks to record system-wide counters for execution starts, phase
// transitions, terminations, call outcomes, and report compilation.
//
// For per-dial tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
