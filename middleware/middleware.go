// Package middleware provides composable middleware for outbound call
// placement. Middleware wraps the dial synchronously and can modify
// execution (recover from panics, enforce timeouts, log, add tracing,
// etc.).
package middleware

import (
	"context"
	"time"

	"github.com/canvasshq/canvass/collab"
	"github.com/canvasshq/canvass/execution"
)

// Dial describes one call placement moving through the chain.
type Dial struct {
	ExecutionID string
	PropertyID  string
	Attempt     int
	Request     collab.CallRequest
	// Timeout bounds the dial; zero means no deadline.
	Timeout time.Duration
}

// Handler is the terminal function that places the call.
type Handler func(ctx context.Context) (*execution.CallResult, error)

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the dial being placed, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, d *Dial, next Handler) (*execution.CallResult, error)

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, d *Dial, next Handler) (*execution.CallResult, error) {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) (*execution.CallResult, error) {
				return mw(ctx, d, prev)
			}
		}
		return h(ctx)
	}
}
