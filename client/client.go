// Package client provides a Go client for a remote canvass daemon's
// HTTP API.
//
// Usage:
//
//	c := client.New("https://canvass.internal:8080")
//
//	e, err := c.StartExecution(ctx, execution.SearchCriteria{
//	    Location: "Lekki Phase 1",
//	})
//
//	e, err = c.SubmitApproval(ctx, e.ID, decisions)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/canvasshq/canvass"
	"github.com/canvasshq/canvass/audit"
	"github.com/canvasshq/canvass/execution"
	"github.com/canvasshq/canvass/id"
)

// Client talks to a canvass daemon over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a client for the daemon at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartExecution creates a new execution for the criteria and returns
// it parked at the approval gate (or further along if extraction found
// nothing to approve).
func (c *Client) StartExecution(ctx context.Context, criteria execution.SearchCriteria) (*execution.Execution, error) {
	body := struct {
		Criteria execution.SearchCriteria `json:"criteria"`
	}{Criteria: criteria}

	var e execution.Execution
	if err := c.do(ctx, http.MethodPost, "/v1/executions", body, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Get fetches the current state of an execution.
func (c *Client) Get(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	var e execution.Execution
	if err := c.do(ctx, http.MethodGet, "/v1/executions/"+execID.String(), nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Properties lists the extracted property records of an execution.
func (c *Client) Properties(ctx context.Context, execID id.ExecutionID) ([]execution.PropertyRecord, error) {
	var records []execution.PropertyRecord
	if err := c.do(ctx, http.MethodGet, "/v1/executions/"+execID.String()+"/properties", nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// SubmitApproval submits approval decisions for an execution waiting
// at the gate.
func (c *Client) SubmitApproval(ctx context.Context, execID id.ExecutionID, decisions []execution.Decision) (*execution.Execution, error) {
	body := struct {
		Decisions []execution.Decision `json:"decisions"`
	}{Decisions: decisions}

	var e execution.Execution
	if err := c.do(ctx, http.MethodPost, "/v1/executions/"+execID.String()+"/approval", body, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Cancel terminates an execution.
func (c *Client) Cancel(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	var e execution.Execution
	if err := c.do(ctx, http.MethodPost, "/v1/executions/"+execID.String()+"/cancel", struct{}{}, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Report fetches the unified report of a delivered execution.
func (c *Client) Report(ctx context.Context, execID id.ExecutionID) (*execution.UnifiedReport, error) {
	var rep execution.UnifiedReport
	if err := c.do(ctx, http.MethodGet, "/v1/executions/"+execID.String()+"/report", nil, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// Transitions fetches the audit trail of an execution.
func (c *Client) Transitions(ctx context.Context, execID id.ExecutionID) ([]*audit.Transition, error) {
	var trs []*audit.Transition
	if err := c.do(ctx, http.MethodGet, "/v1/executions/"+execID.String()+"/transitions", nil, &trs); err != nil {
		return nil, err
	}
	return trs, nil
}

// Health checks daemon and store health.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/healthz", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("canvass/client: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("canvass/client: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("canvass/client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("canvass/client: decode response: %w", err)
		}
		return nil
	}

	var eb struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil {
		return fmt.Errorf("canvass/client: %s %s: status %d", method, path, resp.StatusCode)
	}
	return apiError(resp.StatusCode, eb.Error)
}

// apiError maps the daemon's error codes back onto the package
// sentinels so callers can errors.Is against them as if the engine
// were local.
func apiError(status int, code string) error {
	var sentinel error
	switch code {
	case "not_found":
		sentinel = canvass.ErrExecutionNotFound
	case "validation_failed", "invalid_json", "invalid_execution_id":
		sentinel = canvass.ErrValidation
	case "not_awaiting_approval":
		sentinel = canvass.ErrNotAwaitingApproval
	case "report_not_ready":
		sentinel = canvass.ErrReportNotReady
	case "invalid_transition":
		sentinel = canvass.ErrInvalidTransition
	case "concurrency_conflict":
		sentinel = canvass.ErrVersionConflict
	default:
		return fmt.Errorf("canvass/client: server error %q (status %d)", code, status)
	}
	return fmt.Errorf("canvass/client: %w", sentinel)
}
