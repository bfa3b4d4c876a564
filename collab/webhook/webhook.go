// Package webhook implements the collaborator contracts over HTTP.
// Each collaborator is a remote service reached by POSTing JSON to a
// configured endpoint; this is the deployment shape the daemon uses
// when it is not embedded in a host application.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/canvasshq/canvass/collab"
	"github.com/canvasshq/canvass/execution"
)

// Endpoints names the remote collaborator URLs. Empty URLs leave the
// corresponding collaborator unconfigured.
type Endpoints struct {
	ExtractURL string
	AnalyzeURL string
	CallURL    string
	NotifyURL  string
}

// Client reaches the remote collaborators. It implements
// collab.Extractor, collab.LocationAnalyzer, collab.Caller, and
// collab.Notifier.
type Client struct {
	http      *http.Client
	endpoints Endpoints
	logger    *slog.Logger
}

var (
	_ collab.Extractor        = (*Client)(nil)
	_ collab.LocationAnalyzer = (*Client)(nil)
	_ collab.Caller           = (*Client)(nil)
	_ collab.Notifier         = (*Client)(nil)
)

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

// New creates a Client for the given endpoints.
func New(endpoints Endpoints, opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{Timeout: 60 * time.Second},
		endpoints: endpoints,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Extract posts the search criteria to the extraction service and
// returns the structured records it found.
func (c *Client) Extract(ctx context.Context, criteria execution.SearchCriteria) ([]execution.PropertyRecord, error) {
	var out struct {
		Properties []execution.PropertyRecord `json:"properties"`
	}
	if err := c.post(ctx, c.endpoints.ExtractURL, criteria, &out); err != nil {
		return nil, fmt.Errorf("webhook: extract: %w", err)
	}
	return out.Properties, nil
}

// AnalyzeLocation posts a single address to the analysis service.
func (c *Client) AnalyzeLocation(ctx context.Context, address string) (*execution.LocationIntelligence, error) {
	req := struct {
		Address string `json:"address"`
	}{Address: address}

	var intel execution.LocationIntelligence
	if err := c.post(ctx, c.endpoints.AnalyzeURL, req, &intel); err != nil {
		return nil, fmt.Errorf("webhook: analyze: %w", err)
	}
	return &intel, nil
}

// PlaceCall posts the call request to the voice service and blocks
// until the call resolves. Transport failures and 5xx responses come
// back as *collab.ConnectionError so the scheduler retries them; a 2xx
// with a result body is a connected call whatever its outcome.
func (c *Client) PlaceCall(ctx context.Context, req collab.CallRequest) (*execution.CallResult, error) {
	var result execution.CallResult
	err := c.post(ctx, c.endpoints.CallURL, req, &result)
	if err == nil {
		return &result, nil
	}

	var se *statusError
	if errors.As(err, &se) && se.code < http.StatusInternalServerError {
		return nil, fmt.Errorf("webhook: call rejected: %w", err)
	}
	return nil, &collab.ConnectionError{Reason: "voice_service_unreachable", Err: err}
}

// NotifyApprovalRequested posts an approval prompt to the notification
// service.
func (c *Client) NotifyApprovalRequested(ctx context.Context, e *execution.Execution) error {
	payload := struct {
		Kind      string               `json:"kind"`
		Execution *execution.Execution `json:"execution"`
	}{Kind: "approval_requested", Execution: e}
	return c.post(ctx, c.endpoints.NotifyURL, payload, nil)
}

// NotifyReportReady posts the compiled report to the notification
// service.
func (c *Client) NotifyReportReady(ctx context.Context, report *execution.UnifiedReport) error {
	payload := struct {
		Kind   string                   `json:"kind"`
		Report *execution.UnifiedReport `json:"report"`
	}{Kind: "report_ready", Report: report}
	return c.post(ctx, c.endpoints.NotifyURL, payload, nil)
}

// statusError carries a non-2xx response for classification.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func (c *Client) post(ctx context.Context, url string, in, out any) error {
	if url == "" {
		return fmt.Errorf("endpoint not configured")
	}

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: string(b)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
