// Package api exposes the engine over HTTP: execution creation, status,
// approval submission, cancellation, and report retrieval. Handlers are
// thin adapters over engine operations; all domain validation lives in
// the engine and its subsystems.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/canvasshq/canvass"
	"github.com/canvasshq/canvass/engine"
)

// API wires the HTTP handlers for the canvass engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// New creates an API over the given engine.
func New(eng *engine.Engine, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{eng: eng, logger: logger}
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.register(mux)
	return mux
}

func (a *API) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/executions", a.handleStartExecution)
	mux.HandleFunc("GET /v1/executions/{execution_id}", a.handleGetExecution)
	mux.HandleFunc("GET /v1/executions/{execution_id}/properties", a.handleListProperties)
	mux.HandleFunc("POST /v1/executions/{execution_id}/approval", a.handleSubmitApproval)
	mux.HandleFunc("POST /v1/executions/{execution_id}/cancel", a.handleCancelExecution)
	mux.HandleFunc("GET /v1/executions/{execution_id}/report", a.handleGetReport)
	mux.HandleFunc("GET /v1/executions/{execution_id}/transitions", a.handleListTransitions)
	mux.HandleFunc("GET /v1/healthz", a.handleHealth)
}

// errorBody is the uniform error response payload.
type errorBody struct {
	Error string `json:"error"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("response encode failed", slog.String("error", err.Error()))
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, code string) {
	a.writeJSON(w, status, errorBody{Error: code})
}

// writeEngineError maps sentinel errors onto HTTP statuses.
func (a *API) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, canvass.ErrExecutionNotFound),
		errors.Is(err, canvass.ErrCallNotFound):
		a.writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, canvass.ErrValidation):
		a.writeError(w, http.StatusBadRequest, "validation_failed")
	case errors.Is(err, canvass.ErrNotAwaitingApproval):
		a.writeError(w, http.StatusConflict, "not_awaiting_approval")
	case errors.Is(err, canvass.ErrReportNotReady):
		a.writeError(w, http.StatusConflict, "report_not_ready")
	case errors.Is(err, canvass.ErrInvalidTransition):
		a.writeError(w, http.StatusConflict, "invalid_transition")
	case errors.Is(err, canvass.ErrVersionConflict):
		// Swap retries exhausted under contention; the caller should
		// retry the request.
		a.writeError(w, http.StatusConflict, "concurrency_conflict")
	default:
		a.logger.Error("request failed", slog.String("error", err.Error()))
		a.writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
