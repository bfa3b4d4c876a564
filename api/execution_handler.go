package api

import (
	"net/http"

	"github.com/canvasshq/canvass/execution"
	"github.com/canvasshq/canvass/id"
)

type startExecutionRequest struct {
	Criteria execution.SearchCriteria `json:"criteria"`
}

type submitApprovalRequest struct {
	Decisions []execution.Decision `json:"decisions"`
}

func (a *API) handleStartExecution(w http.ResponseWriter, r *http.Request) {
	var req startExecutionRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	e, err := a.eng.StartExecution(r.Context(), req.Criteria)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, e)
}

func (a *API) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	execID, ok := a.executionID(w, r)
	if !ok {
		return
	}

	e, err := a.eng.Get(r.Context(), execID)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, e)
}

func (a *API) handleListProperties(w http.ResponseWriter, r *http.Request) {
	execID, ok := a.executionID(w, r)
	if !ok {
		return
	}

	e, err := a.eng.Get(r.Context(), execID)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, e.Properties)
}

func (a *API) handleSubmitApproval(w http.ResponseWriter, r *http.Request) {
	execID, ok := a.executionID(w, r)
	if !ok {
		return
	}

	var req submitApprovalRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	e, err := a.eng.SubmitApproval(r.Context(), execID, req.Decisions)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, e)
}

func (a *API) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	execID, ok := a.executionID(w, r)
	if !ok {
		return
	}

	e, err := a.eng.Cancel(r.Context(), execID)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, e)
}

func (a *API) handleGetReport(w http.ResponseWriter, r *http.Request) {
	execID, ok := a.executionID(w, r)
	if !ok {
		return
	}

	rep, err := a.eng.Report(r.Context(), execID)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, rep)
}

func (a *API) handleListTransitions(w http.ResponseWriter, r *http.Request) {
	execID, ok := a.executionID(w, r)
	if !ok {
		return
	}

	trs, err := a.eng.Transitions(r.Context(), execID)
	if err != nil {
		a.writeEngineError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, trs)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Ping(r.Context()); err != nil {
		a.writeError(w, http.StatusServiceUnavailable, "store_unreachable")
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// executionID parses the path parameter, writing a 400 on failure.
func (a *API) executionID(w http.ResponseWriter, r *http.Request) (id.ExecutionID, bool) {
	execID, err := id.ParseExecutionID(r.PathValue("execution_id"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid_execution_id")
		return id.Nil, false
	}
	return execID, true
}
