package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"fedlearn-hq/arbiter/pkg/events"
	"fedlearn-hq/arbiter/pkg/policy"
)

// errorResponse is the JSON error body on the API surface.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := policy.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case policy.CodeValidation:
		status = http.StatusBadRequest
	case policy.CodeNotFound:
		status = http.StatusNotFound
	case policy.CodeConflict:
		status = http.StatusConflict
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Code: policy.CodeValidation})
}

// handleCheck evaluates a policy type against a caller-supplied context.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PolicyType string         `json:"policy_type"`
		Context    policy.Context `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.PolicyType == "" {
		writeBadRequest(w, "policy_type is required")
		return
	}

	decision := s.deps.Evaluator.Evaluate(r.Context(), req.PolicyType, req.Context)
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Store.Snapshot()
	defs := snap.All()
	if policyType := r.URL.Query().Get("type"); policyType != "" {
		filtered := defs[:0]
		for _, def := range defs {
			if def.Type == policyType {
				filtered = append(filtered, def)
			}
		}
		defs = filtered
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":  snap.Version(),
		"policies": defs,
	})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	def, err := s.deps.Store.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var def policy.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if err := s.deps.Store.Create(r.Context(), &def); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &def)
}

func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var def policy.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if err := s.deps.Store.Update(r.Context(), r.PathValue("id"), &def); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &def)
}

func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnablePolicy(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Enable(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisablePolicy(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Disable(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLoadPolicies replaces the whole policy set atomically.
func (s *Server) handleLoadPolicies(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Policies []*policy.Definition `json:"policies"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if err := s.deps.Store.Load(r.Context(), req.Policies); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version": s.deps.Store.Version(),
		"count":   len(req.Policies),
	})
}

func (s *Server) handleListTrust(w http.ResponseWriter, r *http.Request) {
	if subject := r.URL.Query().Get("subject_id"); subject != "" {
		writeJSON(w, http.StatusOK, s.deps.Tracker.Get(subject))
		return
	}
	threshold := -1.0
	if v := r.URL.Query().Get("threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeBadRequest(w, "invalid threshold")
			return
		}
		threshold = t
	}
	writeJSON(w, http.StatusOK, s.deps.Tracker.List(threshold))
}

func (s *Server) handleGetTrust(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Tracker.Get(r.PathValue("subject")))
}

func (s *Server) handleUpdateTrust(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Factors map[string]float64 `json:"factors"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	score, err := s.deps.Tracker.Update(r.PathValue("subject"), req.Factors)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (s *Server) handleResetTrust(w http.ResponseWriter, r *http.Request) {
	s.deps.Tracker.Reset(r.PathValue("subject"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQueryEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Buffer.Query(filter))
}

// handleEventBatch ingests events uploaded by reconciling edge enforcers.
// Events keep their original ids and timestamps; the archive ignores
// duplicates so upload retries are harmless.
func (s *Server) handleEventBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Events []*events.Event `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	for _, ev := range req.Events {
		if ev == nil || ev.ID == "" {
			writeBadRequest(w, "every event needs an id")
			return
		}
	}

	for _, ev := range req.Events {
		s.deps.Buffer.Append(ev)
		if s.deps.Archive != nil {
			if err := s.deps.Archive.Store(r.Context(), ev); err != nil {
				slog.Error("failed to archive uploaded event", "event_id", ev.ID, "error", err)
			}
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(req.Events)})
}

func (s *Server) handleComplianceStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Reporter.Status())
}

func (s *Server) handleViolations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	violations := s.deps.Reporter.Violations(
		events.Severity(q.Get("severity")),
		q.Get("subject_id"),
	)
	writeJSON(w, http.StatusOK, violations)
}

func filterFromQuery(r *http.Request) (events.Filter, error) {
	q := r.URL.Query()
	filter := events.Filter{
		Type:      events.Type(q.Get("type")),
		SubjectID: q.Get("subject_id"),
		PolicyID:  q.Get("policy_id"),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, err
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, err
		}
		filter.To = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, strconv.ErrSyntax
		}
		filter.Limit = n
	}
	return filter, nil
}
