// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/ManuGH/cogate/internal/audit"
	"github.com/ManuGH/cogate/internal/ledger"
	"github.com/go-chi/chi/v5"
)

type submitResponse struct {
	OK int    `json:"ok"`
	ID uint64 `json:"id"`
}

func (s *Server) handleRequestsSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Ledger.Snapshot())
}

// handleRequestSubmit records an environment request and answers before the
// core has created anything. Outcomes arrive as "requests" notifications.
func (s *Server) handleRequestSubmit(w http.ResponseWriter, r *http.Request) {
	if !s.checkMutation(w, r, "requests") {
		return
	}

	var req ledger.Request
	if err := decodeBody(r, &req); err != nil {
		writeValidation(w, r, err.Error())
		return
	}
	if msg := checkSubmission(req); msg != "" {
		writeValidation(w, r, msg)
		return
	}

	entry, err := s.deps.Ledger.Submit(r.Context(), req, sessionOf(r))
	if err != nil {
		writeValidation(w, r, err.Error())
		return
	}
	s.audit.RequestSubmitted(r.Context(), entry.ID, entry.Workflow, len(entry.Detectors))
	writeJSON(w, http.StatusOK, submitResponse{OK: 1, ID: entry.ID})
}

// checkSubmission rejects requests the ledger would only fail on later:
// a missing detector list or an empty host list.
func checkSubmission(req ledger.Request) string {
	if req.WorkflowTemplate == "" {
		return ledger.ErrMissingWorkflow.Error()
	}
	if req.Detectors == nil {
		return "detectors are required"
	}
	if !hasHosts(req.Vars["hosts"]) {
		return "vars.hosts must list at least one host"
	}
	return ""
}

// hasHosts accepts a JSON list or a comma separated string.
func hasHosts(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	if strings.HasPrefix(raw, "[") {
		var hosts []string
		return json.Unmarshal([]byte(raw), &hosts) == nil && len(hosts) > 0
	}
	return true
}

// handleRequestAcknowledge removes an entry. Owners may remove their own
// entries, admins any. Unknown ids are a no-op.
func (s *Server) handleRequestAcknowledge(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeValidation(w, r, "request id must be a non-negative integer")
		return
	}
	session := sessionOf(r)
	if e, ok := s.deps.Ledger.Get(id); ok && e.PersonID != session.PersonID && !session.IsAdmin() {
		s.audit.RequestAcknowledged(r.Context(), id, audit.ResultDenied)
		writeForbidden(w, r, "Only the requester or an admin may remove this request")
		return
	}

	s.audit.RequestAcknowledged(r.Context(), id, audit.ResultSuccess)
	writeJSON(w, http.StatusOK, s.deps.Ledger.Acknowledge(id))
}
