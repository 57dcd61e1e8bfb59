// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/ManuGH/cogate/internal/audit"
	"github.com/ManuGH/cogate/internal/control/http/problem"
	"github.com/ManuGH/cogate/internal/ledger"
	"github.com/ManuGH/cogate/internal/savedconfig"
	"github.com/go-chi/chi/v5"
)

type saveConfigurationRequest struct {
	Workflow  string      `json:"workflow"`
	Variables ledger.Vars `json:"variables"`
}

type configurationList struct {
	Names []string `json:"names"`
}

func (s *Server) configsAvailable(w http.ResponseWriter, r *http.Request) bool {
	if s.deps.Configs != nil {
		return true
	}
	problem.Write(w, r, http.StatusServiceUnavailable, "configurations/unavailable", "Configurations unavailable",
		problem.CodeUnavailable, "no configuration store is configured", nil)
	return false
}

func (s *Server) handleConfigurationList(w http.ResponseWriter, r *http.Request) {
	if !s.configsAvailable(w, r) {
		return
	}
	names, err := s.deps.Configs.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, configurationList{Names: names})
}

func (s *Server) handleConfigurationGet(w http.ResponseWriter, r *http.Request) {
	if !s.configsAvailable(w, r) {
		return
	}
	name := chi.URLParam(r, "name")
	cfg, err := s.deps.Configs.Get(r.Context(), name)
	if errors.Is(err, savedconfig.ErrNotFound) {
		writeNotFound(w, r, "configuration "+name+" not found")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleConfigurationSave stores a variable set under name. Saving changes
// what later requests rehydrate to, so it needs the control lock.
func (s *Server) handleConfigurationSave(w http.ResponseWriter, r *http.Request) {
	if !s.configsAvailable(w, r) {
		return
	}
	if !s.checkMutation(w, r, "configurations") {
		return
	}
	var req saveConfigurationRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidation(w, r, err.Error())
		return
	}
	if len(req.Variables) == 0 {
		writeValidation(w, r, "variables must not be empty")
		return
	}

	cfg := savedconfig.Configuration{
		Name:      chi.URLParam(r, "name"),
		Workflow:  req.Workflow,
		Variables: req.Variables,
		SavedBy:   sessionOf(r).Name,
		SavedAt:   time.Now().UTC(),
	}
	if err := s.deps.Configs.Save(r.Context(), cfg); err != nil {
		s.audit.ConfigurationSaved(r.Context(), cfg.Name, audit.ResultFailure)
		writeError(w, r, err)
		return
	}
	s.audit.ConfigurationSaved(r.Context(), cfg.Name, audit.ResultSuccess)
	writeJSON(w, http.StatusOK, cfg)
}
