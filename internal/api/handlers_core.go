// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"

	"github.com/ManuGH/cogate/internal/dispatch"
	"github.com/ManuGH/cogate/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"
)

func (s *Server) handleFrameworkInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.deps.Dispatcher.FrameworkInfo(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleIntegratedServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.deps.Dispatcher.IntegratedServices(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

// handleExecute forwards one core operation: readiness, then the control
// lock, then dispatch. The lock check runs for bodyless calls too.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	op, err := dispatch.ParseOperation(chi.URLParam(r, "operation"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	session := sessionOf(r)

	ctx, span := telemetry.Tracer("cogate/api").Start(r.Context(), "dispatch "+string(op),
		trace.WithAttributes(telemetry.DispatchAttributes(string(op), session.PersonID)...))
	defer span.End()

	if !s.deps.Dispatcher.Ready() {
		err := &dispatch.Error{Kind: dispatch.KindUnavailable, Operation: string(op), Message: dispatch.ErrNotReady.Error(), Cause: dispatch.ErrNotReady}
		telemetry.RecordError(span, err, err.Kind.String())
		writeError(w, r, err)
		return
	}
	if err := s.deps.Lock.Check(string(op), session.PersonID); err != nil {
		telemetry.RecordError(span, err, "lock")
		s.lockDenied(r, string(op), err)
		writeError(w, r, err)
		return
	}

	args, err := readBody(r)
	if err != nil {
		writeValidation(w, r, err.Error())
		return
	}
	out, err := s.deps.Dispatcher.Execute(ctx, op, session, args)
	if err != nil {
		var de *dispatch.Error
		if errors.As(err, &de) {
			telemetry.RecordError(span, err, de.Kind.String())
		}
		writeError(w, r, err)
		return
	}
	if len(out) == 0 {
		out = []byte("{}")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}
