// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"

	"github.com/ManuGH/cogate/internal/audit"
	"github.com/ManuGH/cogate/internal/control/lock"
)

// lockDenied audits a refusal by the control lock. Other errors are ignored.
func (s *Server) lockDenied(r *http.Request, resource string, err error) {
	var denied *lock.DeniedError
	if errors.As(err, &denied) {
		s.audit.LockDenied(r.Context(), resource, string(denied.Reason))
	}
}

// checkMutation enforces the lock for gateway-level mutations and writes
// the refusal.
func (s *Server) checkMutation(w http.ResponseWriter, r *http.Request, resource string) bool {
	err := s.deps.Lock.CheckMutation(sessionOf(r).PersonID)
	if err == nil {
		return true
	}
	s.lockDenied(r, resource, err)
	writeError(w, r, err)
	return false
}

func (s *Server) handleLockState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Lock.State())
}

func (s *Server) handleLockAcquire(w http.ResponseWriter, r *http.Request) {
	session := sessionOf(r)
	st, err := s.deps.Lock.Acquire(lock.Owner{PersonID: session.PersonID, Name: session.Name})
	if err != nil {
		s.audit.LockChange(r.Context(), audit.EventLockAcquire, audit.ResultDenied, st.LockedBy)
		writeError(w, r, err)
		return
	}
	s.audit.LockChange(r.Context(), audit.EventLockAcquire, audit.ResultSuccess, "")
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleLockRelease(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Lock.Release(sessionOf(r).PersonID)
	if errors.Is(err, lock.ErrNotOwner) {
		s.audit.LockChange(r.Context(), audit.EventLockRelease, audit.ResultDenied, st.LockedBy)
		writeForbidden(w, r, "Control lock is not held by you")
		return
	}
	s.audit.LockChange(r.Context(), audit.EventLockRelease, audit.ResultSuccess, "")
	writeJSON(w, http.StatusOK, st)
}

// handleLockForce frees the lock whoever holds it. Admins only.
func (s *Server) handleLockForce(w http.ResponseWriter, r *http.Request) {
	session := sessionOf(r)
	if !session.IsAdmin() {
		s.audit.LockChange(r.Context(), audit.EventLockForce, audit.ResultDenied, "")
		writeForbidden(w, r, "Force release requires the admin role")
		return
	}
	prev := s.deps.Lock.State()
	st := s.deps.Lock.ForceRelease(lock.Owner{PersonID: session.PersonID, Name: session.Name})
	s.audit.LockChange(r.Context(), audit.EventLockForce, audit.ResultSuccess, prev.LockedBy)
	writeJSON(w, http.StatusOK, st)
}
