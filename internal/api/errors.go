// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ManuGH/cogate/internal/control/auth"
	"github.com/ManuGH/cogate/internal/control/http/problem"
	"github.com/ManuGH/cogate/internal/control/lock"
	"github.com/ManuGH/cogate/internal/dispatch"
)

const maxBodyBytes = 1 << 20

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeValidation(w http.ResponseWriter, r *http.Request, detail string) {
	problem.Write(w, r, http.StatusBadRequest, "request/invalid", "Invalid request", problem.CodeValidation, detail, nil)
}

func writeForbidden(w http.ResponseWriter, r *http.Request, detail string) {
	problem.Write(w, r, http.StatusForbidden, "auth/forbidden", "Forbidden", problem.CodeForbidden, detail, nil)
}

func writeNotFound(w http.ResponseWriter, r *http.Request, detail string) {
	problem.Write(w, r, http.StatusNotFound, "request/not-found", "Not found", problem.CodeNotFound, detail, nil)
}

// writeLockDenied reports a lock refusal. Both reasons are 403; the code
// tells them apart and the owner name says whom to contact.
func writeLockDenied(w http.ResponseWriter, r *http.Request, denied *lock.DeniedError) {
	if denied.Reason == lock.NotLocked {
		problem.Write(w, r, http.StatusForbidden, "control/not-locked", "Control not locked",
			problem.CodeNotLocked, denied.Error(), nil)
		return
	}
	problem.Write(w, r, http.StatusForbidden, "control/locked-by-other", "Control locked by another user",
		problem.CodeLockedByOther, denied.Error(), map[string]any{"lockedByName": denied.OwnerName})
}

// writeError maps err onto a problem response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var denied *lock.DeniedError
	if errors.As(err, &denied) {
		writeLockDenied(w, r, denied)
		return
	}

	var de *dispatch.Error
	if !errors.As(err, &de) {
		problem.Write(w, r, http.StatusInternalServerError, "core/processing", "Processing error",
			problem.CodeProcessing, err.Error(), nil)
		return
	}

	extra := map[string]any{"operation": de.Operation}
	switch de.Kind {
	case dispatch.KindUnavailable:
		problem.Write(w, r, de.Status(), "core/unavailable", "Core unavailable", problem.CodeCoreUnavailable, de.Error(), extra)
	case dispatch.KindRemoteRejected:
		problem.Write(w, r, de.Status(), "core/call-failed", "Core call failed", problem.CodeCoreCallFailed, de.Error(), extra)
	case dispatch.KindUnsupported:
		problem.Write(w, r, de.Status(), "core/unsupported-operation", "Unsupported operation", problem.CodeUnsupportedOperation, de.Error(), extra)
	case dispatch.KindValidation:
		problem.Write(w, r, de.Status(), "request/invalid", "Invalid request", problem.CodeValidation, de.Error(), extra)
	default:
		problem.Write(w, r, de.Status(), "core/processing", "Processing error", problem.CodeProcessing, de.Error(), extra)
	}
}

// readBody returns the request body, or "{}" when it is empty. Bodies must
// be JSON objects.
func readBody(r *http.Request) (json.RawMessage, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxBodyBytes {
		return nil, errors.New("request body too large")
	}
	if len(data) == 0 {
		return json.RawMessage("{}"), nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, errors.New("request body must be a JSON object")
	}
	return data, nil
}

// decodeBody decodes a JSON object body into v.
func decodeBody(r *http.Request, v any) error {
	data, err := readBody(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func sessionOf(r *http.Request) *auth.Session {
	return auth.SessionFromContext(r.Context())
}
