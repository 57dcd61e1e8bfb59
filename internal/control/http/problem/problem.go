// Package problem writes RFC 7807 problem documents.
package problem

import (
	"encoding/json"
	"net/http"

	"github.com/ManuGH/cogate/internal/log"
)

const (
	headerRequestID  = "X-Request-ID"
	jsonKeyRequestID = "requestId"
)

// Stable problem codes shared by all handlers.
const (
	CodeCoreUnavailable      = "CORE_UNAVAILABLE"
	CodeCoreCallFailed       = "CORE_CALL_FAILED"
	CodeProcessing           = "PROCESSING_ERROR"
	CodeUnsupportedOperation = "UNSUPPORTED_OPERATION"
	CodeValidation           = "VALIDATION_FAILED"
	CodeNotLocked            = "CONTROL_NOT_LOCKED"
	CodeLockedByOther        = "CONTROL_LOCKED_BY_OTHER"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeNotFound             = "NOT_FOUND"
	CodeRateLimited          = "RATE_LIMITED"
	CodeInternal             = "INTERNAL"
	CodeUnavailable          = "UNAVAILABLE"
)

// Write writes an RFC 7807 problem details response.
//
// Semantics:
//   - type: Canonical machine identifier (e.g. "control/not-locked").
//   - title: Human-readable short label (e.g. "Control not locked").
//   - code: Stable machine-readable short code (e.g. "CONTROL_NOT_LOCKED").
//   - detail: Human-readable explanation of the specific error.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, code, detail string, extra map[string]any) {
	instance := ""
	reqID := ""
	if r != nil {
		instance = r.URL.EscapedPath()
		reqID = log.RequestIDFromContext(r.Context())
	} else {
		log.L().Error().Str("type", problemType).Int("status", status).Msg("problem.Write called with nil request")
	}
	if reqID == "" {
		reqID = w.Header().Get(headerRequestID)
	}

	res := map[string]any{
		"type":   problemType,
		"title":  title,
		"status": status,
		"code":   code,
	}
	if reqID != "" {
		res[jsonKeyRequestID] = reqID
	}
	if detail != "" {
		res["detail"] = detail
	}
	if instance != "" {
		res["instance"] = instance
	}

	// Extensions live at top level; reserved keys are protected.
	for k, v := range extra {
		switch k {
		case "type", "title", "status", "detail", "instance", "code":
			log.L().Warn().Str("key", k).Str("problem_type", problemType).Msg("ignoring reserved key in problem extras")
			continue
		}
		res[k] = v
	}

	if reqID != "" {
		w.Header().Set(headerRequestID, reqID)
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(res); err != nil {
		log.L().Error().
			Err(err).
			Str("type", problemType).
			Int("status", status).
			Msg("failed to encode problem response")
	}
}
