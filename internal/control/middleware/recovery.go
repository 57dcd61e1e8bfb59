// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"runtime"
	"strings"

	"github.com/ManuGH/cogate/internal/control/http/problem"
	"github.com/ManuGH/cogate/internal/log"
)

// Recoverer turns handler panics into a 500 problem response and a logged
// stack trace. http.ErrAbortHandler is re-raised so net/http can abort the
// connection.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			buf := make([]byte, 8192)
			buf = buf[:runtime.Stack(buf, false)]

			logger := log.WithComponentFromContext(r.Context(), "panic-recovery")
			logger.Error().
				Str("event", "panic.recovered").
				Str("method", r.Method).
				Str("path", strings.ToValidUTF8(r.URL.Path, "")).
				Interface("panic_value", rec).
				Str("stack_trace", string(buf)).
				Msg("panic recovered in HTTP handler")

			problem.Write(w, r, http.StatusInternalServerError, "system/internal", "Internal server error",
				problem.CodeInternal, "An unexpected error occurred.", nil)
		}()

		next.ServeHTTP(w, r)
	})
}
