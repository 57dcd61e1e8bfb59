// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Middleware returns an access-log middleware. Health and metrics probes are
// logged at debug level.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}

			logger := WithComponentFromContext(r.Context(), "http")
			ev := logger.Info()
			switch {
			case ww.Status() >= 500:
				ev = logger.Error()
			case route == "/healthz" || route == "/readyz" || route == "/metrics":
				ev = logger.Debug()
			}
			ev.Str(FieldEvent, "request.handled").
				Str("method", r.Method).
				Str(FieldPath, route).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request handled")
		})
	}
}
