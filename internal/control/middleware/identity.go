// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"

	"github.com/ManuGH/cogate/internal/control/auth"
	"github.com/ManuGH/cogate/internal/control/http/problem"
	"github.com/ManuGH/cogate/internal/log"
)

// Identity attaches the upstream session to the request context. Requests
// without a person id, or without the proxy token when one is configured,
// are rejected with 401.
func Identity(h auth.Headers) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if h.ProxyToken != "" && !auth.AuthorizeProxy(r, h.ProxyToken) {
				problem.Write(w, r, http.StatusUnauthorized, "auth/untrusted-proxy", "Unauthenticated",
					problem.CodeUnauthorized, "Request did not come through the trusted proxy.", nil)
				return
			}
			s := auth.ExtractSession(r, h)
			if s == nil {
				problem.Write(w, r, http.StatusUnauthorized, "auth/unauthenticated", "Unauthenticated",
					problem.CodeUnauthorized, "Missing "+h.PersonID+" header.", nil)
				return
			}
			ctx := auth.WithSession(r.Context(), s)
			ctx = log.ContextWithPersonID(ctx, s.PersonID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
