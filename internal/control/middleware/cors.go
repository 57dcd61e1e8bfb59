// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"strings"

	controlhttp "github.com/ManuGH/cogate/internal/control/http"
)

const corsMethods = "GET, POST, PUT, DELETE, OPTIONS"

// CORS sets Cross-Origin Resource Sharing headers for the listed origins.
// "*" reflects any origin. extraHeaders are the identity header names the
// browser must be allowed to send next to the standard ones.
func CORS(allowedOrigins []string, extraHeaders ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}
	allowAll := allowed["*"]

	headers := []string{"Content-Type", "Authorization", controlhttp.HeaderRequestID, controlhttp.HeaderProxyToken}
	for _, h := range extraHeaders {
		if h != "" {
			headers = append(headers, h)
		}
	}
	allowHeaders := strings.Join(headers, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			// Without an Origin header there is nothing for a browser to enforce.
			if origin := r.Header.Get("Origin"); origin != "" && (allowAll || allowed[origin]) {
				h.Set("Access-Control-Allow-Origin", origin)
			}
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			h.Set("Access-Control-Expose-Headers", "Retry-After, "+controlhttp.HeaderRequestID)
			h.Set("Access-Control-Max-Age", "600")
			if vary := h.Get("Vary"); vary == "" {
				h.Set("Vary", "Origin, Access-Control-Request-Method, Access-Control-Request-Headers")
			} else if !strings.Contains(vary, "Origin") {
				h.Set("Vary", vary+", Origin")
			}

			if r.Method == http.MethodOptions {
				h.Set("Allow", corsMethods)
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
