// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ManuGH/cogate/internal/control/auth"
	"github.com/ManuGH/cogate/internal/control/http/problem"
	"github.com/go-chi/httprate"
)

// RateLimit limits each caller to requests per window using httprate's
// sliding window counter. Callers are keyed by person id when the identity
// middleware has run, and by client IP otherwise.
func RateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(keyByPerson),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			problem.Write(w, r, http.StatusTooManyRequests, "system/rate-limited", "Too many requests",
				problem.CodeRateLimited, "Rate limit exceeded, retry later.", nil)
		}),
	)
}

func keyByPerson(r *http.Request) (string, error) {
	if s := auth.SessionFromContext(r.Context()); s != nil {
		return "person:" + s.PersonID, nil
	}
	ip, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + ip, nil
}
