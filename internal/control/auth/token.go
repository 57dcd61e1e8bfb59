// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	controlhttp "github.com/ManuGH/cogate/internal/control/http"
)

// ExtractProxyToken retrieves the token the upstream proxy presents.
// 1. Authorization: Bearer <token>
// 2. Header: X-Proxy-Token
func ExtractProxyToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return strings.TrimSpace(r.Header.Get(controlhttp.HeaderProxyToken))
}

// AuthorizeToken returns true if got matches expected using constant-time comparison.
// Empty tokens are always treated as unauthorized.
func AuthorizeToken(got, expected string) bool {
	if strings.TrimSpace(expected) == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

// AuthorizeProxy reports whether r carries the expected proxy token. Only a
// request that passes may be trusted with identity headers.
func AuthorizeProxy(r *http.Request, expected string) bool {
	if r == nil {
		return false
	}
	return AuthorizeToken(ExtractProxyToken(r), expected)
}
