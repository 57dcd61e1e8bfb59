// SPDX-License-Identifier: MIT

// Package urlutil redacts endpoint URLs before they reach the logs.
package urlutil

import (
	"net/url"
)

// Redacted is returned for URLs that cannot be parsed.
const Redacted = "invalid-url-redacted"

// Sanitize drops user info and the query string from rawURL. NATS and
// Consul endpoints may carry credentials in either place.
func Sanitize(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Redacted
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}
