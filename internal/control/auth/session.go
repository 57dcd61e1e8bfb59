// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package auth carries the identity of the operator behind a request.
// Sessions are issued upstream; the gateway only reads them.
package auth

import (
	"net/http"
	"strings"

	controlhttp "github.com/ManuGH/cogate/internal/control/http"
)

// RoleAdmin may force-release the control lock and acknowledge any request.
const RoleAdmin = "admin"

// Session is the identity of one authenticated operator connection.
type Session struct {
	PersonID string
	Name     string
	Roles    []string
}

// HasRole reports whether the session carries role.
func (s *Session) HasRole(role string) bool {
	if s == nil {
		return false
	}
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin is shorthand for HasRole(RoleAdmin).
func (s *Session) IsAdmin() bool {
	return s.HasRole(RoleAdmin)
}

// Headers names the trusted request headers an upstream proxy sets.
type Headers struct {
	PersonID string
	Name     string
	Roles    string
	// AdminRole is the upstream role name granting RoleAdmin. Empty means RoleAdmin.
	AdminRole string
	// ProxyToken, when set, must accompany every request before the
	// identity headers are trusted.
	ProxyToken string
}

// DefaultHeaders returns the standard header names.
func DefaultHeaders() Headers {
	return Headers{
		PersonID: controlhttp.HeaderPersonID,
		Name:     controlhttp.HeaderPersonName,
		Roles:    controlhttp.HeaderRoles,
	}
}

// ExtractSession reads the session from r. It returns nil when no person id
// is present.
// Roles are a comma separated list; blanks are ignored.
func ExtractSession(r *http.Request, h Headers) *Session {
	if r == nil {
		return nil
	}
	id := strings.TrimSpace(r.Header.Get(h.PersonID))
	if id == "" {
		return nil
	}
	s := &Session{
		PersonID: id,
		Name:     strings.TrimSpace(r.Header.Get(h.Name)),
	}
	if s.Name == "" {
		s.Name = id
	}
	if h.Roles != "" {
		for _, role := range strings.Split(r.Header.Get(h.Roles), ",") {
			role = strings.TrimSpace(role)
			switch {
			case role == "":
			case h.AdminRole != "" && role == h.AdminRole && role != RoleAdmin:
				s.Roles = append(s.Roles, role, RoleAdmin)
			default:
				s.Roles = append(s.Roles, role)
			}
		}
	}
	return s
}
