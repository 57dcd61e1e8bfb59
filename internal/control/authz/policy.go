// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package authz

// Access is the authority an operation requires.
type Access int

const (
	// AccessRead operations never change core state and bypass the control lock.
	AccessRead Access = iota
	// AccessControl operations require holding the control lock.
	AccessControl
)

func (a Access) String() string {
	if a == AccessRead {
		return "read"
	}
	return "control"
}

// Policy registry for core operation names.
// This is the single source of truth for the read-only allow-list.
var operationAccess = map[string]Access{
	"GetFrameworkInfo":         AccessRead,
	"GetIntegratedServices":    AccessRead,
	"GetEnvironments":          AccessRead,
	"GetEnvironment":           AccessRead,
	"GetWorkflowTemplates":     AccessRead,
	"ListRepos":                AccessRead,
	"GetActiveDetectors":       AccessRead,
	"GetTasks":                 AccessRead,
	"NewEnvironment":           AccessControl,
	"NewAutoEnvironment":       AccessControl,
	"ControlEnvironment":       AccessControl,
	"ModifyEnvironment":        AccessControl,
	"DestroyEnvironment":       AccessControl,
	"CleanupTasks":             AccessControl,
	"AddRepo":                  AccessControl,
	"RemoveRepo":               AccessControl,
	"RefreshRepos":             AccessControl,
	"SetDefaultRepo":           AccessControl,
	"SetGlobalDefaultRevision": AccessControl,
	"SetRepoDefaultRevision":   AccessControl,
}

// RequiredAccess returns the access level for an operation name.
func RequiredAccess(operation string) (Access, bool) {
	a, ok := operationAccess[operation]
	return a, ok
}

// IsReadOnly reports whether operation is on the read-only allow-list.
// Unknown operations are never read-only.
func IsReadOnly(operation string) bool {
	a, ok := operationAccess[operation]
	return ok && a == AccessRead
}

// Operations returns every registered operation name.
func Operations() []string {
	out := make([]string, 0, len(operationAccess))
	for op := range operationAccess {
		out = append(out, op)
	}
	return out
}
