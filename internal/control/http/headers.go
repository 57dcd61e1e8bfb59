package http

// Canonical Header Names
const (
	// HeaderRequestID is the canonical header for request correlation.
	HeaderRequestID = "X-Request-ID"

	// HeaderPersonID and HeaderPersonName carry the session identity set by
	// the upstream authentication layer.
	HeaderPersonID   = "X-Person-Id"
	HeaderPersonName = "X-Person-Name"
	HeaderRoles      = "X-Person-Roles"

	// HeaderProxyToken authenticates the upstream proxy when a proxy token
	// is configured.
	HeaderProxyToken = "X-Proxy-Token"
)

// Canonical JSON Field Names
const (
	// JSONKeyRequestID is the canonical JSON key for request correlation in DTOs.
	JSONKeyRequestID = "requestId"
)
