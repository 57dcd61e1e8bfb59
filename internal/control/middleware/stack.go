// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"time"

	"github.com/ManuGH/cogate/internal/control/auth"
	cglog "github.com/ManuGH/cogate/internal/log"
	"github.com/go-chi/chi/v5"
)

// StackConfig configures the ingress middleware stack.
type StackConfig struct {
	// AllowedOrigins enables CORS when non-empty. "*" reflects any origin.
	AllowedOrigins []string
	// CORSHeaders are extra request headers browsers may send, usually the
	// identity header names.
	CORSHeaders []string

	EnableMetrics  bool
	TracingService string // empty disables tracing
	EnableLogging  bool
}

// NewRouter constructs a chi router with the ingress stack applied.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack applies the ingress stack to r, outermost first.
func ApplyStack(r chi.Router, cfg StackConfig) {
	r.Use(Recoverer)
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(CORS(cfg.AllowedOrigins, cfg.CORSHeaders...))
	}
	if cfg.EnableMetrics {
		r.Use(Metrics())
	}
	if cfg.TracingService != "" {
		r.Use(Tracing(cfg.TracingService))
	}
	if cfg.EnableLogging {
		r.Use(cglog.Middleware())
	}
}

// APIConfig configures the authenticated API group.
type APIConfig struct {
	Headers auth.Headers
	// RequestsPerMinute per person; zero disables rate limiting.
	RequestsPerMinute int
}

// ApplyAPI applies identity and per-person rate limiting to an API group.
func ApplyAPI(r chi.Router, cfg APIConfig) {
	r.Use(Identity(cfg.Headers))
	if cfg.RequestsPerMinute > 0 {
		r.Use(RateLimit(cfg.RequestsPerMinute, time.Minute))
	}
}
