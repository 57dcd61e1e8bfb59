// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/ManuGH/cogate/internal/control/middleware"
	"github.com/go-chi/chi/v5"
)

func (s *Server) routes() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		AllowedOrigins: s.cfg.AllowedOrigins,
		CORSHeaders:    []string{s.cfg.Identity.PersonID, s.cfg.Identity.Name, s.cfg.Identity.Roles},
		EnableMetrics:  true,
		TracingService: s.cfg.TracingService,
		EnableLogging:  true,
	})
	s.registerPublicRoutes(r)

	r.Group(func(r chi.Router) {
		middleware.ApplyAPI(r, middleware.APIConfig{
			Headers:           s.cfg.Identity,
			RequestsPerMinute: s.cfg.RequestsPerMinute,
		})
		if s.deps.Observers != nil {
			r.Handle("/ws", s.deps.Observers)
		}
		r.Route("/api", s.registerAPIRoutes)
	})
	return r
}

func (s *Server) registerPublicRoutes(r chi.Router) {
	if h := s.deps.Health; h != nil {
		r.Get("/healthz", h.ServeHealth)
		r.Get("/readyz", h.ServeReady)
	}
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics)
	}
}

func (s *Server) registerAPIRoutes(r chi.Router) {
	r.Get("/core/framework-info", s.handleFrameworkInfo)
	r.Get("/core/integrated-services", s.handleIntegratedServices)
	r.Post("/execute/{operation}", s.handleExecute)

	r.Get("/lock", s.handleLockState)
	r.Post("/lock", s.handleLockAcquire)
	r.Delete("/lock", s.handleLockRelease)
	r.Delete("/lock/force", s.handleLockForce)

	r.Get("/requests", s.handleRequestsSnapshot)
	r.Post("/requests", s.handleRequestSubmit)
	r.Delete("/requests/{id}", s.handleRequestAcknowledge)

	r.Post("/environments/clean-resources", s.handleCleanResources)
	r.Post("/environments/auto", s.handleAutoEnvironment)

	r.Get("/configurations", s.handleConfigurationList)
	r.Get("/configurations/{name}", s.handleConfigurationGet)
	r.Put("/configurations/{name}", s.handleConfigurationSave)
}
