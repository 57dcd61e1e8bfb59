// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the gateway over HTTP: core passthrough, the control
// lock, the pending-request ledger, auxiliary environment operations and the
// observer websocket.
package api

import (
	"context"
	"net/http"

	"github.com/ManuGH/cogate/internal/audit"
	"github.com/ManuGH/cogate/internal/bridge"
	"github.com/ManuGH/cogate/internal/control/auth"
	"github.com/ManuGH/cogate/internal/control/lock"
	"github.com/ManuGH/cogate/internal/core"
	"github.com/ManuGH/cogate/internal/dispatch"
	"github.com/ManuGH/cogate/internal/health"
	"github.com/ManuGH/cogate/internal/ledger"
	"github.com/ManuGH/cogate/internal/log"
	"github.com/ManuGH/cogate/internal/savedconfig"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// HostSource lists the hosts that auxiliary environments run on.
type HostSource interface {
	Hosts(ctx context.Context) ([]string, error)
}

// ConfigStore persists named workflow configurations.
type ConfigStore interface {
	Get(ctx context.Context, name string) (savedconfig.Configuration, error)
	Save(ctx context.Context, cfg savedconfig.Configuration) error
	List(ctx context.Context) ([]string, error)
}

// Deps are the collaborators a Server routes to. Configs and Hosts may be
// nil; a nil Audit uses the default audit log.
type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Lock       *lock.Padlock
	Ledger     *ledger.Ledger
	Bridge     *bridge.Bridge
	Hosts      HostSource
	Configs    ConfigStore
	Observers  http.Handler
	Health     *health.Manager
	Metrics    http.Handler
	Audit      *audit.Logger
}

// Config shapes the HTTP surface.
type Config struct {
	Identity          auth.Headers
	RequestsPerMinute int
	TracingService    string
	AllowedOrigins    []string
}

// Server owns the router.
type Server struct {
	cfg    Config
	deps   Deps
	repos  singleflight.Group
	audit  *audit.Logger
	logger zerolog.Logger
}

// New creates a Server.
func New(cfg Config, deps Deps) *Server {
	if cfg.Identity.PersonID == "" {
		cfg.Identity = auth.DefaultHeaders()
	}
	auditLog := deps.Audit
	if auditLog == nil {
		auditLog = audit.NewLogger()
	}
	return &Server{
		cfg:    cfg,
		deps:   deps,
		audit:  auditLog,
		logger: log.WithComponent("api"),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// defaultRepo looks up the default repository. Concurrent lookups share one
// ListRepos call.
func (s *Server) defaultRepo(ctx context.Context) (core.Repo, error) {
	v, err, _ := s.repos.Do("default", func() (any, error) {
		repos, err := s.deps.Dispatcher.Repos(ctx)
		if err != nil {
			return core.Repo{}, err
		}
		return core.DefaultRepo(repos)
	})
	if err != nil {
		return core.Repo{}, err
	}
	return v.(core.Repo), nil
}
