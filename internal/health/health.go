// SPDX-License-Identifier: MIT

// Package health serves liveness and readiness probes for the gateway.
// Readiness follows the core connection; the saved configuration store only
// degrades it.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/cogate/internal/log"
	"golang.org/x/sync/errgroup"
)

// Status represents the overall health/readiness status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// checkTimeout bounds each checker so one slow dependency cannot hang a probe.
const checkTimeout = 2 * time.Second

// CheckResult represents the result of a component health check
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse represents the full health check response
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Uptime    int64                  `json:"uptimeSeconds"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker defines the interface for health checks
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager manages health and readiness checks
type Manager struct {
	version  string
	started  time.Time
	checkers []Checker
}

// NewManager creates a new health check manager
func NewManager(version string) *Manager {
	return &Manager{version: version, started: time.Now()}
}

// RegisterChecker adds a health checker to the manager
func (m *Manager) RegisterChecker(checker Checker) {
	m.checkers = append(m.checkers, checker)
}

// runChecks runs every checker concurrently and folds their statuses.
func (m *Manager) runChecks(ctx context.Context) (map[string]CheckResult, Status) {
	results := make(map[string]CheckResult, len(m.checkers))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range m.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, checkTimeout)
			defer cancel()
			res := c.Check(cctx)
			mu.Lock()
			results[c.Name()] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	overall := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}
	return results, overall
}

// Health performs a liveness check. The process is alive whatever its
// dependencies say; verbose adds the component checks.
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Uptime:    int64(time.Since(m.started).Seconds()),
		Timestamp: time.Now(),
	}
	if verbose && len(m.checkers) > 0 {
		resp.Checks, resp.Status = m.runChecks(ctx)
	}
	return resp
}

// Ready performs a readiness check. Any unhealthy component makes the
// gateway not ready.
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	resp := ReadinessResponse{
		Ready:     true,
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}
	if len(m.checkers) == 0 {
		return resp
	}
	resp.Checks, resp.Status = m.runChecks(ctx)
	resp.Ready = resp.Status != StatusUnhealthy
	return resp
}

// ServeHealth handles HTTP health check requests
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "health")
	verbose := r.URL.Query().Get("verbose") == "true"

	resp := m.Health(r.Context(), verbose)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "health.encode_error").Msg("failed to encode health response")
	}
}

// ServeReady handles HTTP readiness check requests
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "readiness")

	resp := m.Ready(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "readiness.encode_error").Msg("failed to encode readiness response")
	}

	logger.Debug().
		Str("event", "readiness.checked").
		Str("status", string(resp.Status)).
		Bool("ready", resp.Ready).
		Msg("readiness check performed")
}

// ReadyReporter reports whether the core connection can take calls.
type ReadyReporter interface {
	Ready() bool
}

// CoreChecker marks the gateway unhealthy while the core is unreachable.
type CoreChecker struct {
	core ReadyReporter
}

func NewCoreChecker(core ReadyReporter) *CoreChecker {
	return &CoreChecker{core: core}
}

func (c *CoreChecker) Name() string { return "core" }

func (c *CoreChecker) Check(context.Context) CheckResult {
	if c.core == nil || !c.core.Ready() {
		return CheckResult{Status: StatusUnhealthy, Error: "core connection not ready"}
	}
	return CheckResult{Status: StatusHealthy, Message: "connected"}
}

// Pinger is satisfied by the saved configuration store.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// RedisChecker reports the saved configuration store. A failing store only
// degrades the gateway since control operations do not need it.
type RedisChecker struct {
	store Pinger
}

func NewRedisChecker(store Pinger) *RedisChecker {
	return &RedisChecker{store: store}
}

func (c *RedisChecker) Name() string { return "redis" }

func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	if c.store == nil {
		return CheckResult{Status: StatusHealthy, Message: "not configured (optional)"}
	}
	if err := c.store.HealthCheck(ctx); err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "reachable"}
}
