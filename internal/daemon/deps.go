// SPDX-License-Identifier: MIT

package daemon

import (
	"net/http"
	"time"

	"github.com/ManuGH/cogate/internal/config"
	"github.com/rs/zerolog"
)

// Deps contains dependencies required by the daemon Manager.
type Deps struct {
	// Logger is the structured logger for the daemon
	Logger zerolog.Logger

	// APIHandler serves the REST API, the observer websocket, health and metrics
	APIHandler http.Handler
}

// Validate checks if the dependencies are valid.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.APIHandler == nil {
		return ErrMissingAPIHandler
	}
	return nil
}

// ServerConfig holds the HTTP server settings.
// There is no write timeout: observer websockets are long-lived and set
// their own per-write deadlines.
type ServerConfig struct {
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration
}

// ServerConfigFrom derives the server settings from the application config.
func ServerConfigFrom(cfg config.AppConfig) ServerConfig {
	return ServerConfig{
		ListenAddr:        cfg.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ShutdownTimeout:   cfg.ShutdownTimeout,
	}
}
