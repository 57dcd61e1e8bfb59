// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/cogate/internal/config"
	"github.com/rs/zerolog"
)

// Runner is a background loop that stops when its context is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// App owns the long-lived runtime lifecycle (config watcher, notification
// fan-out) and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	cfgHolder    *config.Holder
	runners      map[string]Runner
	reloadSignal os.Signal
}

// NewApp creates a new App orchestrator.
func NewApp(logger zerolog.Logger, manager Manager, cfgHolder *config.Holder) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		cfgHolder:    cfgHolder,
		runners:      make(map[string]Runner),
		reloadSignal: syscall.SIGHUP,
	}
}

// AddRunner registers a loop started by Run. Call before Run.
func (a *App) AddRunner(name string, r Runner) {
	a.runners[name] = r
}

// Run starts all owned background subsystems and blocks until ctx is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort: a broken watcher must not stop the gateway.
	if a.cfgHolder != nil {
		g.Go(func() error {
			if err := a.cfgHolder.Watch(ctx); err != nil {
				a.logger.Warn().Err(err).Str("event", "config.watcher_failed").Msg("config watcher stopped")
			}
			return nil
		})
	}

	// SIGHUP trigger for manual reload.
	if a.cfgHolder != nil && a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str("event", "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading config")

					if err := a.cfgHolder.Reload(); err != nil {
						a.logger.Warn().
							Err(err).
							Str("event", "config.reload_failed").
							Msg("config reload failed")
					}
				}
			}
		})
	}

	for name, r := range a.runners {
		g.Go(func() error {
			if err := r.Run(ctx); err != nil {
				a.logger.Error().Err(err).Str("runner", name).Msg("background runner failed")
				return err
			}
			return nil
		})
	}

	// Main server lifecycle.
	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}
