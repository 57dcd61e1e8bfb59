// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ManuGH/cogate/internal/log"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const reloadDebounce = 500 * time.Millisecond

// Holder keeps the current configuration and swaps it on file changes.
// Only LogLevel takes effect live; other changes are logged as needing a restart.
type Holder struct {
	mu      sync.RWMutex
	current AppConfig
	loader  *Loader
	logger  zerolog.Logger

	listenersMu sync.RWMutex
	listeners   []chan<- AppConfig
}

// NewHolder creates a holder seeded with initial.
func NewHolder(initial AppConfig, loader *Loader) *Holder {
	return &Holder{
		current: initial,
		loader:  loader,
		logger:  log.WithComponent("config"),
	}
}

// Get returns the current configuration.
func (h *Holder) Get() AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload loads and validates the configuration again. On failure the old
// configuration stays in place.
func (h *Holder) Reload() error {
	next, err := h.loader.Load()
	if err != nil {
		h.logger.Error().Err(err).Str("event", "config.reload_failed").Msg("configuration reload rejected")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	prev := h.current
	h.current = next
	h.mu.Unlock()

	if prev.LogLevel != next.LogLevel {
		if err := log.SetLevel(next.LogLevel); err != nil {
			h.logger.Warn().Err(err).Str("level", next.LogLevel).Msg("could not apply log level")
		}
	}
	h.logChanges(prev, next)
	h.notifyListeners(next)

	h.logger.Info().Str("event", "config.reload_success").Msg("configuration reloaded")
	return nil
}

// Watch reloads on writes to the config file until ctx is done. The parent
// directory is watched so editors that replace the file are seen too.
// Without a file path it returns immediately.
func (h *Holder) Watch(ctx context.Context) error {
	path := h.loader.Path()
	if path == "" {
		h.logger.Info().Str("event", "config.watcher_disabled").Msg("no config file, watcher disabled")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}
	h.logger.Info().Str("event", "config.watcher_started").Str("path", path).Msg("watching config file")

	target := filepath.Clean(path)
	debounce := time.NewTimer(reloadDebounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str("event", "config.watcher_stopped").Msg("config watcher stopped")
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				h.logger.Debug().Str("op", ev.Op.String()).Msg("config file changed")
				debounce.Reset(reloadDebounce)
			}
		case <-debounce.C:
			_ = h.Reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.logger.Error().Err(err).Str("event", "config.watcher_error").Msg("config watcher error")
		}
	}
}

// RegisterListener adds ch to the reload notifications. Sends never block.
func (h *Holder) RegisterListener(ch chan<- AppConfig) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

func (h *Holder) notifyListeners(cfg AppConfig) {
	h.listenersMu.RLock()
	defer h.listenersMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
			h.logger.Warn().Str("event", "config.listener_skip").Msg("listener channel full")
		}
	}
}

func (h *Holder) logChanges(prev, next AppConfig) {
	if prev.LogLevel != next.LogLevel {
		h.logger.Info().Str("old", prev.LogLevel).Str("new", next.LogLevel).Msg("config changed: logLevel")
	}
	restart := func(field string) {
		h.logger.Warn().Str("field", field).Msg("config changed, restart required to apply")
	}
	if prev.ListenAddr != next.ListenAddr {
		restart("listenAddr")
	}
	if prev.Core != next.Core {
		restart("core")
	}
	if prev.Redis != next.Redis {
		restart("redis")
	}
	if prev.NATS != next.NATS {
		restart("nats")
	}
	if prev.RateLimit != next.RateLimit {
		restart("rateLimit")
	}
	if prev.Tracing != next.Tracing {
		restart("tracing")
	}
	if prev.Identity != next.Identity {
		restart("identity")
	}
	if prev.Stream != next.Stream {
		restart("stream")
	}
}
