// SPDX-License-Identifier: MIT

// Package daemon wires the gateway together and runs it until shutdown.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManuGH/cogate/internal/api"
	"github.com/ManuGH/cogate/internal/bridge"
	"github.com/ManuGH/cogate/internal/bus"
	"github.com/ManuGH/cogate/internal/config"
	"github.com/ManuGH/cogate/internal/control/auth"
	"github.com/ManuGH/cogate/internal/control/lock"
	"github.com/ManuGH/cogate/internal/core"
	"github.com/ManuGH/cogate/internal/discovery"
	"github.com/ManuGH/cogate/internal/dispatch"
	"github.com/ManuGH/cogate/internal/health"
	"github.com/ManuGH/cogate/internal/ledger"
	"github.com/ManuGH/cogate/internal/log"
	"github.com/ManuGH/cogate/internal/savedconfig"
	"github.com/ManuGH/cogate/internal/telemetry"
	"github.com/ManuGH/cogate/internal/urlutil"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
)

const (
	serviceName = "cogate"
	// NotificationTopic is the bus topic every broadcast is published on.
	NotificationTopic = "notifications"
)

// Build assembles the gateway from the holder's current configuration.
// Optional collaborators (Redis, NATS, tracing) that fail to start are
// logged and left out.
func Build(ctx context.Context, holder *config.Holder, version string) (*App, error) {
	cfg := holder.Get()
	logger := log.WithComponent("daemon")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: version,
		ExporterType:   cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Telemetry initialization failed, continuing without tracing")
		tp = nil
	}

	memBus := bus.NewMemoryBus()
	notifier := bus.NewNotifier(memBus, NotificationTopic)
	var hubOpts []bus.HubOption
	if len(cfg.AllowedOrigins) > 0 {
		hubOpts = append(hubOpts, bus.WithAllowedOrigins(cfg.AllowedOrigins))
	}
	hub, err := bus.NewHub(ctx, memBus, NotificationTopic, hubOpts...)
	if err != nil {
		return nil, fmt.Errorf("observer hub: %w", err)
	}

	client, err := core.Dial(cfg.Core.Addr, grpc.WithConnectParams(grpc.ConnectParams{
		Backoff:           backoff.DefaultConfig,
		MinConnectTimeout: cfg.Core.DialTimeout,
	}))
	if err != nil {
		return nil, err
	}

	var store *savedconfig.Store
	if cfg.Redis.Addr != "" {
		rc := savedconfig.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB, Prefix: cfg.Redis.Prefix}
		store, err = savedconfig.Connect(ctx, rc, log.WithComponent("savedconfig"))
		if err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("saved configuration store unreachable, will retry on use")
			store = savedconfig.Open(rc, log.WithComponent("savedconfig"))
		}
	}

	dispatcher := dispatch.New(client, dispatch.WithCallTimeout(cfg.Core.CallTimeout))
	padlock := lock.New(notifier)

	var ledgerOpts []ledger.Option
	if store != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithConfigSource(store))
	}
	requests := ledger.New(dispatcher, notifier, ledgerOpts...)

	var bridgeOpts []bridge.Option
	if cfg.Stream.SilentEnd {
		bridgeOpts = append(bridgeOpts, bridge.WithSilentEnd())
	}
	streams := bridge.New(client, notifier, bridgeOpts...)

	hosts := discovery.New(discovery.Config{
		ConsulURL:   cfg.Discovery.ConsulURL,
		Prefix:      cfg.Discovery.Prefix,
		StaticHosts: cfg.Discovery.StaticHosts,
		CacheTTL:    cfg.Discovery.CacheTTL,
		Timeout:     cfg.Discovery.Timeout,
		RetryMax:    cfg.Discovery.RetryMax,
	})

	hm := health.NewManager(version)
	hm.RegisterChecker(health.NewCoreChecker(client))
	if store != nil {
		hm.RegisterChecker(health.NewRedisChecker(store))
	}

	deps := api.Deps{
		Dispatcher: dispatcher,
		Lock:       padlock,
		Ledger:     requests,
		Bridge:     streams,
		Hosts:      hosts,
		Observers:  hub,
		Health:     hm,
		Metrics:    promhttp.Handler(),
	}
	if store != nil {
		deps.Configs = store
	}
	apiCfg := api.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		Identity: auth.Headers{
			PersonID:   cfg.Identity.PersonIDHeader,
			Name:       cfg.Identity.PersonNameHeader,
			Roles:      cfg.Identity.RolesHeader,
			AdminRole:  cfg.Identity.AdminRole,
			ProxyToken: cfg.Identity.ProxyToken,
		},
	}
	if cfg.RateLimit.Enabled {
		apiCfg.RequestsPerMinute = cfg.RateLimit.RequestsPerMinute
	}
	if cfg.Tracing.Enabled {
		apiCfg.TracingService = serviceName
	}
	server := api.New(apiCfg, deps)

	mgr, err := NewManager(ServerConfigFrom(cfg), Deps{
		Logger:     log.WithComponent("daemon"),
		APIHandler: server.Handler(),
	})
	if err != nil {
		return nil, err
	}

	// Hooks run in reverse: streams and pending creations drain before the
	// core connection closes.
	if tp != nil {
		mgr.RegisterShutdownHook("telemetry", tp.Shutdown)
	}
	mgr.RegisterShutdownHook("core", func(context.Context) error { return client.Close() })
	if store != nil {
		mgr.RegisterShutdownHook("redis", func(context.Context) error { return store.Close() })
	}
	mgr.RegisterShutdownHook("discovery", func(context.Context) error {
		hosts.Stop()
		return nil
	})
	mgr.RegisterShutdownHook("ledger", func(ctx context.Context) error {
		return waitCtx(ctx, requests.Wait)
	})
	mgr.RegisterShutdownHook("bridge", func(ctx context.Context) error {
		streams.Close()
		return waitCtx(ctx, streams.Wait)
	})

	app := NewApp(logger, mgr, holder)
	app.AddRunner("observers", hub)

	if cfg.NATS.URL != "" {
		if relay, err := startRelay(ctx, cfg, memBus); err != nil {
			logger.Warn().Err(err).Str("url", urlutil.Sanitize(cfg.NATS.URL)).Msg("NATS relay disabled")
		} else {
			app.AddRunner("nats", relay)
		}
	}

	logger.Info().
		Str("version", version).
		Str("core", cfg.Core.Addr).
		Bool("saved_configurations", store != nil).
		Bool("nats", cfg.NATS.URL != "").
		Msg("gateway assembled")
	return app, nil
}

// natsRunner closes the connection once the relay has flushed.
type natsRunner struct {
	relay *bus.NATSRelay
	close func()
}

func (r natsRunner) Run(ctx context.Context) error {
	defer r.close()
	return r.relay.Run(ctx)
}

func startRelay(ctx context.Context, cfg config.AppConfig, b bus.Bus) (Runner, error) {
	nc, err := bus.ConnectNATS(cfg.NATS.URL, serviceName)
	if err != nil {
		return nil, err
	}
	relay, err := bus.NewNATSRelay(ctx, nc, cfg.NATS.Subject, serviceName+"-"+uuid.NewString(), b, NotificationTopic)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return natsRunner{relay: relay, close: nc.Close}, nil
}

// waitCtx runs wait and gives up when ctx ends first.
func waitCtx(ctx context.Context, wait func()) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForShutdown returns a context cancelled on interrupt/termination signals.
func WaitForShutdown() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
