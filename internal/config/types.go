// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the gateway configuration from defaults, an optional
// YAML file and COGATE_* environment variables, in that order.
package config

import (
	"time"

	controlhttp "github.com/ManuGH/cogate/internal/control/http"
)

// AppConfig is the effective runtime configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	ListenAddr      string        `yaml:"listenAddr"`
	LogLevel        string        `yaml:"logLevel"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// AllowedOrigins enables CORS for browser clients. "*" allows any origin.
	AllowedOrigins []string `yaml:"allowedOrigins"`

	Core      CoreConfig      `yaml:"core"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Identity  IdentityConfig  `yaml:"identity"`
	Stream    StreamConfig    `yaml:"stream"`
}

// CoreConfig addresses the orchestration core.
type CoreConfig struct {
	Addr        string        `yaml:"addr"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
	// CallTimeout bounds every unary call except environment creation.
	CallTimeout time.Duration `yaml:"callTimeout"`
}

// DiscoveryConfig drives host lookup for clean-resources and auto environments.
type DiscoveryConfig struct {
	ConsulURL   string        `yaml:"consulUrl"`
	Prefix      string        `yaml:"prefix"`
	StaticHosts []string      `yaml:"staticHosts"`
	CacheTTL    time.Duration `yaml:"cacheTtl"`
	Timeout     time.Duration `yaml:"timeout"`
	RetryMax    int           `yaml:"retryMax"`
}

// RedisConfig locates the saved configuration store. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// NATSConfig enables cross-instance notification relay. Empty URL disables it.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requestsPerMinute"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"` // grpc or http
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// IdentityConfig names the headers the upstream auth layer sets.
type IdentityConfig struct {
	PersonIDHeader   string `yaml:"personIdHeader"`
	PersonNameHeader string `yaml:"personNameHeader"`
	RolesHeader      string `yaml:"rolesHeader"`
	AdminRole        string `yaml:"adminRole"`
	ProxyToken       string `yaml:"proxyToken"`
}

type StreamConfig struct {
	// SilentEnd suppresses the failure notification when a stream ends
	// without a terminal event.
	SilentEnd bool `yaml:"silentEnd"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		ListenAddr:      ":8080",
		LogLevel:        "info",
		ShutdownTimeout: 15 * time.Second,
		Core: CoreConfig{
			Addr:        "localhost:32102",
			DialTimeout: 10 * time.Second,
			CallTimeout: 30 * time.Second,
		},
		Discovery: DiscoveryConfig{
			Prefix:   "o2/hardware/flps/",
			CacheTTL: 30 * time.Second,
			Timeout:  5 * time.Second,
			RetryMax: 2,
		},
		Redis: RedisConfig{
			Prefix: "cogate:config:",
		},
		NATS: NATSConfig{
			Subject: "cogate.notifications",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 600,
		},
		Tracing: TracingConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
		Identity: IdentityConfig{
			PersonIDHeader:   controlhttp.HeaderPersonID,
			PersonNameHeader: controlhttp.HeaderPersonName,
			RolesHeader:      controlhttp.HeaderRoles,
			AdminRole:        "admin",
		},
	}
}
