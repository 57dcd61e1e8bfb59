// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/cogate/internal/log"
	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownConfigField classifies strict YAML failures caused by unknown keys.
	ErrUnknownConfigField = errors.New("unknown config field")
	// ErrUnsupportedFormat is returned for files that are not .yaml or .yml.
	ErrUnsupportedFormat = errors.New("unsupported config file format")
)

// Loader builds an AppConfig. The zero path skips the file layer.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a loader for the file at configPath.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Path returns the file the loader reads, or "".
func (l *Loader) Path() string { return l.configPath }

// Load applies defaults, then the file, then the environment, and validates the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()
	cfg.Version = l.version

	if l.configPath != "" {
		if err := l.mergeFile(&cfg); err != nil {
			return AppConfig{}, err
		}
	}
	mergeEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (l *Loader) mergeFile(cfg *AppConfig) error {
	ext := strings.ToLower(filepath.Ext(l.configPath))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return fmt.Errorf("read config %s: %w", l.configPath, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "not found in type") {
			return fmt.Errorf("%w: %s: %v", ErrUnknownConfigField, l.configPath, err)
		}
		return fmt.Errorf("parse config %s: %w", l.configPath, err)
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: multiple YAML documents are not supported", l.configPath)
	}

	logger := log.WithComponent("config")
	logger.Info().Str("path", l.configPath).Msg("loaded configuration file")
	return nil
}

func mergeEnv(cfg *AppConfig) {
	cfg.ListenAddr = ParseString("COGATE_LISTEN_ADDR", cfg.ListenAddr)
	cfg.LogLevel = ParseString("COGATE_LOG_LEVEL", cfg.LogLevel)
	cfg.AllowedOrigins = ParseList("COGATE_ALLOWED_ORIGINS", cfg.AllowedOrigins)
	cfg.ShutdownTimeout = ParseDuration("COGATE_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	cfg.Core.Addr = ParseString("COGATE_CORE_ADDR", cfg.Core.Addr)
	cfg.Core.DialTimeout = ParseDuration("COGATE_CORE_DIAL_TIMEOUT", cfg.Core.DialTimeout)
	cfg.Core.CallTimeout = ParseDuration("COGATE_CORE_CALL_TIMEOUT", cfg.Core.CallTimeout)

	cfg.Discovery.ConsulURL = ParseString("COGATE_CONSUL_URL", cfg.Discovery.ConsulURL)
	cfg.Discovery.Prefix = ParseString("COGATE_CONSUL_PREFIX", cfg.Discovery.Prefix)
	cfg.Discovery.StaticHosts = ParseList("COGATE_STATIC_HOSTS", cfg.Discovery.StaticHosts)
	cfg.Discovery.CacheTTL = ParseDuration("COGATE_DISCOVERY_CACHE_TTL", cfg.Discovery.CacheTTL)

	cfg.Redis.Addr = ParseString("COGATE_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = ParseString("COGATE_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = ParseInt("COGATE_REDIS_DB", cfg.Redis.DB)
	cfg.Redis.Prefix = ParseString("COGATE_REDIS_PREFIX", cfg.Redis.Prefix)

	cfg.NATS.URL = ParseString("COGATE_NATS_URL", cfg.NATS.URL)
	cfg.NATS.Subject = ParseString("COGATE_NATS_SUBJECT", cfg.NATS.Subject)

	cfg.RateLimit.Enabled = ParseBool("COGATE_RATELIMIT_ENABLED", cfg.RateLimit.Enabled)
	cfg.RateLimit.RequestsPerMinute = ParseInt("COGATE_RATELIMIT_RPM", cfg.RateLimit.RequestsPerMinute)

	cfg.Tracing.Enabled = ParseBool("COGATE_TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Exporter = ParseString("COGATE_TRACING_EXPORTER", cfg.Tracing.Exporter)
	cfg.Tracing.Endpoint = ParseString("COGATE_TRACING_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.Tracing.SamplingRate = ParseFloat("COGATE_TRACING_SAMPLING_RATE", cfg.Tracing.SamplingRate)

	cfg.Identity.PersonIDHeader = ParseString("COGATE_HEADER_PERSON_ID", cfg.Identity.PersonIDHeader)
	cfg.Identity.PersonNameHeader = ParseString("COGATE_HEADER_PERSON_NAME", cfg.Identity.PersonNameHeader)
	cfg.Identity.RolesHeader = ParseString("COGATE_HEADER_ROLES", cfg.Identity.RolesHeader)
	cfg.Identity.AdminRole = ParseString("COGATE_ADMIN_ROLE", cfg.Identity.AdminRole)
	cfg.Identity.ProxyToken = ParseString("COGATE_PROXY_TOKEN", cfg.Identity.ProxyToken)

	cfg.Stream.SilentEnd = ParseBool("COGATE_STREAM_SILENT_END", cfg.Stream.SilentEnd)
}
