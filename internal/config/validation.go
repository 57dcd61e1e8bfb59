// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks cfg and returns every problem joined.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if _, _, err := net.SplitHostPort(cfg.ListenAddr); err != nil {
		add("listenAddr", "must be host:port, got %q", cfg.ListenAddr)
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil || cfg.LogLevel == "" {
		add("logLevel", "unknown level %q", cfg.LogLevel)
	}
	if cfg.ShutdownTimeout <= 0 {
		add("shutdownTimeout", "must be positive")
	}

	if strings.TrimSpace(cfg.Core.Addr) == "" {
		add("core.addr", "is required")
	}
	if cfg.Core.DialTimeout <= 0 {
		add("core.dialTimeout", "must be positive")
	}
	if cfg.Core.CallTimeout < 0 {
		add("core.callTimeout", "must not be negative")
	}

	if cfg.Discovery.ConsulURL != "" {
		if u, err := url.Parse(cfg.Discovery.ConsulURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("discovery.consulUrl", "must be an http(s) URL, got %q", cfg.Discovery.ConsulURL)
		}
	}
	if cfg.Discovery.CacheTTL <= 0 {
		add("discovery.cacheTtl", "must be positive")
	}
	if cfg.Discovery.RetryMax < 0 || cfg.Discovery.RetryMax > 10 {
		add("discovery.retryMax", "must be between 0 and 10")
	}

	if cfg.Redis.DB < 0 || cfg.Redis.DB > 15 {
		add("redis.db", "must be between 0 and 15")
	}

	if cfg.NATS.URL != "" && strings.TrimSpace(cfg.NATS.Subject) == "" {
		add("nats.subject", "is required when nats.url is set")
	}

	if cfg.RateLimit.Enabled && cfg.RateLimit.RequestsPerMinute <= 0 {
		add("rateLimit.requestsPerMinute", "must be positive when rate limiting is enabled")
	}

	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Exporter {
		case "grpc", "http":
		default:
			add("tracing.exporter", "must be grpc or http, got %q", cfg.Tracing.Exporter)
		}
		if cfg.Tracing.Endpoint == "" {
			add("tracing.endpoint", "is required when tracing is enabled")
		}
	}
	if cfg.Tracing.SamplingRate < 0 || cfg.Tracing.SamplingRate > 1 {
		add("tracing.samplingRate", "must be between 0 and 1")
	}

	if strings.TrimSpace(cfg.Identity.PersonIDHeader) == "" {
		add("identity.personIdHeader", "is required")
	}

	return errors.Join(errs...)
}
