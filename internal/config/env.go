// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/cogate/internal/log"
	"github.com/rs/zerolog"
)

// lookup returns the raw value of key and whether it should override the
// current value. Empty variables never override.
func lookup(logger zerolog.Logger, key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	if v == "" {
		logger.Debug().Str("key", key).Str("source", "default").
			Msg("environment variable is empty, keeping current value")
		return "", false
	}
	return v, true
}

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "password") || strings.Contains(k, "token") || strings.Contains(k, "secret")
}

// ParseString reads a string from the environment or returns the current value.
func ParseString(key, current string) string {
	logger := log.WithComponent("config")
	v, ok := lookup(logger, key)
	if !ok {
		return current
	}
	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if isSensitive(key) {
		ev.Bool("sensitive", true)
	} else {
		ev.Str("value", v)
	}
	ev.Msg("using environment variable")
	return v
}

// ParseInt reads an integer from the environment. Parse errors keep the current value.
func ParseInt(key string, current int) int {
	logger := log.WithComponent("config")
	v, ok := lookup(logger, key)
	if !ok {
		return current
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Int("current", current).
			Msg("invalid integer in environment variable, ignoring")
		return current
	}
	logger.Debug().Str("key", key).Int("value", i).Str("source", "environment").Msg("using environment variable")
	return i
}

// ParseFloat reads a float from the environment. Parse errors keep the current value.
func ParseFloat(key string, current float64) float64 {
	logger := log.WithComponent("config")
	v, ok := lookup(logger, key)
	if !ok {
		return current
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Float64("current", current).
			Msg("invalid float in environment variable, ignoring")
		return current
	}
	logger.Debug().Str("key", key).Float64("value", f).Str("source", "environment").Msg("using environment variable")
	return f
}

// ParseDuration reads a Go duration ("5s", "2m") from the environment.
func ParseDuration(key string, current time.Duration) time.Duration {
	logger := log.WithComponent("config")
	v, ok := lookup(logger, key)
	if !ok {
		return current
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Dur("current", current).
			Msg("invalid duration in environment variable, ignoring")
		return current
	}
	logger.Debug().Str("key", key).Dur("value", d).Str("source", "environment").Msg("using environment variable")
	return d
}

// ParseBool reads a boolean from the environment. Accepts the strconv forms
// plus yes/no and on/off.
func ParseBool(key string, current bool) bool {
	logger := log.WithComponent("config")
	v, ok := lookup(logger, key)
	if !ok {
		return current
	}
	switch strings.ToLower(v) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Bool("current", current).
			Msg("invalid boolean in environment variable, ignoring")
		return current
	}
	logger.Debug().Str("key", key).Bool("value", b).Str("source", "environment").Msg("using environment variable")
	return b
}

// ParseList reads a comma separated list. Blank items are dropped.
func ParseList(key string, current []string) []string {
	raw := ParseString(key, "")
	if raw == "" {
		return current
	}
	return splitList(raw)
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
