// SPDX-License-Identifier: MIT

// Package savedconfig stores named workflow configurations in Redis so an
// environment request can be replayed from a known-good variable set.
package savedconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned for an unknown configuration name.
var ErrNotFound = errors.New("saved configuration not found")

// DefaultPrefix namespaces all keys.
const DefaultPrefix = "cogate:config:"

// Configuration is one saved workflow variable set.
type Configuration struct {
	Name      string            `json:"name"`
	Workflow  string            `json:"workflow,omitempty"`
	Variables map[string]string `json:"variables"`
	SavedBy   string            `json:"savedBy,omitempty"`
	SavedAt   time.Time         `json:"savedAt"`
}

// Config holds Redis connection configuration.
type Config struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
	Prefix   string // key prefix, DefaultPrefix when empty
}

// Store is a Redis-backed configuration store.
type Store struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// Open creates a store without contacting Redis. Connection problems
// surface from the first command and from HealthCheck.
func Open(cfg Config, logger zerolog.Logger) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})
	return New(client, cfg.Prefix, logger)
}

// Connect creates a store and checks the connection.
func Connect(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	s := Open(cfg, logger)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.client.Ping(pingCtx).Err(); err != nil {
		_ = s.client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to saved configuration store")
	return s, nil
}

// New wraps an existing client.
func New(client *redis.Client, prefix string, logger zerolog.Logger) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix, logger: logger}
}

func (s *Store) key(name string) string {
	return s.prefix + name
}

// Get loads the configuration called name.
func (s *Store) Get(ctx context.Context, name string) (Configuration, error) {
	data, err := s.client.Get(ctx, s.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Configuration{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Configuration{}, fmt.Errorf("load configuration %s: %w", name, err)
	}

	var cfg Configuration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Configuration{}, fmt.Errorf("decode configuration %s: %w", name, err)
	}
	if cfg.Name == "" {
		cfg.Name = name
	}
	return cfg, nil
}

// Variables returns a copy of the saved variables of name.
func (s *Store) Variables(ctx context.Context, name string) (map[string]string, error) {
	cfg, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(cfg.Variables))
	for k, v := range cfg.Variables {
		out[k] = v
	}
	return out, nil
}

// Save stores cfg, replacing any configuration with the same name.
func (s *Store) Save(ctx context.Context, cfg Configuration) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return errors.New("configuration name is required")
	}
	if cfg.SavedAt.IsZero() {
		cfg.SavedAt = time.Now().UTC()
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode configuration %s: %w", cfg.Name, err)
	}
	if err := s.client.Set(ctx, s.key(cfg.Name), data, 0).Err(); err != nil {
		return fmt.Errorf("save configuration %s: %w", cfg.Name, err)
	}
	s.logger.Info().Str("configuration", cfg.Name).Str("saved_by", cfg.SavedBy).Msg("configuration saved")
	return nil
}

// Delete removes name. Unknown names are ignored.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := s.client.Del(ctx, s.key(name)).Err(); err != nil {
		return fmt.Errorf("delete configuration %s: %w", name, err)
	}
	return nil
}

// List returns all configuration names, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var names []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// HealthCheck checks if Redis is available.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
