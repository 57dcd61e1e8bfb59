// Package discovery returns the worker hosts eligible for environments.
// Hosts are read from the Consul key/value store; a static list can stand in
// when Consul is not configured.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ManuGH/cogate/internal/cache"
	"github.com/ManuGH/cogate/internal/log"
	"github.com/ManuGH/cogate/internal/metrics"
	"github.com/ManuGH/cogate/internal/normalize"
	"github.com/ManuGH/cogate/internal/urlutil"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrNoHosts is returned when no source yields any host.
var ErrNoHosts = errors.New("no hosts available")

const hostsKey = "hosts"

// Config configures the lookup.
type Config struct {
	ConsulURL   string        // e.g. http://consul:8500; empty disables Consul
	Prefix      string        // KV prefix whose first child segments are host names
	StaticHosts []string      // used when Consul is disabled or unreachable with nothing cached
	CacheTTL    time.Duration // fresh lifetime of a successful lookup
	Timeout     time.Duration // per attempt
	RetryMax    int
}

// Client looks up hosts.
type Client struct {
	cfg    Config
	http   *retryablehttp.Client
	hosts  *cache.Memory[[]string]
	logger zerolog.Logger
}

// New builds a client. Stop releases the cache janitor.
func New(cfg Config) *Client {
	if cfg.Prefix == "" {
		cfg.Prefix = "o2/hardware/flps/"
	}
	if !strings.HasSuffix(cfg.Prefix, "/") {
		cfg.Prefix += "/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.HTTPClient.Transport = otelhttp.NewTransport(rc.HTTPClient.Transport)
	rc.Logger = stdlog.New(io.Discard, "", stdlog.LstdFlags)
	logger := log.WithComponent("discovery")
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Debug().
				Str("url", urlutil.Sanitize(req.URL.String())).
				Int("attempt", attempt).
				Msg("retrying consul lookup")
		}
	}

	var ttlCache *cache.Memory[[]string]
	if cfg.CacheTTL > 0 {
		ttlCache = cache.NewMemory[[]string](time.Minute, 24*time.Hour)
	}
	return &Client{cfg: cfg, http: rc, hosts: ttlCache, logger: logger}
}

// Hosts returns the current host list, sorted and de-duplicated. A failed
// Consul lookup falls back to the last good answer, then to the static list.
func (c *Client) Hosts(ctx context.Context) ([]string, error) {
	if c.cfg.ConsulURL == "" {
		return c.static()
	}
	if c.hosts != nil {
		if hosts, ok := c.hosts.Get(hostsKey); ok {
			return clone(hosts), nil
		}
	}

	hosts, err := c.fetch(ctx)
	if err == nil {
		if c.hosts != nil {
			c.hosts.Set(hostsKey, hosts, c.cfg.CacheTTL)
		}
		return clone(hosts), nil
	}

	metrics.IncDiscoveryError()
	logger := log.WithContext(ctx, c.logger)
	if c.hosts != nil {
		if stale, ok := c.hosts.Stale(hostsKey); ok {
			logger.Warn().Err(err).Str(log.FieldEvent, "discovery.stale").Msg("consul lookup failed, serving last known hosts")
			return clone(stale), nil
		}
	}
	if len(c.cfg.StaticHosts) > 0 {
		logger.Warn().Err(err).Str(log.FieldEvent, "discovery.static").Msg("consul lookup failed, serving static hosts")
		return c.static()
	}
	return nil, err
}

func (c *Client) static() ([]string, error) {
	hosts := normalize.Hosts(c.cfg.StaticHosts)
	if len(hosts) == 0 {
		return nil, ErrNoHosts
	}
	return hosts, nil
}

func (c *Client) fetch(ctx context.Context) ([]string, error) {
	u, err := url.Parse(strings.TrimRight(c.cfg.ConsulURL, "/") + "/v1/kv/" + c.cfg.Prefix)
	if err != nil {
		return nil, fmt.Errorf("consul url: %w", err)
	}
	q := u.Query()
	q.Set("keys", "true")
	u.RawQuery = q.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("consul lookup: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("consul prefix %s: %w", c.cfg.Prefix, ErrNoHosts)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("consul lookup: unexpected status %d", resp.StatusCode)
	}

	var keys []string
	if err := json.NewDecoder(resp.Body).Decode(&keys); err != nil {
		return nil, fmt.Errorf("decode consul keys: %w", err)
	}
	hosts := HostsFromKeys(c.cfg.Prefix, keys)
	if len(hosts) == 0 {
		return nil, ErrNoHosts
	}
	return hosts, nil
}

// HostsFromKeys extracts the first path segment below prefix of each key.
func HostsFromKeys(prefix string, keys []string) []string {
	var hosts []string
	for _, k := range keys {
		rest, ok := strings.CutPrefix(k, prefix)
		if !ok {
			continue
		}
		host, _, _ := strings.Cut(rest, "/")
		hosts = append(hosts, host)
	}
	return normalize.Hosts(hosts)
}

func clone(in []string) []string {
	return append([]string(nil), in...)
}

// Stop releases background resources.
func (c *Client) Stop() {
	if c.hosts != nil {
		c.hosts.Stop()
	}
}
