// Package config handles gateway configuration: CLI flags, environment
// variables and an optional TOML file.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/api-gateway/config.toml",
	"configs/config.toml",
}

// reservedPaths are gateway routes the metrics endpoint must not shadow.
var reservedPaths = []string{"/api", "/health", "/gateway/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config         string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host           string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port           int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	AuthService    string `kong:"help='Auth service base URL (overrides config).',env='AUTH_SERVICE'"`
	ProductService string `kong:"help='Product service base URL (overrides config).',env='PRODUCT_SERVICE'"`
	LogLevel       string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Upstreams UpstreamsConfig `toml:"upstreams"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Log       LogConfig       `toml:"log"`
	Metrics   MetricsConfig   `toml:"metrics"`

	filePath string // resolved config file path, empty when running on defaults
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string   `toml:"host"`
	Port         int      `toml:"port"` // 0 means "use default" (8080)
	BodyMaxBytes int64    `toml:"body_max_bytes"`
	CORSOrigins  []string `toml:"cors_origins"`
}

// UpstreamsConfig holds the backend service addresses and client settings.
type UpstreamsConfig struct {
	Auth            string `toml:"auth"`
	Product         string `toml:"product"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
}

// RateLimitConfig controls the fixed-window per-client rate limiter.
type RateLimitConfig struct {
	Disabled          bool            `toml:"disabled"`
	WindowSeconds     int             `toml:"window_seconds"`
	MaxRequests       int             `toml:"max_requests"`
	MaxKeys           int             `toml:"max_keys"`
	SweepSeconds      int             `toml:"sweep_seconds"`
	TrustProxyHeaders bool            `toml:"trust_proxy_headers"`
	Stats             RateStatsConfig `toml:"stats"`
}

// RateStatsConfig enables recording of rate limit decisions in Redis.
// Recording is off while RedisAddr is empty.
type RateStatsConfig struct {
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	Prefix        string `toml:"prefix"`
	TTLSeconds    int    `toml:"ttl_seconds"`
	// QueueSize bounds pending writes; decisions beyond it are dropped.
	QueueSize int `toml:"queue_size"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file (if any) and applies CLI overrides.
// An explicit path (--config or CONFIG_PATH) must exist. Without one, the
// search paths are tried and the built-in defaults are used when none exists.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// Default returns a validated configuration built only from defaults.
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.AuthService != "" {
		c.Upstreams.Auth = cli.AuthService
	}
	if cli.ProductService != "" {
		c.Upstreams.Product = cli.ProductService
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	for name, raw := range map[string]string{
		"upstreams.auth":    c.Upstreams.Auth,
		"upstreams.product": c.Upstreams.Product,
	} {
		if raw == "" {
			continue
		}
		if err := validateBaseURL(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstreams.TimeoutSeconds < 0 {
		return fmt.Errorf("upstreams.timeout_seconds must be non-negative; got %d", c.Upstreams.TimeoutSeconds)
	}
	if c.Upstreams.IdleConnections < 0 {
		return fmt.Errorf("upstreams.idle_connections must be non-negative; got %d", c.Upstreams.IdleConnections)
	}

	rl := c.RateLimit
	if rl.WindowSeconds < 0 || rl.MaxRequests < 0 || rl.MaxKeys < 0 || rl.SweepSeconds < 0 {
		return fmt.Errorf("rate_limit: window_seconds, max_requests, max_keys and sweep_seconds must be non-negative")
	}
	if rl.Stats.RedisDB < 0 || rl.Stats.TTLSeconds < 0 || rl.Stats.QueueSize < 0 {
		return fmt.Errorf("rate_limit.stats: redis_db, ttl_seconds and queue_size must be non-negative")
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedPaths {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https; got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

// setDefaults fills zero-valued fields with defaults.
// Zero means "unset" for integer fields because TOML cannot distinguish an
// explicit 0 from an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 100 * 1024
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
	if c.Upstreams.Auth == "" {
		c.Upstreams.Auth = "http://localhost:8001"
	}
	if c.Upstreams.Product == "" {
		c.Upstreams.Product = "http://localhost:8002"
	}
	if c.Upstreams.TimeoutSeconds == 0 {
		c.Upstreams.TimeoutSeconds = 5
	}
	if c.Upstreams.IdleConnections == 0 {
		c.Upstreams.IdleConnections = 100
	}
	if c.RateLimit.WindowSeconds == 0 {
		c.RateLimit.WindowSeconds = 15 * 60
	}
	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = 100
	}
	if c.RateLimit.MaxKeys == 0 {
		c.RateLimit.MaxKeys = 100_000
	}
	if c.RateLimit.SweepSeconds == 0 {
		c.RateLimit.SweepSeconds = 60
	}
	if c.RateLimit.Stats.Prefix == "" {
		c.RateLimit.Stats.Prefix = "gateway:ratelimit"
	}
	if c.RateLimit.Stats.TTLSeconds == 0 {
		c.RateLimit.Stats.TTLSeconds = 24 * 60 * 60
	}
	if c.RateLimit.Stats.QueueSize == 0 {
		c.RateLimit.Stats.QueueSize = 1024
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Timeout returns the per-call upstream timeout.
func (c *UpstreamsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Window returns the rate limit window length.
func (c *RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// SweepEvery returns the interval between expired-window sweeps.
func (c *RateLimitConfig) SweepEvery() time.Duration {
	return time.Duration(c.SweepSeconds) * time.Second
}

// WarnPermissions logs a warning if the config file is readable by group or
// others. The stats section may carry a Redis password.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 && c.RateLimit.Stats.RedisPassword != "" {
		logger.Warn("config file holds a redis password and is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
